package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundtripLaw(t *testing.T) {
	// L1: box(unbox(v, tag(v))) == v for every Value v.
	vs := []Value{
		Int32Value(42),
		Int32Value(-7),
		DoubleValue(3.5),
		BooleanValue(true),
		BooleanValue(false),
		NullValue(),
		UndefinedValue(),
		MagicValue(MagicArrayHole),
		ObjectValue(0xdeadbeef, false),
		ObjectValue(0xcafef00d, true),
		StringValue(0x1234),
	}
	for _, v := range vs {
		require.Equal(t, v, Roundtrip(v))
	}
}

func TestCoerceToNumber(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want float64
		ok   bool
	}{
		{"int32", Int32Value(5), 5, true},
		{"double", DoubleValue(2.5), 2.5, true},
		{"true", BooleanValue(true), 1, true},
		{"false", BooleanValue(false), 0, true},
		{"null", NullValue(), 0, true},
		{"undefined", UndefinedValue(), 0, false},
		{"object", ObjectValue(1, false), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceToNumber(tt.v)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCoerceToBoolean(t *testing.T) {
	require.True(t, CoerceToBoolean(Int32Value(1)))
	require.False(t, CoerceToBoolean(Int32Value(0)))
	require.False(t, CoerceToBoolean(DoubleValue(0)))
	require.True(t, CoerceToBoolean(DoubleValue(1.5)))
	require.False(t, CoerceToBoolean(NullValue()))
	require.False(t, CoerceToBoolean(UndefinedValue()))
	require.True(t, CoerceToBoolean(BooleanValue(true)))
}

func TestStructuralEqual(t *testing.T) {
	require.True(t, StructuralEqual(Int32Value(3), DoubleValue(3)))
	require.False(t, StructuralEqual(Int32Value(3), DoubleValue(3.5)))
	require.True(t, StructuralEqual(NullValue(), NullValue()))
	require.False(t, StructuralEqual(NullValue(), UndefinedValue()))
	require.True(t, StructuralEqual(StringValue(7), StringValue(7)))
	require.False(t, StructuralEqual(StringValue(7), StringValue(8)))
}

func TestIsPromotableInt(t *testing.T) {
	i, ok := IsPromotableInt(5.0)
	require.True(t, ok)
	require.EqualValues(t, 5, i)

	_, ok = IsPromotableInt(5.5)
	require.False(t, ok)

	// Negative zero must not be considered promotable: a trace that demotes
	// -0.0 to int 0 would lose the sign on any later re-promotion.
	_, ok = IsPromotableInt(negZero())
	require.False(t, ok)
}

func negZero() float64 {
	var z float64
	return -z
}

func TestEncodingRoundtrip(t *testing.T) {
	for _, enc := range []Encoding{Nunbox, Punbox} {
		t.Run(enc.String(), func(t *testing.T) {
			v := Int32Value(123)
			word := enc.Encode(v)
			got := enc.Decode(word)
			require.Equal(t, v.Tag(), got.Tag())
			require.Equal(t, v.Int32(), got.Int32())
		})
	}
}
