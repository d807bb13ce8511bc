// Package value implements the tagged Value model shared by TraceJIT and
// MethodJIT (spec §3). Two concrete encodings are supported behind the same
// interface: Nunbox (a 32-bit tag adjacent to a 32-bit payload) and Punbox
// (a 64-bit word, payload in the low bits, tag in the high bits) — the
// historical "nunbox"/"punbox" schemes. Both tiers share the one in-Go
// Value type; the Encoding selected in EngineConfig only decides the
// native-frame bit layout that Encode and Decode produce and read.
package value

import "math"

// Tag classifies a Value's variant.
type Tag uint8

const (
	TagInt32 Tag = iota
	TagDouble
	TagString
	TagObject
	TagFunction
	TagBoolean
	TagNull
	TagUndefined
	// TagMagic is an internal sentinel: generator-closing, array-hole, etc.
	TagMagic
)

func (t Tag) String() string {
	switch t {
	case TagInt32:
		return "int32"
	case TagDouble:
		return "double"
	case TagString:
		return "string"
	case TagObject:
		return "object"
	case TagFunction:
		return "function"
	case TagBoolean:
		return "boolean"
	case TagNull:
		return "null"
	case TagUndefined:
		return "undefined"
	case TagMagic:
		return "magic"
	default:
		return "unknown"
	}
}

// Magic enumerates the internal sentinel sub-kinds carried by TagMagic.
type Magic uint8

const (
	MagicArrayHole Magic = iota
	MagicGeneratorClosing
)

// Value is a tagged datum produced and consumed by a particular Encoding.
// The zero Value is the int32 0, since TagInt32 is the zero Tag.
type Value struct {
	tag     Tag
	payload uint64 // int32 bits, float64 bits, or a pointer-sized object id
	magic   Magic
}

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNumber() bool { return v.tag == TagInt32 || v.tag == TagDouble }

// Int32 returns the payload reinterpreted as int32. Only valid if Tag() == TagInt32.
func (v Value) Int32() int32 { return int32(v.payload) }

// Double returns the payload reinterpreted as float64. Only valid if Tag() == TagDouble.
func (v Value) Double() float64 { return math.Float64frombits(v.payload) }

// ObjectID returns the payload as an opaque object identity. Only valid if
// Tag() is TagString, TagObject or TagFunction.
func (v Value) ObjectID() uintptr { return uintptr(v.payload) }

func (v Value) MagicKind() Magic { return v.magic }

// Int32Value boxes a raw int32 payload.
func Int32Value(i int32) Value { return Value{tag: TagInt32, payload: uint64(uint32(i))} }

// DoubleValue boxes a raw float64 payload.
func DoubleValue(f float64) Value { return Value{tag: TagDouble, payload: math.Float64bits(f)} }

// BooleanValue boxes a bool.
func BooleanValue(b bool) Value {
	var p uint64
	if b {
		p = 1
	}
	return Value{tag: TagBoolean, payload: p}
}

// NullValue returns the singleton null Value.
func NullValue() Value { return Value{tag: TagNull} }

// UndefinedValue returns the singleton undefined Value.
func UndefinedValue() Value { return Value{tag: TagUndefined} }

// MagicValue boxes an internal sentinel.
func MagicValue(m Magic) Value { return Value{tag: TagMagic, magic: m} }

// ObjectValue boxes an object reference (function or non-function, chosen by fn).
func ObjectValue(id uintptr, fn bool) Value {
	t := TagObject
	if fn {
		t = TagFunction
	}
	return Value{tag: t, payload: uint64(id)}
}

// StringValue boxes a string reference.
func StringValue(id uintptr) Value { return Value{tag: TagString, payload: uint64(id)} }

// Box turns a typed payload into a Value given its runtime tag. It is the
// general entrypoint used when the concrete type is only known dynamically
// (e.g. reconstructing a Value after a trace side-exit from a raw native
// frame buffer, see internal/trace).
func Box(tag Tag, raw uint64) Value {
	return Value{tag: tag, payload: raw}
}

// Unbox extracts the raw payload bits given a known or guarded tag. The
// caller is responsible for having proven (via a guard, or by construction)
// that v.Tag() == tag; Unbox itself does not check.
func Unbox(v Value, tag Tag) uint64 {
	return v.payload
}

// L1: box(unbox(v, tag(v))) == v for every Value v (spec §8 Round-trip laws).
func Roundtrip(v Value) Value {
	return Box(v.Tag(), Unbox(v, v.Tag()))
}

// CoerceToNumber implements the interpreter value operation of the same
// name: int32 and double pass through unchanged; boolean becomes 0/1;
// null becomes 0; everything else (string/object/undefined/magic) is left
// to the caller's slow path (ToNumber is observable and can call into
// user code for objects), so CoerceToNumber only handles the fast,
// side-effect-free cases and reports ok=false otherwise.
func CoerceToNumber(v Value) (f float64, ok bool) {
	switch v.tag {
	case TagInt32:
		return float64(v.Int32()), true
	case TagDouble:
		return v.Double(), true
	case TagBoolean:
		if v.payload != 0 {
			return 1, true
		}
		return 0, true
	case TagNull:
		return 0, true
	default:
		return 0, false
	}
}

// CoerceToBoolean implements ToBoolean for the tags that never trigger
// observable side effects.
func CoerceToBoolean(v Value) bool {
	switch v.tag {
	case TagInt32:
		return v.Int32() != 0
	case TagDouble:
		d := v.Double()
		return d != 0 && !math.IsNaN(d)
	case TagBoolean:
		return v.payload != 0
	case TagNull, TagUndefined:
		return false
	default:
		// Strings/objects are truthy unless empty; that check requires the
		// shape/slot collaborator, so callers route through shapeface.
		return true
	}
}

// StructuralEqual implements the structural-equality value operation for
// strings and numbers (spec §3). Objects compare by identity elsewhere.
func StructuralEqual(a, b Value) bool {
	if a.tag != b.tag {
		// int32 vs double: compare numerically, mirroring ECMAScript's
		// numeric abstract equality for same-Number-type operands.
		if a.IsNumber() && b.IsNumber() {
			af, _ := CoerceToNumber(a)
			bf, _ := CoerceToNumber(b)
			return af == bf
		}
		return false
	}
	switch a.tag {
	case TagInt32, TagDouble, TagBoolean, TagString:
		return a.payload == b.payload
	case TagNull, TagUndefined:
		return true
	case TagMagic:
		return a.magic == b.magic
	default:
		return a.payload == b.payload
	}
}

// IsPromotableInt reports whether a double-tagged Value holds an integer
// magnitude that fits an int32 exactly (spec §4.5 "promote/demote"). This
// is the operation the TraceRecorder calls when deriving its entry type
// map, subject to Oracle overrides.
func IsPromotableInt(f float64) (int32, bool) {
	i := int32(f)
	if float64(i) == f && !(f == 0 && math.Signbit(f)) {
		return i, true
	}
	return 0, false
}
