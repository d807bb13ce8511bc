package methodjit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/jitrt"
	"github.com/neonux/tracejit/internal/shapeface"
)

type fakeRepatch struct {
	patches []asmir.CodeLocationLabel
}

func (f *fakeRepatch) RepatchJump(loc asmir.CodeLocationLabel, newTarget uint64) error {
	f.patches = append(f.patches, loc)
	return nil
}
func (f *fakeRepatch) RepatchImmediate(asmir.CodeLocationLabel, int64) error { return nil }
func (f *fakeRepatch) RepatchLoadToLEA(asmir.CodeLocationLabel) error        { return nil }
func (f *fakeRepatch) RepatchLEAToLoad(asmir.CodeLocationLabel) error        { return nil }

func TestNewCacheMarksWriteBarrierOnlyForSetKinds(t *testing.T) {
	require.True(t, NewCache(ICSet, nil, 4, 4).NeedsWriteBarrier)
	require.True(t, NewCache(ICSetElem, nil, 4, 4).NeedsWriteBarrier)
	require.False(t, NewCache(ICGet, nil, 4, 4).NeedsWriteBarrier)
	require.False(t, NewCache(ICGetElem, nil, 4, 4).NeedsWriteBarrier)
	require.False(t, NewCache(ICCall, nil, 4, 4).NeedsWriteBarrier)
}

func TestAttachStubChainsAndPatches(t *testing.T) {
	rb := &fakeRepatch{}
	c := NewCache(ICGet, rb, 16, 8)

	res := shapeface.ProbeResult{Found: true, Offset: 4}
	stub, err := c.AttachStub(shapeface.ShapeID(1), res, asmir.CodeLocationLabel{Offset: 100})
	require.NoError(t, err)
	require.NotNil(t, stub)
	require.Equal(t, 1, c.StubCount())
	require.Len(t, rb.patches, 1)

	_, err = c.AttachStub(shapeface.ShapeID(2), res, asmir.CodeLocationLabel{Offset: 200})
	require.NoError(t, err)
	require.Equal(t, 2, c.StubCount())
	// Second attach patches the previous stub's entry, not the inline guard.
	require.Equal(t, asmir.CodeLocationLabel{Offset: 100}, rb.patches[1])
}

func TestAttachStubRejectsPastCap(t *testing.T) {
	rb := &fakeRepatch{}
	c := NewCache(ICGet, rb, 1, 8)
	res := shapeface.ProbeResult{Found: true, Offset: 4}

	_, err := c.AttachStub(shapeface.ShapeID(1), res, asmir.CodeLocationLabel{Offset: 10})
	require.NoError(t, err)

	_, err = c.AttachStub(shapeface.ShapeID(2), res, asmir.CodeLocationLabel{Offset: 20})
	require.ErrorIs(t, err, jitrt.ErrStubChainFull)
}

func TestResetReturnsToInlineOnlyState(t *testing.T) {
	rb := &fakeRepatch{}
	c := NewCache(ICGet, rb, 16, 8)
	res := shapeface.ProbeResult{Found: true, Offset: 4}
	c.AttachStub(shapeface.ShapeID(1), res, asmir.CodeLocationLabel{Offset: 10})

	c.Reset()
	require.Equal(t, 0, c.StubCount())
	require.Equal(t, shapeface.InvalidShape, c.LastShape)
}

// P7: after any sequence of hits and misses, reading via the IC yields
// the same value the non-cached lookup would.
func TestLookupConsistencyAcrossHitsAndMisses(t *testing.T) {
	rb := &fakeRepatch{}
	c := NewCache(ICGet, rb, 16, 8)
	shapes := map[shapeface.ShapeID]shapeface.SlotOffset{1: 4, 2: 8, 3: 12}

	for shape, offset := range shapes {
		res := shapeface.ProbeResult{Found: true, Offset: offset}
		_, err := c.AttachStub(shape, res, asmir.CodeLocationLabel{Offset: uint64(offset)})
		require.NoError(t, err)
	}
	for shape, offset := range shapes {
		got, ok := c.Lookup(shape)
		require.True(t, ok)
		require.Equal(t, offset, got)
	}
	_, ok := c.Lookup(shapeface.ShapeID(999))
	require.False(t, ok)
}
