package framestack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonux/tracejit/internal/stackspace"
	"github.com/neonux/tracejit/internal/value"
)

type fakeScript struct{ id uint32 }

func (f fakeScript) ScriptID() uint32 { return f.id }

func TestPushInvokeArgsAndFrameRoundtrip(t *testing.T) {
	space := stackspace.New(256)
	cs := New(space)

	eg, err := cs.PushExecuteFrame(fakeScript{1}, value.UndefinedValue(), nil, nil)
	require.NoError(t, err)
	defer eg.Drop()

	depthBefore := space.FirstUnused()

	ag, err := cs.PushInvokeArgs(2)
	require.NoError(t, err)

	fg, err := cs.PushInvokeFrame(ag, fakeScript{2}, nil, value.Int32Value(7))
	require.NoError(t, err)
	require.Equal(t, fakeScript{2}, cs.Regs().FP.Script)

	require.NoError(t, fg.Drop())
	require.NoError(t, ag.Drop()) // no-op since framePushed

	// L3: pushing a frame then popping it returns the stack exactly.
	require.Equal(t, depthBefore, space.FirstUnused())
}

func TestArgsGuardDropWithoutFrame(t *testing.T) {
	space := stackspace.New(64)
	cs := New(space)
	eg, err := cs.PushExecuteFrame(fakeScript{1}, value.UndefinedValue(), nil, nil)
	require.NoError(t, err)
	defer eg.Drop()

	depthBefore := space.FirstUnused()
	ag, err := cs.PushInvokeArgs(3)
	require.NoError(t, err)
	require.NotEqual(t, depthBefore, space.FirstUnused())

	require.NoError(t, ag.Drop())
	require.Equal(t, depthBefore, space.FirstUnused())
}

// S6: cross-segment iteration. A host re-enters the engine from a native
// callback, pushing a new segment whose Prev points into the previous
// segment. Iter must yield frames from the new segment, then (via saved
// regs) frames from the previous segment, with no gaps and no duplicates.
func TestIterCrossSegment(t *testing.T) {
	space := stackspace.New(256)
	cs := New(space)

	outerGuard, err := cs.PushExecuteFrame(fakeScript{1}, value.UndefinedValue(), nil, nil)
	require.NoError(t, err)
	outerFrame := cs.Regs().FP

	// Simulate a re-entrant callback: push a second execute frame whose
	// Prev points at the outer frame, in a fresh segment.
	innerGuard, err := cs.PushExecuteFrame(fakeScript{2}, value.UndefinedValue(), nil, outerFrame)
	require.NoError(t, err)
	innerFrame := cs.Regs().FP
	require.Same(t, outerFrame, innerFrame.Prev)

	it := cs.Iterate()
	var seen []ScriptRef
	for it.Next() {
		seen = append(seen, it.Current().FP.Script)
	}
	require.Equal(t, []ScriptRef{fakeScript{2}, fakeScript{1}}, seen)

	require.NoError(t, innerGuard.Drop())
	require.NoError(t, outerGuard.Drop())
}

// P2: for any frame f reachable via the iterator, (fp, sp, pc) equals the
// saved regs of the segment containing f if f is not the current frame,
// and the live regs otherwise.
func TestP2CurrentVsSavedRegs(t *testing.T) {
	space := stackspace.New(256)
	cs := New(space)

	outerGuard, err := cs.PushExecuteFrame(fakeScript{1}, value.UndefinedValue(), nil, nil)
	require.NoError(t, err)
	cs.regs.PC = 111

	innerGuard, err := cs.PushExecuteFrame(fakeScript{2}, value.UndefinedValue(), nil, cs.regs.FP)
	require.NoError(t, err)
	cs.regs.PC = 222

	it := cs.Iterate()
	require.True(t, it.Next())
	require.Equal(t, uint32(222), it.Current().PC) // current live frame

	require.True(t, it.Next())
	require.Equal(t, uint32(111), it.Current().PC) // saved regs of outer segment

	require.NoError(t, innerGuard.Drop())
	require.NoError(t, outerGuard.Drop())
}

func TestGeneratorFrameFloatingRoundtrip(t *testing.T) {
	space := stackspace.New(256)
	cs := New(space)

	eg, err := cs.PushExecuteFrame(fakeScript{1}, value.UndefinedValue(), nil, nil)
	require.NoError(t, err)
	defer eg.Drop()

	gen := &Frame{Script: fakeScript{3}, LocalsBase: 0, ExprBase: 4, ExprCount: 2}
	MarkGeneratorFloating(gen)
	require.True(t, gen.IsFloating())

	gg, err := cs.PushGeneratorFrame(gen)
	require.NoError(t, err)
	require.False(t, gen.IsFloating())

	gg.Drop()
	require.True(t, gen.IsFloating())
}
