package methodjit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/codecache"
	"github.com/neonux/tracejit/internal/framestack"
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/jitrt"
	"github.com/neonux/tracejit/internal/shapeface"
	"github.com/neonux/tracejit/internal/stackspace"
)

type fakeInlinedScript struct{ id uint32 }

func (f fakeInlinedScript) ID() uint32                                 { return f.id }
func (f fakeInlinedScript) OpcodeAt(pc interpface.PC) interpface.Opcode { return interpface.OpUnknown }
func (f fakeInlinedScript) NumSlots() int                               { return 4 }
func (f fakeInlinedScript) NumArgs() int                                { return 0 }

func TestPatchReturnAddressesVisitsEveryCallSite(t *testing.T) {
	comp := &Compartment{}
	rc := NewRecompiler(comp, jitlog.Discard)

	js := &JITScript{CallSites: []CallSite{
		{ID: CallSiteTrap},
		{ID: CallSiteNativeCall},
		{ID: CallSiteReturnFromScripted},
	}}

	var kinds []RejoinKind
	rc.PatchReturnAddresses(js, func(site CallSite, kind RejoinKind) {
		kinds = append(kinds, kind)
	})
	require.Equal(t, []RejoinKind{RejoinResumeAfterTrap, RejoinResumeAfterNative, RejoinResumeAfterCall}, kinds)
}

func TestUnlinkCallerICsResetsEachCache(t *testing.T) {
	rc := NewRecompiler(&Compartment{}, jitlog.Discard)
	c1 := NewCache(ICGet, nil, 16, 8)
	_, err := c1.AttachStub(shapeface.ShapeID(1), shapeface.ProbeResult{Found: true, Offset: 4}, asmir.CodeLocationLabel{Offset: 10})
	require.NoError(t, err)
	require.Equal(t, 1, c1.StubCount())

	rc.UnlinkCallerICs([]*Cache{c1})
	require.Equal(t, 0, c1.StubCount())
}

func TestOrphanAndReleaseRoundtrip(t *testing.T) {
	rc := NewRecompiler(&Compartment{}, jitlog.Discard)
	pool := rc.OrphanNativeCall(7)
	require.False(t, pool.Released)
	require.Len(t, rc.orphans, 1)

	rc.ReleaseOrphan(pool)
	require.True(t, pool.Released)
	require.Len(t, rc.orphans, 0)
}

func TestReleaseCodeResetsUseCounterUnlessHot(t *testing.T) {
	page, err := codecache.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, page.MakeExecutable())

	rc := NewRecompiler(&Compartment{}, jitlog.Discard)
	js := &JITScript{Page: page, UseCounter: 99}

	require.NoError(t, rc.ReleaseCode(js, false))
	require.Equal(t, uint32(0), js.UseCounter)
	require.Equal(t, uint64(1), rc.compartment.Recompilations)
}

func TestExpandInlineFramesRefusesFloatingFrame(t *testing.T) {
	space := stackspace.New(4096)
	ctx := framestack.New(space)

	_, err := ctx.PushDummyFrame(nil)
	require.NoError(t, err)

	framestack.MarkGeneratorFloating(ctx.Regs().FP)

	rc := NewRecompiler(&Compartment{}, jitlog.Discard)
	err = rc.ExpandInlineFrames(ctx, []InlineFrameDescriptor{{}}, ExpandAll)
	require.ErrorIs(t, err, jitrt.ErrFrameStillFloating)
}

func TestExpandInlineFramesSplicesSyntheticFrame(t *testing.T) {
	space := stackspace.New(4096)
	ctx := framestack.New(space)

	_, err := ctx.PushDummyFrame(nil)
	require.NoError(t, err)
	outer := ctx.Regs().FP

	comp := &Compartment{}
	rc := NewRecompiler(comp, jitlog.Discard)

	desc := InlineFrameDescriptor{
		Script:     fakeInlinedScript{id: 9},
		SlotOffset: 3,
		NumSlots:   2,
		OuterPC:    42,
	}
	err = rc.ExpandInlineFrames(ctx, []InlineFrameDescriptor{desc}, ExpandAll)
	require.NoError(t, err)
	require.Equal(t, uint64(1), comp.FrameExpansions)

	inlined := ctx.Regs().FP
	require.NotEqual(t, outer, inlined)
	require.Equal(t, outer, inlined.Prev)
	base, length := inlined.Extent()
	require.Equal(t, 3, base)
	require.Equal(t, 2, length)
}
