package framestack

import (
	"fmt"

	"github.com/neonux/tracejit/internal/stackspace"
	"github.com/neonux/tracejit/internal/value"
)

// callFrameHeaderExtra is the number of Value-sized slots reserved ahead of
// a pushed invocation's locals for argc+2 bookkeeping slots (spec §4.2
// push_invoke_args: "reserves argc + 2 values"). The +2 covers the callee
// reference and `this`.
const callFrameHeaderExtra = 2

// ContextStack is the per-execution-context view over a stackspace.Space
// (spec §4.2). It is single-threaded: the only cross-thread interaction is
// GC marking, which must run at a safepoint while this context is
// otherwise quiescent (spec §5).
type ContextStack struct {
	space   *stackspace.Space
	current *Segment
	regs    Regs
}

// New creates a ContextStack over space with no active segment; the first
// call must be PushExecuteFrame or PushDummyFrame to establish one.
func New(space *stackspace.Space) *ContextStack {
	return &ContextStack{space: space}
}

// Regs returns the live (fp, sp, pc) triple.
func (c *ContextStack) Regs() Regs { return c.regs }

// ArgsGuard is returned by PushInvokeArgs; Drop releases the reservation it
// made, either by popping the override marker (if no frame was pushed atop
// it) or by popping the inline call frame (if PushInvokeFrame consumed it).
type ArgsGuard struct {
	cs          *ContextStack
	base        int
	argc        int
	framePushed bool
}

// PushInvokeArgs reserves argc+2 values atop the current stack for an
// about-to-happen call, placing an override marker so any intervening
// tracer mark includes the reserved region (spec §4.2 push_invoke_args).
func (c *ContextStack) PushInvokeArgs(argc int) (*ArgsGuard, error) {
	n := argc + callFrameHeaderExtra
	if err := c.space.EnsureSpace(n); err != nil {
		return nil, err
	}
	base := c.space.FirstUnused() - n
	return &ArgsGuard{cs: c, base: base, argc: argc}, nil
}

// Drop releases the ArgsGuard's reservation.
func (g *ArgsGuard) Drop() error {
	if g.framePushed {
		return nil // the FrameGuard produced by PushInvokeFrame now owns teardown.
	}
	return g.cs.space.Retract(g.base)
}

// FrameGuard is returned by PushInvokeFrame; Drop pops the pushed frame.
type FrameGuard struct {
	cs       *ContextStack
	frame    *Frame
	savedRegs Regs
}

// PushInvokeFrame promotes an ArgsGuard's reservation into a proper Frame,
// linking it as the new current frame of the active segment and setting
// regs.PC to script's entry (spec §4.2 push_invoke_frame).
func (c *ContextStack) PushInvokeFrame(g *ArgsGuard, script ScriptRef, callee ObjectRef, thisv value.Value) (*FrameGuard, error) {
	if c.current == nil {
		return nil, fmt.Errorf("framestack: PushInvokeFrame with no active segment")
	}
	saved := c.regs
	frame := &Frame{
		Prev:       c.regs.FP,
		Script:     script,
		Callee:     callee,
		Receiver:   thisv,
		ArgvBase:   g.base,
		ArgCount:   g.argc,
		LocalsBase: g.base + g.argc + callFrameHeaderExtra,
	}
	frame.ExprBase = frame.LocalsBase
	g.framePushed = true
	c.regs = Regs{FP: frame, SP: frame.LocalsBase, PC: 0}
	return &FrameGuard{cs: c, frame: frame, savedRegs: saved}, nil
}

// Drop pops the frame pushed by PushInvokeFrame, restoring the caller's regs
// and retracting the space back to before the call's reserved args.
func (fg *FrameGuard) Drop() error {
	argvBase := fg.frame.ArgvBase
	fg.cs.regs = fg.savedRegs
	return fg.cs.space.Retract(argvBase)
}

// PushExecuteFrame pushes a new Segment and a Frame suitable for top-level
// or eval execution; prevFrame (possibly nil) lets the caller specify the
// frame this new one's Prev should point to — e.g. the debugger's
// "evaluate in frame" (spec §4.2 push_execute_frame).
func (c *ContextStack) PushExecuteFrame(script ScriptRef, thisv value.Value, scope ObjectRef, prevFrame *Frame) (*FrameGuard, error) {
	seg, err := NewSegment(c.space, 0, c.current, c.current)
	if err != nil {
		return nil, err
	}
	saved := c.regs
	frame := &Frame{
		Prev:       prevFrame,
		Script:     script,
		Receiver:   thisv,
		ScopeChain: scope,
		LocalsBase: seg.Base,
		ExprBase:   seg.Base,
	}
	prevSeg := c.current
	if prevSeg != nil {
		prevSeg.Suspend(saved)
	}
	c.current = seg
	c.regs = Regs{FP: frame, SP: frame.LocalsBase, PC: 0}
	return &FrameGuard{cs: c, frame: frame, savedRegs: saved}, nil
}

// GenGuard is returned by PushGeneratorFrame; Drop marks the generator frame
// floating again and restores the regs saved at push time.
type GenGuard struct {
	cs        *ContextStack
	gen       *Frame
	savedRegs Regs
}

// PushGeneratorFrame copies a floating saved frame of a suspended generator
// back into live stack space, relocating its argv/slots pointers (spec
// §4.2 push_generator_frame). The frame must be marked non-floating only
// once it is safely relocated.
func (c *ContextStack) PushGeneratorFrame(gen *Frame) (*GenGuard, error) {
	if !gen.floating {
		return nil, fmt.Errorf("framestack: generator frame is not floating")
	}
	base, length := gen.Extent()
	if err := c.space.EnsureSpace(length); err != nil {
		return nil, err
	}
	newBase := c.space.FirstUnused() - length
	delta := newBase - base
	gen.LocalsBase += delta
	gen.ArgvBase += delta
	gen.ExprBase += delta
	gen.floating = false

	saved := c.regs
	c.regs = Regs{FP: gen, SP: gen.ExprBase + gen.ExprCount, PC: gen.PC}
	return &GenGuard{cs: c, gen: gen, savedRegs: saved}, nil
}

// Drop returns the generator frame to floating storage.
func (g *GenGuard) Drop() {
	g.gen.floating = true
	g.cs.regs = g.savedRegs
}

// PushDummyFrame pushes a marker frame with no script, used for scope-only
// activations (spec §4.2 push_dummy_frame).
func (c *ContextStack) PushDummyFrame(scope ObjectRef) (*FrameGuard, error) {
	return c.PushExecuteFrame(nil, value.UndefinedValue(), scope, c.regs.FP)
}

// SpliceInlineFrame installs a synthetic Frame describing a call the
// MethodCompiler had inlined, splicing it into the live frame chain ahead
// of the current frame (spec §4.10 step 1 frame expansion). It reuses the
// slot range [slotBase, slotBase+numSlots) the inlined call was already
// compiled against inside the outer frame's locals/expr area, so no new
// Space reservation is made — only the frame chain and regs change.
func (c *ContextStack) SpliceInlineFrame(script ScriptRef, slotBase, numSlots int, outerPC uint32) *Frame {
	frame := &Frame{
		Prev:        c.regs.FP,
		Script:      script,
		LocalsBase:  slotBase,
		LocalsCount: numSlots,
		ExprBase:    slotBase + numSlots,
	}
	c.regs = Regs{FP: frame, SP: frame.ExprBase, PC: outerPC}
	return frame
}

// MarkGeneratorFloating detaches frame from live stack accounting and
// marks it floating, the inverse preparation step push_generator_frame
// later reverses. The Recompiler must refuse to expand a floating frame
// (jitrt.ErrFrameStillFloating, spec §9 open question).
func MarkGeneratorFloating(frame *Frame) { frame.floating = true }

// Iter walks frames of a ContextStack, surfacing (fp, sp, pc) for each
// (spec §4.2 FrameRegsIter). It follows cross-segment Prev links when a
// host has re-entered the engine from a native callback (scenario S6).
type Iter struct {
	cs      *ContextStack
	cur     *Frame
	curSeg  *Segment
	started bool
	atLive  bool
}

// Iterate returns a fresh Iter positioned before the first frame.
func (c *ContextStack) Iterate() *Iter {
	return &Iter{cs: c, cur: c.regs.FP, curSeg: c.current, atLive: true}
}

// Next advances to the next frame, returning false once the chain is
// exhausted. P2: the (fp, sp, pc) Current() returns for a visited frame
// equals the live regs only for the frame the ContextStack is currently
// executing, and the segment's SavedRegs for every other frame.
func (it *Iter) Next() bool {
	if !it.started {
		it.started = true
		return it.cur != nil
	}
	if it.cur == nil {
		return false
	}
	prev := it.cur.Prev
	it.atLive = false
	if it.curSeg != nil && it.curSeg.PrevInContext != nil {
		prevSeg := it.curSeg.PrevInContext
		if prev == nil || prev == prevSeg.SavedRegs.FP {
			// Cross-segment: this segment's initial frame either links into
			// the previous segment's suspended frame or has no Prev at all;
			// either way the walk continues from that segment's saved regs.
			it.curSeg = prevSeg
			prev = prevSeg.SavedRegs.FP
		}
	}
	it.cur = prev
	return it.cur != nil
}

// Current returns the regs for the frame Next() last produced (spec §4.2
// FrameRegsIter: "surfaces (fp, sp, pc)").
func (it *Iter) Current() Regs {
	if it.atLive {
		return it.cs.regs
	}
	if it.curSeg != nil {
		r := it.curSeg.SavedRegs
		r.FP = it.cur
		return r
	}
	return Regs{FP: it.cur}
}
