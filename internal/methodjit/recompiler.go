package methodjit

import (
	"github.com/neonux/tracejit/internal/framestack"
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/jitrt"
)

// scriptRefAdapter bridges interpface.Script (ID() uint32) to
// framestack.ScriptRef (ScriptID() uint32): the two packages were grounded
// on different teacher seams and never unified their script-identity
// accessor name.
type scriptRefAdapter struct {
	script interpface.Script
}

func (s scriptRefAdapter) ScriptID() uint32 { return s.script.ID() }

// RejoinKind is the enum carried by a stub-site rejoin (spec §4.10 step 2
// "the stub rejoin state (an enum kind)"), distinct from a scripted
// rejoin which instead carries a bare pc offset.
type RejoinKind uint8

const (
	RejoinNone RejoinKind = iota
	RejoinResumeAfterCall
	RejoinResumeAfterTrap
	RejoinResumeAfterNative
)

// InlineFrameDescriptor is what the compiler saves at an inlined call
// site so the Recompiler can later synthesize a real StackFrame for it
// (spec §4.10 step 1): the inlined script, its slot-area layout within
// the outer frame, and the outer call's own PC.
type InlineFrameDescriptor struct {
	Script     interpface.Script
	SlotOffset int
	NumSlots   int
	OuterPC    interpface.PC
}

// ExpandAllOrTopmost selects the scope of frame expansion spec §6 names
// (expand_inline_frames(context, all_or_topmost)).
type ExpandAllOrTopmost uint8

const (
	ExpandTopmostOnly ExpandAllOrTopmost = iota
	ExpandAll
)

// Compartment groups the counters spec §4.10 tracks ("Bump counters:
// recompilations and frame_expansions on each compartment, consulted by
// later IC patches to determine whether a cached code pointer is still
// valid").
type Compartment struct {
	Recompilations  uint64
	FrameExpansions uint64
}

// OrphanedPool is an executable pool transferred to the context rather
// than freed immediately, because a suspended frame is inside an
// in-progress native call through it (spec §4.10 step 3).
type OrphanedPool struct {
	ScriptID uint32
	Released bool
}

// Recompiler implements spec §4.10's protocol: frame expansion, return
// address patching, native-call orphaning, scripted-call IC unlinking,
// and code release.
type Recompiler struct {
	compartment *Compartment
	log         jitlog.Logger
	orphans     []*OrphanedPool
}

func NewRecompiler(c *Compartment, log jitlog.Logger) *Recompiler {
	return &Recompiler{compartment: c, log: log}
}

// ExpandInlineFrames performs step 1: for every on-stack frame whose
// native return address indicates it returned from (or is currently
// inside) an inlined call, synthesize a real framestack.Frame allocated
// inline in the existing frame's slot area, linking it into the frame
// chain. A generator frame that is currently floating (spec §9 open
// question) refuses expansion rather than guessing at relocation
// semantics — it returns jitrt.ErrFrameStillFloating for that one frame
// and continues with the rest.
func (rc *Recompiler) ExpandInlineFrames(ctx *framestack.ContextStack, desc []InlineFrameDescriptor, scope ExpandAllOrTopmost) error {
	var firstErr error
	n := len(desc)
	if scope == ExpandTopmostOnly && n > 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if err := rc.expandOne(ctx, desc[i]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rc.compartment.FrameExpansions++
	}
	return firstErr
}

func (rc *Recompiler) expandOne(ctx *framestack.ContextStack, d InlineFrameDescriptor) error {
	cur := ctx.Regs().FP
	if cur == nil {
		return nil
	}
	if cur.IsFloating() {
		return jitrt.ErrFrameStillFloating
	}
	ctx.SpliceInlineFrame(scriptRefAdapter{d.Script}, d.SlotOffset, d.NumSlots, uint32(d.OuterPC))
	return nil
}

// PatchReturnAddresses performs step 2's call-site classification: for
// every CallSite of oldScript it calls patch with the RejoinKind its id
// maps to. It does not walk the frame stack itself; rewriting a return
// address to the interpoline trampoline is left to the patch callback,
// which is invoked for every call site whether or not a live frame
// returns into it.
func (rc *Recompiler) PatchReturnAddresses(oldScript *JITScript, patch func(site CallSite, kind RejoinKind)) {
	for _, site := range oldScript.CallSites {
		kind := RejoinNone
		switch site.ID {
		case CallSiteTrap:
			kind = RejoinResumeAfterTrap
		case CallSiteNativeCall:
			kind = RejoinResumeAfterNative
		case CallSiteReturnFromScripted, CallSiteVariadicRejoin:
			kind = RejoinResumeAfterCall
		}
		patch(site, kind)
	}
	rc.log.Logf(jitlog.ScopeRecompiler, "patched %d call sites for script=%d", len(oldScript.CallSites), oldScript.ScriptID)
}

// OrphanNativeCall performs step 3: a suspended frame inside an
// in-progress native call keeps its IC stub's executable pool alive until
// the call returns, rather than freeing it out from under the running
// call.
func (rc *Recompiler) OrphanNativeCall(scriptID uint32) *OrphanedPool {
	pool := &OrphanedPool{ScriptID: scriptID}
	rc.orphans = append(rc.orphans, pool)
	return pool
}

// ReleaseOrphan is called once the native call the orphan protected has
// returned.
func (rc *Recompiler) ReleaseOrphan(pool *OrphanedPool) {
	pool.Released = true
	for i, p := range rc.orphans {
		if p == pool {
			rc.orphans = append(rc.orphans[:i], rc.orphans[i+1:]...)
			break
		}
	}
}

// UnlinkCallerICs performs step 4: every caller IC that points at the
// recompiled script is reset to its initial (uncached) state.
func (rc *Recompiler) UnlinkCallerICs(callerICs []*Cache) {
	for _, c := range callerICs {
		c.Reset()
	}
}

// ReleaseCode performs step 5: release the old JITScript's executable
// pools and reset its use counter so warmup must be re-earned, unless
// hotness itself triggered the recompile.
func (rc *Recompiler) ReleaseCode(old *JITScript, triggeredByHotness bool) error {
	if old.Page != nil {
		if err := old.Page.Release(); err != nil {
			return err
		}
	}
	if !triggeredByHotness {
		old.UseCounter = 0
	}
	rc.compartment.Recompilations++
	rc.log.Logf(jitlog.ScopeRecompiler, "released code for script=%d (recompilations=%d)", old.ScriptID, rc.compartment.Recompilations)
	return nil
}

// Recompile runs frame expansion, call-site patching (with a no-op patch
// callback), caller IC unlinking and code release for one script.
// Native-call orphaning (OrphanNativeCall) is not part of it.
func (rc *Recompiler) Recompile(ctx *framestack.ContextStack, old *JITScript, desc []InlineFrameDescriptor, callerICs []*Cache, triggeredByHotness bool) error {
	expandErr := rc.ExpandInlineFrames(ctx, desc, ExpandAll)
	rc.PatchReturnAddresses(old, func(CallSite, RejoinKind) {})
	rc.UnlinkCallerICs(callerICs)
	if err := rc.ReleaseCode(old, triggeredByHotness); err != nil {
		return err
	}
	return expandErr
}
