package trace

import (
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/value"
)

// SlotType is one entry of a Fragment's entry or exit type map (spec §4.5
// "Type map derivation"): a slot's coerced tag plus whether a double slot
// is additionally known promotable to int32.
type SlotType struct {
	Tag       value.Tag
	Promotable bool
}

// TypeMap is the full per-slot type vector a Fragment's entry guards (or
// a SideExit's exit guards) assert.
type TypeMap []SlotType

// Equal reports whether two type maps agree slot-for-slot — the check
// close_loop performs against the entry map (spec §4.5).
func (m TypeMap) Equal(other TypeMap) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if m[i] != other[i] {
			return false
		}
	}
	return true
}

// SideExit is the guard payload: where the interpreter must resume and
// what shape the live slots have at that point (spec §4.5 "Guard and
// snapshot").
type SideExit struct {
	Kind       GuardExitKind
	PC         interpface.PC
	ExitTypes  TypeMap
	SPAdjust   int
	HitCount   uint32
	// Extension is the child Fragment this guard has been patched to
	// branch to after tree extension (spec §4.5 "Tree linking"); nil until
	// extension happens.
	Extension *Fragment
}

// GuardExitKind mirrors jitrt.GuardExitKind's cases relevant to a trace
// guard as a package-local type; Monitor hands the SideExit back as is and
// does not convert it to a jitrt error.
type GuardExitKind uint8

const (
	ExitBranch GuardExitKind = iota
	ExitLoop
	ExitOverflow
	ExitOutOfMemory
	ExitTypeMismatch
)

// FragmentState tracks a Fragment's lifecycle (spec §3 Lifecycles:
// "created on first record-attempt at a PC; destroyed on global cache
// flush or targeted trash on recompile").
type FragmentState uint8

const (
	FragmentPending FragmentState = iota // seen, not yet hot enough to record
	FragmentRecording
	FragmentCompiled
	FragmentBlacklisted
)

// Fragment is one compiled (or in-progress) trace, anchored at entry PC.
type Fragment struct {
	EntryPC    interpface.PC
	ScriptID   uint32
	State      FragmentState
	EntryTypes TypeMap

	// Code is the linked native entry point once State == FragmentCompiled.
	// Represented as an opaque function value rather than a raw pointer:
	// the Assembler IR stage (internal/asmir) is what actually produces
	// callable native code; this package only models the trace above it.
	Code func(nativeFrame []value.Value) *SideExit

	buf *Buffer

	// Guards lists every guard instruction emitted into buf, in emission
	// order, so TraceMonitor can look one up by index when reporting a
	// branch-exit for possible tree extension.
	Guards []Ref

	// blacklistCounter decays toward zero on successive aborts and is
	// compared against a threshold before State flips to
	// FragmentBlacklisted (supplemented from the original engine's
	// decaying abort counter — see SPEC_FULL.md SUPPLEMENTED FEATURES:
	// "Blacklist counter decay").
	blacklistCounter int32

	// children are fragments created by tree extension at one of Guards;
	// parallel-indexed is unnecessary since SideExit.Extension already
	// holds the forward link — children is kept for cache invalidation on
	// flush (walking from roots).
	children []*Fragment

	// parent and parentGuard record the fragment and guard this fragment
	// was attached to by ExtendAt; nil/zero for a root fragment.
	parent       *Fragment
	parentGuard  Ref
}

// NewFragment starts a fresh Fragment under construction at entryPC.
func NewFragment(scriptID uint32, entryPC interpface.PC, entryTypes TypeMap) *Fragment {
	return &Fragment{
		ScriptID:   scriptID,
		EntryPC:    entryPC,
		State:      FragmentRecording,
		EntryTypes: entryTypes,
		buf:        NewBuffer(),
	}
}

// Buffer exposes the recording buffer for the filter chain to write
// through.
func (f *Fragment) Buffer() *Buffer { return f.buf }

// RecordGuard appends ref to Guards, so it can later be located by index
// for tree-extension purposes.
func (f *Fragment) RecordGuard(ref Ref) { f.Guards = append(f.Guards, ref) }

// const defaultBlacklistThreshold is the starting decay budget assigned to
// a fragment that just aborted recording for the first time (see Abort
// and DecayBlacklist below).
const defaultBlacklistThreshold = 5

// Abort marks the fragment blacklisted once its decaying counter reaches
// zero, else leaves it pending for a future record attempt (supplemented
// feature: blacklist counter decay, SPEC_FULL.md).
func (f *Fragment) Abort() {
	if f.blacklistCounter <= 0 {
		f.blacklistCounter = defaultBlacklistThreshold
	}
	f.blacklistCounter--
	if f.blacklistCounter <= 0 {
		f.State = FragmentBlacklisted
	} else {
		f.State = FragmentPending
	}
}

// DecayBlacklist is called periodically (e.g. on global flush) to let a
// previously-blacklisted fragment earn another recording attempt, rather
// than being permanently excluded (supplemented feature).
func (f *Fragment) DecayBlacklist() {
	if f.State == FragmentBlacklisted {
		f.blacklistCounter++
		if f.blacklistCounter > 0 {
			f.State = FragmentPending
		}
	}
}

// ExtendAt attaches child as the extension fragment for the guard at
// Guards[guardIndex] and records f as child's parent. It merges no type
// maps (see MergeGlobalsFromInnerTree) and registers nothing that would
// inform f if child's globals later expand.
func (f *Fragment) ExtendAt(guardIndex int, child *Fragment) {
	ref := f.Guards[guardIndex]
	in := f.buf.At(ref)
	if in.SideExit != nil {
		in.SideExit.Extension = child
		f.buf.Replace(ref, in)
	}
	child.parent = f
	child.parentGuard = ref
	f.children = append(f.children, child)
}

// MergeGlobalsFromInnerTree returns a copy of the inner type map extended
// with every trailing entry of outer past inner's length, so a later
// guard miss inside the inner tree cannot silently disagree with an
// assumption the outer tree already committed to (spec §4.5).
func MergeGlobalsFromInnerTree(outer, inner TypeMap) TypeMap {
	merged := make(TypeMap, len(inner))
	copy(merged, inner)
	for i := len(inner); i < len(outer); i++ {
		merged = append(merged, outer[i])
	}
	return merged
}
