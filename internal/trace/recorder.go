package trace

import (
	"fmt"

	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/jitrt"
	"github.com/neonux/tracejit/internal/oracle"
	"github.com/neonux/tracejit/internal/value"
)

// maxCallDepth bounds recorded inlining depth (spec §4.5 Abort: "call with
// too many arguments to spill, more than a small constant call depth").
const maxCallDepth = 8

// maxSpillArgs bounds the number of arguments a recorded call may spill
// before the recorder aborts rather than emit an unbounded argument list.
const maxSpillArgs = 16

// Tracker maps a live interpreter slot to the IR instruction currently
// holding its value — the generalization of the spec's "tracker from
// value addresses (interpreter Value*) to IR instruction nodes" to a
// slot-indexed model, since this module represents frame storage as
// indexed slices rather than raw addressable Value* pointers.
type Tracker struct {
	locals  map[int]Ref
	globals map[int]Ref
}

func newTracker() *Tracker {
	return &Tracker{locals: map[int]Ref{}, globals: map[int]Ref{}}
}

func (t *Tracker) Local(slot int) (Ref, bool)  { r, ok := t.locals[slot]; return r, ok }
func (t *Tracker) Global(slot int) (Ref, bool) { r, ok := t.globals[slot]; return r, ok }
func (t *Tracker) SetLocal(slot int, ref Ref)  { t.locals[slot] = ref }
func (t *Tracker) SetGlobal(slot int, ref Ref) { t.globals[slot] = ref }

// NativeFrameTracker records only the last store issued per slot.
// EmitStore updates it; earlier stores to the same slot stay in the
// buffer, and nothing redirects or removes them.
type NativeFrameTracker struct {
	lastStore map[int]Ref
}

func newNativeFrameTracker() *NativeFrameTracker {
	return &NativeFrameTracker{lastStore: map[int]Ref{}}
}

func (n *NativeFrameTracker) LastStore(slot int) (Ref, bool) {
	r, ok := n.lastStore[slot]
	return r, ok
}
func (n *NativeFrameTracker) SetLastStore(slot int, ref Ref) { n.lastStore[slot] = ref }

// Recorder is the TraceRecorder (spec §4.5): invoked on hot-backedge,
// side-exit-into-recording, and every subsequent opcode while active.
type Recorder struct {
	frag        *Fragment
	chain       *FilterChain
	tracker     *Tracker
	nativeFrame *NativeFrameTracker
	callDepth   int
	entryTypes  TypeMap
	oracle      *oracle.Oracle
	log         jitlog.Logger

	aborted bool
	abortCause error
}

// NewRecorder starts recording a fresh Fragment at entryPC over the
// current live slots, deriving the entry type map per spec §4.5 "Type map
// derivation": double-holding-an-integer is treated as int unless the
// Oracle has a "do not demote" mark for that slot.
func NewRecorder(scriptID uint32, entryPC interpface.PC, liveSlots []value.Value, orc *oracle.Oracle, log jitlog.Logger) *Recorder {
	entryTypes := make(TypeMap, len(liveSlots))
	for i, v := range liveSlots {
		st := SlotType{Tag: v.Tag()}
		if v.Tag() == value.TagDouble {
			if _, promotable := value.IsPromotableInt(v.Double()); promotable {
				key := oracle.HashKey(scriptID, uint32(entryPC), uint32(i))
				if !orc.IsMarked(oracle.KindStackSlot, key) {
					st.Promotable = true
				}
			}
		}
		entryTypes[i] = st
	}

	frag := NewFragment(scriptID, entryPC, entryTypes)
	return &Recorder{
		frag:        frag,
		chain:       NewFilterChain(frag.buf, false),
		tracker:     newTracker(),
		nativeFrame: newNativeFrameTracker(),
		entryTypes:  entryTypes,
		oracle:      orc,
		log:         log,
	}
}

func (r *Recorder) Fragment() *Fragment { return r.frag }

// Import emits the load-from-native-frame for slot's first touch this
// recording session (spec §4.5 "Import"): int slots get an explicit
// int->double conversion immediately, marked Promoted so FuncFilter can
// later fold it back out.
func (r *Recorder) Import(slot int) Ref {
	if ref, ok := r.tracker.Local(slot); ok {
		return ref
	}
	st := r.entryTypes[slot]
	loadRef := r.chain.Emit(Instruction{Op: OpLoadSlot, Kind: kindOf(st.Tag), Imm: int64(slot)})
	ref := loadRef
	if st.Tag == value.TagInt32 || (st.Tag == value.TagDouble && st.Promotable) {
		conv := r.chain.Emit(Instruction{Op: OpInt32ToDouble, Kind: KindDouble, A: loadRef, Promoted: true})
		ref = conv
	}
	r.tracker.SetLocal(slot, ref)
	return ref
}

func kindOf(t value.Tag) Kind {
	switch t {
	case value.TagInt32:
		return KindInt32
	case value.TagDouble:
		return KindDouble
	case value.TagBoolean:
		return KindBoolean
	default:
		return KindNone
	}
}

// EmitStore appends a store of ref to slot and records it as the slot's
// last store in the native frame tracker; an earlier store to the same
// slot is not removed. Like FrameState.StoreLocal, this
// never calls gcface.WriteBarrier: slot is a stack local (always a GC
// root, spec §6 mark_stack), and at recording time ref only names an IR
// instruction, not a runtime value a barrier could inspect.
func (r *Recorder) EmitStore(slot int, ref Ref) {
	storeRef := r.chain.buf.Emit(Instruction{Op: OpStoreSlot, A: ref, Imm: int64(slot)})
	r.nativeFrame.SetLastStore(slot, storeRef)
	r.tracker.SetLocal(slot, ref)
}

// Guard emits an OpGuard carrying a SideExit snapshot of every currently
// live slot's promotable-int-vs-double-vs-static-tag status (spec §4.5
// "Guard and snapshot").
func (r *Recorder) Guard(kind GuardExitKind, pc interpface.PC, liveSlots []SlotType, spAdjust int) Ref {
	se := &SideExit{Kind: kind, PC: pc, ExitTypes: append(TypeMap{}, liveSlots...), SPAdjust: spAdjust}
	ref := r.chain.buf.Emit(Instruction{Op: OpGuard, SideExit: se})
	r.frag.RecordGuard(ref)
	return ref
}

// Abort gives up recording: any condition the handler cannot prove safe
// (spec §4.5 Abort). It blacklists the fragment at its entry PC via the
// decaying counter and discards in-progress IR by simply never linking
// the buffer to native code.
func (r *Recorder) Abort(cause error) {
	if r.aborted {
		return
	}
	r.aborted = true
	r.abortCause = cause
	r.frag.Abort()
	r.log.Logf(jitlog.ScopeTraceRecorder, "trace abort at pc=%d script=%d: %v", r.frag.EntryPC, r.frag.ScriptID, cause)
}

func (r *Recorder) Aborted() bool   { return r.aborted }
func (r *Recorder) AbortCause() error { return r.abortCause }

// EnterCall increments the recorded call depth, aborting if it would
// exceed maxCallDepth (spec §4.5 Abort).
func (r *Recorder) EnterCall(argc int) error {
	if argc > maxSpillArgs {
		r.Abort(fmt.Errorf("tracejit: call with %d args exceeds spill limit %d", argc, maxSpillArgs))
		return jitrt.ErrTraceAborted
	}
	r.callDepth++
	if r.callDepth > maxCallDepth {
		r.Abort(fmt.Errorf("tracejit: call depth %d exceeds limit %d", r.callDepth, maxCallDepth))
		return jitrt.ErrTraceAborted
	}
	return nil
}

func (r *Recorder) LeaveCall() {
	if r.callDepth > 0 {
		r.callDepth--
	}
}

// CloseLoop verifies the exit type map against the entry type map (spec
// §4.5 "close_loop"): on a mismatch, the offending slots are marked in
// the Oracle (so a future recording attempt at this PC does not promote
// them) and the caller is told to request recompilation rather than
// finalize; on a match, a loop-edge guard is emitted and the fragment is
// marked compiled (finalization of native code lowering itself happens in
// the Assembler IR stage, external to this package).
func (r *Recorder) CloseLoop(exitTypes TypeMap) (matched bool) {
	if r.entryTypes.Equal(exitTypes) {
		r.chain.buf.Emit(Instruction{Op: OpLoopEdgeGuard, SideExit: &SideExit{Kind: ExitLoop, PC: r.frag.EntryPC, ExitTypes: exitTypes}})
		r.frag.State = FragmentCompiled
		return true
	}
	for i := range exitTypes {
		if i >= len(r.entryTypes) || exitTypes[i] != r.entryTypes[i] {
			key := oracle.HashKey(r.frag.ScriptID, uint32(r.frag.EntryPC), uint32(i))
			r.oracle.Mark(oracle.KindStackSlot, key)
		}
	}
	return false
}
