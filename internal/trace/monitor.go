package trace

import (
	"github.com/neonux/tracejit/internal/config"
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/jitrt"
	"github.com/neonux/tracejit/internal/oracle"
	"github.com/neonux/tracejit/internal/value"
)

// cacheSize sizes the direct-mapped fragment cache (spec §4.6 "a small
// per-PC direct-mapped fragment cache indexed by pc & MASK") and cacheMask
// is its index mask. 1024 entries keeps collisions rare for typical
// hot-loop counts without growing the cache unboundedly.
const cacheSize = 1024
const cacheMask = cacheSize - 1

type cacheEntry struct {
	pc   interpface.PC
	frag *Fragment
}

// Monitor is the TraceMonitor (spec §4.6): owns the fragment cache, the
// hit counters on uncompiled fragments and guard exits, and dispatches
// between recording, executing, and extending trees.
type Monitor struct {
	cfg     config.EngineConfig
	log     jitlog.Logger
	oracle  *oracle.Oracle
	cache   [cacheSize]cacheEntry
	hits    map[interpface.PC]uint32
	active  *Recorder
}

// NewMonitor builds a Monitor sharing orc with the rest of the engine (the
// Oracle is process-wide, spec §4.4).
func NewMonitor(cfg config.EngineConfig, orc *oracle.Oracle) *Monitor {
	return &Monitor{cfg: cfg, log: cfg.Logger, oracle: orc, hits: map[interpface.PC]uint32{}}
}

func (m *Monitor) slot(pc interpface.PC) *cacheEntry {
	return &m.cache[uint32(pc)&cacheMask]
}

func (m *Monitor) lookup(pc interpface.PC) *Fragment {
	e := m.slot(pc)
	if e.frag != nil && e.pc == pc {
		return e.frag
	}
	return nil
}

func (m *Monitor) install(pc interpface.PC, frag *Fragment) {
	*m.slot(pc) = cacheEntry{pc: pc, frag: frag}
}

// Outcome reports what OnLoopEdge did, letting the interpreter's
// on_loop_edge (spec §6) translate to its own boolean "continue at
// current pc" contract.
type Outcome uint8

const (
	OutcomeContinueInterpreting Outcome = iota
	OutcomeStartedRecording
	OutcomeContinuedRecording
	OutcomeExecutedFragment
	OutcomeFinalizedFragment
)

// OnLoopEdge implements spec §4.6's dispatch table for the interpreter's
// hot-backedge callback.
func (m *Monitor) OnLoopEdge(scriptID uint32, pc interpface.PC, liveSlots []value.Value) (Outcome, error) {
	if m.active != nil {
		return m.continueRecording(pc, liveSlots)
	}

	frag := m.lookup(pc)
	if frag == nil {
		m.hits[pc]++
		if m.hits[pc] < m.cfg.HotLoopThreshold {
			return OutcomeContinueInterpreting, nil
		}
		m.startRecording(scriptID, pc, liveSlots)
		return OutcomeStartedRecording, nil
	}

	switch frag.State {
	case FragmentBlacklisted:
		return OutcomeContinueInterpreting, nil
	case FragmentPending:
		m.hits[pc]++
		if m.hits[pc] < m.cfg.HotLoopThreshold {
			return OutcomeContinueInterpreting, nil
		}
		m.startRecording(scriptID, pc, liveSlots)
		return OutcomeStartedRecording, nil
	case FragmentCompiled:
		return OutcomeExecutedFragment, nil
	default:
		return OutcomeContinueInterpreting, nil
	}
}

func (m *Monitor) startRecording(scriptID uint32, pc interpface.PC, liveSlots []value.Value) {
	m.active = NewRecorder(scriptID, pc, liveSlots, m.oracle, m.log)
	m.install(pc, m.active.Fragment())
	m.log.Logf(jitlog.ScopeTraceMonitor, "begin recording script=%d pc=%d", scriptID, pc)
}

func (m *Monitor) continueRecording(pc interpface.PC, liveSlots []value.Value) (Outcome, error) {
	r := m.active
	if pc == r.frag.EntryPC && r.chain.buf.Len() > 0 {
		exitTypes := make(TypeMap, len(liveSlots))
		for i, v := range liveSlots {
			exitTypes[i] = SlotType{Tag: v.Tag()}
		}
		matched := r.CloseLoop(exitTypes)
		m.active = nil
		if matched {
			m.log.Logf(jitlog.ScopeTraceMonitor, "closed loop at pc=%d", pc)
			return OutcomeFinalizedFragment, nil
		}
		m.log.Logf(jitlog.ScopeTraceMonitor, "loop type mismatch at pc=%d, oracle updated", pc)
		return OutcomeContinueInterpreting, nil
	}
	return OutcomeContinuedRecording, nil
}

// AbortActiveRecording gives up the in-progress recorder, e.g. because
// Flush was called mid-recording (spec §4.6 "Flushing during active
// recording first aborts the recorder").
func (m *Monitor) AbortActiveRecording(cause error) {
	if m.active != nil {
		m.active.Abort(cause)
		m.active = nil
	}
}

// ActiveRecorder exposes the in-progress recorder, for the interpreter
// loop to feed subsequent opcodes to while recording is active.
func (m *Monitor) ActiveRecorder() *Recorder { return m.active }

// LookupFragment exposes the direct-mapped cache lookup publicly, for a
// caller that just received OutcomeExecutedFragment from OnLoopEdge and
// needs the Fragment itself to pass to Execute.
func (m *Monitor) LookupFragment(pc interpface.PC) (*Fragment, bool) {
	frag := m.lookup(pc)
	return frag, frag != nil
}

// ExecuteResult is what executing a compiled fragment reports back to the
// interpreter: the side exit that fired, and the interpreter pc/sp
// adjustment to apply.
type ExecuteResult struct {
	Exit *SideExit
}

// Execute checks interpSlots against frag.EntryTypes and runs frag's Code
// directly over those interpreter Values; it does not unbox them into a
// separate native buffer. It returns a type-mismatch error if any slot's
// current tag disagrees with the entry map, else the SideExit the guard
// produced.
func (m *Monitor) Execute(frag *Fragment, interpSlots []value.Value) (*ExecuteResult, error) {
	for i, st := range frag.EntryTypes {
		if i >= len(interpSlots) {
			return nil, &jitrt.TypeMismatchError{FragmentID: int(frag.EntryPC), SlotIndex: i}
		}
		if interpSlots[i].Tag() != st.Tag && !(st.Promotable && interpSlots[i].Tag() == value.TagDouble) {
			return nil, &jitrt.TypeMismatchError{FragmentID: int(frag.EntryPC), SlotIndex: i}
		}
	}
	if frag.Code == nil {
		return nil, jitrt.ErrTraceAborted
	}
	exit := frag.Code(interpSlots)
	if exit != nil {
		m.onGuardExit(frag, exit)
	}
	return &ExecuteResult{Exit: exit}, nil
}

// onGuardExit bumps a branch guard's hit counter and, past the extension
// threshold, logs that the guard is eligible for tree extension. It does
// not start recording an extension or mark the guard in any other way.
func (m *Monitor) onGuardExit(frag *Fragment, exit *SideExit) {
	if exit.Kind != ExitBranch {
		return
	}
	exit.HitCount++
	if exit.HitCount > m.cfg.HotGuardThreshold {
		m.log.Logf(jitlog.ScopeTraceMonitor, "guard at pc=%d eligible for tree extension (hits=%d)", exit.PC, exit.HitCount)
	}
}

// Flush clears the fragment cache and Oracle state (spec §4.6 "single
// operation invoked when a shape table grows, when memory pressure is
// signaled, or when recompilation semantics demand it").
func (m *Monitor) Flush() {
	if m.active != nil {
		m.AbortActiveRecording(jitrt.ErrTraceAborted)
	}
	m.cache = [cacheSize]cacheEntry{}
	m.hits = map[interpface.PC]uint32{}
	m.oracle.Flush()
	m.log.Logf(jitlog.ScopeTraceMonitor, "flushed fragment cache and oracle")
}
