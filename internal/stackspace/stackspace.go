// Package stackspace implements StackSpace (spec §4.1): a reserved
// contiguous virtual range carved into StackSegments on demand, committed
// incrementally as the engine pushes frames. Grounded on wazero's
// callEngine.stack (internal/engine/compiler/engine.go): a Go slice
// allocated once at a fixed capacity so its backing array's address never
// moves under raw-pointer access from native code, grown explicitly (never
// by append-triggered reallocation) via a dedicated grow path.
package stackspace

import (
	"fmt"

	"github.com/neonux/tracejit/internal/jitrt"
	"github.com/neonux/tracejit/internal/value"
)

// Space reserves reservationValues worth of value.Value slots up front and
// exposes a committed prefix that grows on demand. The reservation is fixed
// for the Space's lifetime: ensureSpace never reallocates past it, which is
// what lets raw pointers into the committed range (held by native code)
// stay valid across later commits — the same invariant wazero's comment on
// `initialStackSize` documents for its own value stack.
type Space struct {
	// reserved is allocated once at the full reservation size; committed is
	// a sub-slice of it. Because reserved's backing array never moves,
	// first_unused() is stable for any fixed committed depth (spec
	// invariant P1).
	reserved  []value.Value
	committed int // count of value.Value currently addressable.
}

// New reserves a range able to hold reservationValues value.Value slots.
func New(reservationValues uint64) *Space {
	return &Space{reserved: make([]value.Value, reservationValues)}
}

// Reservation returns the total number of Value slots reserved.
func (s *Space) Reservation() uint64 { return uint64(len(s.reserved)) }

// CommittedSize returns the current committed size in bytes, for
// diagnostics (spec §4.1 committed_size).
func (s *Space) CommittedSize() uint64 {
	return uint64(s.committed) * 8 // one 8-byte native slot per Value under either Encoding (see value.Encoding.WordSizeInBytes)
}

// FirstUnused returns the address (here: index) of the highest slot
// currently writable — the first index past the committed prefix.
func (s *Space) FirstUnused() int { return s.committed }

// EnsureSpace commits further slots until FirstUnused()+nvals is
// addressable, failing with jitrt.ErrStackOverflow if doing so would
// exceed the reservation (spec §4.1 ensure_space).
func (s *Space) EnsureSpace(nvals int) error {
	want := s.committed + nvals
	if want > len(s.reserved) {
		return jitrt.ErrStackOverflow
	}
	if want > s.committed {
		s.committed = want
	}
	return nil
}

// Slots returns the committed region as a slice, for direct read/write by
// a StackFrame/StackSegment built atop this Space.
func (s *Space) Slots() []value.Value { return s.reserved[:s.committed] }

// Retract lowers the committed size back down to depth, the counterpart of
// EnsureSpace used when frames are popped. depth must not exceed the
// current committed size.
func (s *Space) Retract(depth int) error {
	if depth > s.committed || depth < 0 {
		return fmt.Errorf("stackspace: retract to %d out of committed range [0,%d]", depth, s.committed)
	}
	s.committed = depth
	return nil
}

// Tracer is invoked by Mark for every live frame, and separately for the
// conservative gaps between known-live frames (spec §4.1 mark: "any bit
// pattern in those gaps may be an uninitialized Value from jitted code,
// and is traced conservatively"). It is the rooting contract the GC
// collaborator (internal/gcface) consumes.
type Tracer interface {
	// TraceFrame is called with the slot range [base, base+len) of a frame
	// known to be live.
	TraceFrame(base, length int)
	// TraceConservative is called with a slot range whose contents cannot
	// be proven live or dead; the tracer must treat every bit pattern in
	// range as a possible Value and scan accordingly.
	TraceConservative(base, length int)
}

// FrameRange describes one live frame's extent within the committed
// region, as supplied by the framestack package which knows the actual
// frame chain.
type FrameRange struct {
	Base, Length int
}

// Mark walks the committed region from FirstUnused() backwards, invoking
// tracer on each live FrameRange and conservatively on the gaps between
// them (spec §4.1 mark).
func (s *Space) Mark(frames []FrameRange, tracer Tracer) {
	cursor := s.committed
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		end := f.Base + f.Length
		if end < cursor {
			tracer.TraceConservative(end, cursor-end)
		}
		tracer.TraceFrame(f.Base, f.Length)
		cursor = f.Base
	}
	if cursor > 0 {
		tracer.TraceConservative(0, cursor)
	}
}
