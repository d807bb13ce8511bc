package framestack

import "github.com/neonux/tracejit/internal/stackspace"

// Regs is the mutable (fp, sp, pc) triple (spec §3 FrameRegs). When a
// Segment is suspended this triple is copied into the segment header;
// restoration copies it back.
type Regs struct {
	FP *Frame
	SP int // index into the owning Space.
	PC uint32
}

// SegmentState mirrors spec §3 StackSegment "flag bit (active/suspended/saved)".
type SegmentState uint8

const (
	SegmentActive SegmentState = iota
	SegmentSuspended
	SegmentSaved
)

// Segment is spec §3 StackSegment: a header preceding a contiguous range
// of Values, forming two interleaved linked lists (by memory order, by
// context). At most one Segment per execution context is active at a
// time; an active segment's current frame equals the context's current
// Regs (spec invariant).
type Segment struct {
	// PrevInMemory links segments in the order they were carved from the
	// owning Space (oldest first). PrevInContext links segments belonging
	// to the same ContextStack (most-recently-pushed first); the two
	// orders diverge once a host re-enters the engine from a callback and
	// pushes a segment whose Prev frame points into an earlier segment
	// (spec §4.2, scenario S6).
	PrevInMemory  *Segment
	PrevInContext *Segment

	// Base/Length is this segment's extent within the owning Space.
	Base, Length int

	// SavedRegs holds the Regs at the moment this segment was suspended;
	// valid only when State != SegmentActive.
	SavedRegs Regs
	State     SegmentState

	space *stackspace.Space
}

// NewSegment carves a Length-Value-wide segment starting at the Space's
// current FirstUnused(), committing that much space. prevInMemory/
// prevInContext link it into the two lists per spec §3.
func NewSegment(space *stackspace.Space, length int, prevInMemory, prevInContext *Segment) (*Segment, error) {
	base := space.FirstUnused()
	if err := space.EnsureSpace(length); err != nil {
		return nil, err
	}
	return &Segment{
		PrevInMemory:  prevInMemory,
		PrevInContext: prevInContext,
		Base:          base,
		Length:        length,
		State:         SegmentActive,
		space:         space,
	}, nil
}

// Suspend copies regs into SavedRegs and marks the segment suspended (spec
// §3 FrameRegs: "When a segment is suspended, the triple is copied into
// the segment header").
func (s *Segment) Suspend(regs Regs) {
	s.SavedRegs = regs
	s.State = SegmentSuspended
}

// Resume marks the segment active again and returns the regs it was
// suspended with ("restoration copies it back").
func (s *Segment) Resume() Regs {
	s.State = SegmentActive
	return s.SavedRegs
}
