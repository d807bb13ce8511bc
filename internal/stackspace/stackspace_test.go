package stackspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonux/tracejit/internal/jitrt"
)

func TestEnsureSpaceCommitsIncrementally(t *testing.T) {
	s := New(16)
	require.Equal(t, 0, s.FirstUnused())

	require.NoError(t, s.EnsureSpace(4))
	require.Equal(t, 4, s.FirstUnused())

	require.NoError(t, s.EnsureSpace(4))
	require.Equal(t, 8, s.FirstUnused())
}

func TestEnsureSpaceOverflows(t *testing.T) {
	s := New(8)
	require.NoError(t, s.EnsureSpace(8))
	err := s.EnsureSpace(1)
	require.ErrorIs(t, err, jitrt.ErrStackOverflow)
	// A failed EnsureSpace must not mutate state (spec §4.1 Failure).
	require.Equal(t, 8, s.FirstUnused())
}

// P1: for any sequence of push/pop (ensure/retract) that leaves the
// counted depth at d, FirstUnused equals its value at the point the depth
// was last d. This holds because the backing array is fixed at
// reservation time and never reallocated.
func TestP1StableFirstUnusedAtSameDepth(t *testing.T) {
	s := New(32)
	require.NoError(t, s.EnsureSpace(10))
	addrAt10 := s.FirstUnused()

	require.NoError(t, s.EnsureSpace(5))
	require.NoError(t, s.Retract(10))
	require.Equal(t, addrAt10, s.FirstUnused())

	require.NoError(t, s.EnsureSpace(20))
	require.NoError(t, s.Retract(10))
	require.Equal(t, addrAt10, s.FirstUnused())
}

func TestMarkWalksFramesAndGaps(t *testing.T) {
	s := New(20)
	require.NoError(t, s.EnsureSpace(20))

	var frames, conservative []FrameRange
	tracer := &recordingTracer{
		onFrame:        func(base, n int) { frames = append(frames, FrameRange{base, n}) },
		onConservative: func(base, n int) { conservative = append(conservative, FrameRange{base, n}) },
	}

	// Two frames at [0,5) and [8,15), leaving gaps [5,8) and [15,20).
	s.Mark([]FrameRange{{0, 5}, {8, 7}}, tracer)

	require.Equal(t, []FrameRange{{8, 7}, {0, 5}}, frames)
	require.Equal(t, []FrameRange{{15, 5}, {5, 3}}, conservative)
}

type recordingTracer struct {
	onFrame        func(base, n int)
	onConservative func(base, n int)
}

func (r *recordingTracer) TraceFrame(base, n int)        { r.onFrame(base, n) }
func (r *recordingTracer) TraceConservative(base, n int) { r.onConservative(base, n) }
