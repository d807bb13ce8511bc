package oracle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMarkIsMonotonic is spec invariant P4: after mark(k), is_marked(k) is
// true until the next flush.
func TestMarkIsMonotonic(t *testing.T) {
	o := New(2053)
	k := HashKey(7, 100, 3)

	require.False(t, o.IsMarked(KindStackSlot, k))
	o.Mark(KindStackSlot, k)
	require.True(t, o.IsMarked(KindStackSlot, k))

	// Idempotent: marking again changes nothing observable.
	o.Mark(KindStackSlot, k)
	require.True(t, o.IsMarked(KindStackSlot, k))
}

func TestFlushClearsBothBitmaps(t *testing.T) {
	o := New(2053)
	stackKey := HashKey(1, 2, 3)
	globKey := HashKey(4, 5, 6)

	o.Mark(KindStackSlot, stackKey)
	o.Mark(KindGlobalSlot, globKey)
	require.True(t, o.IsMarked(KindStackSlot, stackKey))
	require.True(t, o.IsMarked(KindGlobalSlot, globKey))

	o.Flush()

	require.False(t, o.IsMarked(KindStackSlot, stackKey))
	require.False(t, o.IsMarked(KindGlobalSlot, globKey))
}

func TestStackAndGlobalBitmapsAreIndependent(t *testing.T) {
	o := New(2053)
	k := HashKey(9, 9, 9)

	o.Mark(KindStackSlot, k)
	require.True(t, o.IsMarked(KindStackSlot, k))
	require.False(t, o.IsMarked(KindGlobalSlot, k))
}

// TestConcurrentMarkNeverLosesABit exercises the spec §9 racy-writer
// contract: concurrent atomic bitwise-or across many goroutines touching
// the same word must not drop a sibling's bit.
func TestConcurrentMarkNeverLosesABit(t *testing.T) {
	o := New(64) // single word, forces every key below into bitmap[0].
	var wg sync.WaitGroup
	for i := uint32(0); i < 64; i++ {
		wg.Add(1)
		go func(bit uint32) {
			defer wg.Done()
			o.Mark(KindStackSlot, Key(bit))
		}(i)
	}
	wg.Wait()

	for i := uint32(0); i < 64; i++ {
		require.True(t, o.IsMarked(KindStackSlot, Key(i)), "bit %d lost", i)
	}
}

func TestNewRejectsZeroSizeByTreatingAsOne(t *testing.T) {
	o := New(0)
	require.False(t, o.IsMarked(KindStackSlot, 0))
	o.Mark(KindStackSlot, 0)
	require.True(t, o.IsMarked(KindStackSlot, 0))
}
