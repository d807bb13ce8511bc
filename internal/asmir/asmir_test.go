package asmir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNode struct{ off uint64 }

func (f *fakeNode) String() string        { return "fake" }
func (f *fakeNode) OffsetInBinary() uint64 { return f.off }

func TestLabelUnboundUntilSetNode(t *testing.T) {
	l := NewLabel(1, nil)
	require.False(t, l.IsBound())

	l.SetNode(&fakeNode{off: 42})
	require.True(t, l.IsBound())
	require.Equal(t, uint64(42), l.Node().OffsetInBinary())
}

func TestLabelUsableAsMapKey(t *testing.T) {
	a := NewLabel(1, &fakeNode{off: 1})
	b := NewLabel(2, &fakeNode{off: 2})

	locs := map[Label]CodeLocationLabel{
		a: {Offset: 10},
		b: {Offset: 20},
	}
	require.Equal(t, uint64(10), locs[a].Offset)
	require.Equal(t, uint64(20), locs[b].Offset)
}
