package asmir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonux/tracejit/internal/codecache"
)

func TestPageRepatchBufferImmediate(t *testing.T) {
	page, err := codecache.Alloc(64)
	require.NoError(t, err)
	defer page.Release()

	require.NoError(t, page.MakeExecutable())

	rb, err := NewPageRepatchBuffer(page)
	require.NoError(t, err)

	require.NoError(t, rb.RepatchImmediate(CodeLocationLabel{Offset: 8}, 0x1234))

	// The page must end the patch sequence executable again (W^X held).
	require.NoError(t, page.MakeWritable())
	got := page.Bytes()[8:12]
	require.Equal(t, byte(0x34), got[0])
	require.Equal(t, byte(0x12), got[1])
}

func TestNewPageRepatchBufferRejectsNil(t *testing.T) {
	_, err := NewPageRepatchBuffer(nil)
	require.Error(t, err)
}
