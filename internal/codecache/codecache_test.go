package codecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocWriteExecuteRelease(t *testing.T) {
	p, err := Alloc(64)
	require.NoError(t, err)

	copy(p.Bytes(), []byte{0xc3}) // RET on amd64, harmless bytes otherwise.
	require.NoError(t, p.MakeExecutable())

	// MakeExecutable must be idempotent.
	require.NoError(t, p.MakeExecutable())

	require.NoError(t, p.MakeWritable())
	p.Bytes()[0] = 0x90
	require.NoError(t, p.MakeExecutable())

	require.NoError(t, p.Release())
}

func TestPatchRoundTripsToExecutable(t *testing.T) {
	p, err := Alloc(16)
	require.NoError(t, err)
	defer p.Release()

	require.NoError(t, p.MakeExecutable())

	err = p.Patch(func(mem []byte) {
		mem[0] = 0x42
	})
	require.NoError(t, err)
}
