package backend

import (
	"path/filepath"
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDirectIO opens a DirectIO backend over a fresh file in t.TempDir.
// O_DIRECT is refused by some filesystems (notably tmpfs, which several CI
// sandboxes use for /tmp), so a failure to open is skipped rather than
// failed — it reflects the environment, not the backend.
func newTestDirectIO(t *testing.T) *DirectIO {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blockqueue.img")
	d, err := OpenDirectIO(path, false)
	if err != nil {
		t.Skipf("O_DIRECT unavailable on this filesystem: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDirectIORoundTrip(t *testing.T) {
	d := newTestDirectIO(t)

	buf := directio.AlignedBlock(directio.BlockSize)
	for i := range buf {
		buf[i] = 0x7E
	}

	done := make(chan error, 1)
	require.NoError(t, d.AsyncPwrite(0, buf, func(err error) { done <- err }))
	require.NoError(t, <-done)

	got, err := d.SyncPread(0, uint64(directio.BlockSize))
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestDirectIOFlush(t *testing.T) {
	d := newTestDirectIO(t)

	done := make(chan error, 1)
	require.NoError(t, d.AsyncFlush(func(err error) { done <- err }))
	assert.NoError(t, <-done)
}

func TestAlignUp(t *testing.T) {
	block := uint64(directio.BlockSize)
	assert.Equal(t, block, alignUp(1))
	assert.Equal(t, block, alignUp(block))
	assert.Equal(t, 2*block, alignUp(block+1))
}
