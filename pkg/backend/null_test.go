package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullRoundTrip(t *testing.T) {
	n := NewNull()

	done := make(chan error, 1)
	require.NoError(t, n.AsyncPwrite(0, []byte{1, 2, 3, 4}, func(err error) { done <- err }))
	require.NoError(t, <-done)

	got, err := n.SyncPread(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestNullReadMissDefaultsToZero(t *testing.T) {
	n := NewNull()

	got, err := n.SyncPread(1024, 8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), got)
}

func TestNullReadSynthetic(t *testing.T) {
	n := NewNull(WithReadSynthetic(0xA5))

	got, err := n.SyncPread(1024, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA5, 0xA5, 0xA5, 0xA5}, got)
}

func TestNullReadZeroesIgnoresImage(t *testing.T) {
	n := NewNull(WithReadZeroes())

	done := make(chan error, 1)
	require.NoError(t, n.AsyncPwrite(0, []byte{9, 9}, func(err error) { done <- err }))
	require.NoError(t, <-done)

	got, err := n.SyncPread(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, got)
}

func TestNullFailNext(t *testing.T) {
	n := NewNull(WithFailNext(2, ErrInjected))

	for i := 0; i < 2; i++ {
		done := make(chan error, 1)
		require.NoError(t, n.AsyncFlush(func(err error) { done <- err }))
		assert.ErrorIs(t, <-done, ErrInjected)
	}

	done := make(chan error, 1)
	require.NoError(t, n.AsyncFlush(func(err error) { done <- err }))
	assert.NoError(t, <-done)
}

func TestNullLatencyCompletesAsynchronously(t *testing.T) {
	n := NewNull(WithLatency(10 * time.Millisecond))

	start := time.Now()
	done := make(chan error, 1)
	require.NoError(t, n.AsyncFlush(func(err error) { done <- err }))

	select {
	case <-done:
		t.Fatal("completion fired before latency elapsed")
	case <-time.After(time.Millisecond):
	}

	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestNullOpenFlagsWriteThrough(t *testing.T) {
	n := NewNull(WithWriteThrough())
	assert.True(t, n.OpenFlags().WriteThrough)
}
