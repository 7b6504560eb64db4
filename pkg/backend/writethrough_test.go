package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThroughForcesFlag(t *testing.T) {
	n := NewNull()
	require.False(t, n.OpenFlags().WriteThrough)

	w := NewWriteThrough(n)
	assert.True(t, w.OpenFlags().WriteThrough)
}

func TestWriteThroughDelegates(t *testing.T) {
	n := NewNull()
	w := NewWriteThrough(n)

	done := make(chan error, 1)
	require.NoError(t, w.AsyncPwrite(0, []byte{1, 2, 3}, func(err error) { done <- err }))
	require.NoError(t, <-done)

	got, err := w.SyncPread(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}
