package tablecache

import "github.com/cockroachdb/errors"

var (
	// ErrCacheFull is returned by TryGet when every entry is pinned and no
	// slot can be evicted or allocated. Get waits for a slot instead.
	ErrCacheFull = errors.New("tablecache: cache is full")

	// ErrClosed is returned by any call made after Close.
	ErrClosed = errors.New("tablecache: cache is closed")
)
