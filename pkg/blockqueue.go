// Package pkg is the public facade over the write-back block queue: it
// wraps pkg/queue's Driver and Context behind a small surface a caller can
// depend on without reaching into the implementation packages directly.
package pkg

import (
	"io"

	"blockqueue/pkg/backend"
	"blockqueue/pkg/queue"
	"blockqueue/pkg/tablecache"
)

// Option configures a Queue at construction time.
type Option = queue.Option

var (
	// WithThreshold overrides the barrier-defer threshold (default
	// queue.DefaultThreshold).
	WithThreshold = queue.WithThreshold
	// WithLogger overrides the queue's structured logger.
	WithLogger = queue.WithLogger
	// WithMetrics overrides the queue's Prometheus collectors.
	WithMetrics = queue.WithMetrics
	// WithTableCache attaches a companion Table Cache sized numTables *
	// tableSize, backed by the same Backend the Queue writes through.
	WithTableCache = queue.WithTableCache
)

// ErrorHandler decides what happens to a failed in-flight request; see
// queue.ErrorHandler.
type ErrorHandler = queue.ErrorHandler

// Queue is a write-back block queue sitting in front of a Backend. It is
// the entry point for opening Producer Contexts and for the whole-queue
// operations (Flush, Destroy, IsEmpty) that don't belong to any one
// context.
type Queue struct {
	driver *queue.Driver
	closer *closer
}

// Create opens a Queue over backend b. errHandler decides, on a failed
// completion, whether to retry (true, keeping the queue) or fail forward
// (false); it may be nil, in which case every error fails forward.
func Create(b backend.Backend, errHandler ErrorHandler, errOpaque any, opts ...Option) *Queue {
	d := queue.NewDriver(b, errHandler, errOpaque, opts...)
	q := &Queue{driver: d}
	q.closer = newCloser(func() { d.Destroy() })
	return q
}

// Open returns a fresh Producer Context with section 0.
func (q *Queue) Open() Producer {
	return q.driver.Open()
}

// Flush blocks until the queue is empty or an unrecoverable error is
// latched, and returns that error (nil on a clean drain).
func (q *Queue) Flush() error {
	return q.driver.Flush()
}

// IsEmpty reports whether the queue currently holds no pending or in-flight
// requests. Safe to call from any goroutine.
func (q *Queue) IsEmpty() bool {
	return q.driver.IsEmpty()
}

// Destroy flushes the queue and stops its submission loop. It must only be
// called after the caller ensures no further Producer calls will arrive,
// and it panics if the queue is not empty after the flush.
func (q *Queue) Destroy() {
	_ = q.closer.Close()
}

// Dump writes a human-readable listing of the pending list to w, in pop
// order, without consuming the queue.
func (q *Queue) Dump(w io.Writer) error {
	return q.driver.Dump(w)
}

// TableCache returns the companion Table Cache attached with
// WithTableCache, or nil if none was configured.
func (q *Queue) TableCache() *tablecache.Cache {
	return q.driver.TableCache()
}

// TableCacheErr reports any error from constructing the companion Table
// Cache requested via WithTableCache.
func (q *Queue) TableCacheErr() error {
	return q.driver.TableCacheErr()
}
