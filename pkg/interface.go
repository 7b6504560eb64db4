package pkg

import "blockqueue/pkg/queue"

// Producer is the external contract a Context satisfies: the write-back
// block queue's Producer API (§6), independent of the concrete Driver
// backing it.
type Producer interface {
	// PWrite enqueues buf at offset, merging into existing queued writes
	// where possible.
	PWrite(offset uint64, buf []byte) error

	// PRead resolves size bytes at offset against the queue, falling
	// through to the backend for whatever remains unresolved.
	PRead(offset, size uint64) ([]byte, error)

	// Barrier closes the context's current section.
	Barrier() error

	// AIOFlush inserts or merges a tail Barrier and attaches a callback
	// that fires once that Barrier completes or the queue fails. It never
	// blocks.
	AIOFlush(cb func(opaque any, err error), opaque any) *queue.FlushWaiter

	// Section returns the context's current logical epoch.
	Section() queue.SectionNum
}
