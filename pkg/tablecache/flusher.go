// Package tablecache implements a bounded, writeback cache of fixed-size
// metadata tables addressed by backend offset, with LRU-ish eviction and
// inter-cache flush dependencies (§4.4). It is a client of a backend, not of
// the queue directly — real deployments layer a cache's writeback writes
// through a queue.Driver so barrier semantics hold against data writes.
package tablecache

// Flusher reports a component's backing capacity and lets a caller force it
// to write back dirty state. Cache implements it so callers get visibility
// into how much of a cache's fixed capacity is occupied by loaded tables
// without reaching into its internals.
type Flusher interface {
	Flush() error
	AvailableBytes() uint
	UsedBytes() uint
	TotalBytes() uint
}
