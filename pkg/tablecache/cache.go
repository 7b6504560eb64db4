package tablecache

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"

	"blockqueue/internal/arena"
	"blockqueue/pkg/backend"
)

// Entry is one cached table. Its buffer is a fixed-size slice carved out of
// the owning Cache's arena at construction time and reused in place for the
// cache's lifetime — tables are never individually freed, matching the
// arena's own allocate-once semantics.
type Entry struct {
	buf []byte

	offset    uint64
	valid     bool
	refcount  int
	dirty     bool
	keepDirty bool
	reading   bool
	hits      uint64

	cond *sync.Cond
}

// Cache is a bounded set of fixed-size cached tables addressed by backend
// offset (§4.4). It implements Flusher.
type Cache struct {
	mu sync.Mutex

	backend backend.Backend
	arena   *arena.Arena

	tableSize uint
	entries   []*Entry
	byOffset  map[uint64]*Entry

	depends *Cache

	freeCond *sync.Cond
	closed   bool
}

// New creates a Cache of numTables entries, each tableSize bytes, backed by
// b. All table storage is carved out of one arena up front.
func New(b backend.Backend, numTables, tableSize uint) (*Cache, error) {
	const tableAlign = 8
	// Each Allocate reserves tableSize+tableAlign-1 bytes, and the arena
	// keeps its first byte as the nil offset.
	a := arena.New(1 + numTables*(tableSize+tableAlign-1))
	c := &Cache{
		backend:   b,
		arena:     a,
		tableSize: tableSize,
		entries:   make([]*Entry, numTables),
		byOffset:  make(map[uint64]*Entry, numTables),
	}
	c.freeCond = sync.NewCond(&c.mu)
	for i := range c.entries {
		off, err := a.Allocate(tableSize, tableAlign)
		if err != nil {
			return nil, errors.Wrap(err, "tablecache: allocate table storage")
		}
		c.entries[i] = &Entry{
			buf:  a.GetBytes(off, tableSize),
			cond: sync.NewCond(&c.mu),
		}
	}
	return c, nil
}

// Get returns a pinned reference to the table at offset, loading it from
// the backend if it is not already cached. The caller must call Put when
// done. If a concurrent fetch for the same offset is already in progress,
// Get waits for it rather than issuing a second read.
func (c *Cache) Get(offset uint64) (*Entry, error) {
	return c.get(offset, true)
}

// TryGet behaves like Get but returns ErrCacheFull immediately, instead of
// waiting, if every entry is pinned and none can be evicted.
func (c *Cache) TryGet(offset uint64) (*Entry, error) {
	return c.get(offset, false)
}

func (c *Cache) get(offset uint64, block bool) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if e, ok := c.byOffset[offset]; ok {
		for e.reading {
			e.cond.Wait()
		}
		e.refcount++
		e.hits++
		return e, nil
	}

	e, err := c.acquireSlotLocked(block)
	if err != nil {
		return nil, err
	}

	e.reading = true
	e.offset = offset
	e.valid = false
	c.byOffset[offset] = e

	c.mu.Unlock()
	data, readErr := c.backend.SyncPread(offset, uint64(c.tableSize))
	c.mu.Lock()

	if readErr != nil {
		delete(c.byOffset, offset)
		e.reading = false
		e.cond.Broadcast()
		c.freeCond.Broadcast()
		return nil, errors.Wrapf(readErr, "tablecache: load table at offset %d", offset)
	}

	copy(e.buf, data)
	e.valid = true
	e.reading = false
	e.refcount = 1
	e.hits++
	e.cond.Broadcast()
	return e, nil
}

// acquireSlotLocked finds a free entry to repurpose, evicting the unpinned
// entry with the fewest hits if every slot is in use. A dirty victim is
// written back first, after the cache's dependency chain is flushed. If block is false and no slot is immediately
// available, it returns ErrCacheFull instead of waiting. c.mu is held on
// entry and exit.
func (c *Cache) acquireSlotLocked(block bool) (*Entry, error) {
	for {
		for _, e := range c.entries {
			if !e.valid && !e.reading {
				return e, nil
			}
		}

		victim := c.pickVictimLocked()
		if victim == nil {
			if !block {
				return nil, ErrCacheFull
			}
			c.freeCond.Wait()
			continue
		}

		if victim.dirty {
			if c.depends != nil {
				if err := c.depends.Flush(); err != nil {
					return nil, errors.Wrap(err, "tablecache: flush dependency before eviction")
				}
			}
			if err := c.flushEntryLocked(victim); err != nil {
				return nil, err
			}
		}
		delete(c.byOffset, victim.offset)
		victim.valid = false
		return victim, nil
	}
}

func (c *Cache) pickVictimLocked() *Entry {
	var victim *Entry
	for _, e := range c.entries {
		if e.refcount != 0 || e.reading {
			continue
		}
		if victim == nil || e.hits < victim.hits {
			victim = e
		}
	}
	return victim
}

// Put releases the caller's reference to e, waking any fetcher waiting for
// a free slot once the last reference is gone.
func (c *Cache) Put(e *Entry) {
	c.mu.Lock()
	e.refcount--
	if e.refcount == 0 {
		c.freeCond.Broadcast()
	}
	c.mu.Unlock()
}

// MarkDirty marks e as needing writeback. If e is currently being written
// back, keep-dirty is set instead, so the in-progress flush does not clear
// a dirty bit that this call just set.
func (c *Cache) MarkDirty(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.dirty {
		e.keepDirty = true
		return
	}
	e.dirty = true
}

// SetDependency establishes "flush dep before c". If c already depends on a
// different cache, that existing dependency is flushed first.
func (c *Cache) SetDependency(dep *Cache) error {
	c.mu.Lock()
	old := c.depends
	c.mu.Unlock()

	if old != nil && old != dep {
		if err := old.Flush(); err != nil {
			return errors.Wrap(err, "tablecache: flush superseded dependency")
		}
	}

	c.mu.Lock()
	c.depends = dep
	c.mu.Unlock()
	return nil
}

// Flush writes back every dirty entry, resolving any dependency chain
// first, then issues a backend flush. It reports every entry-flush failure,
// not just the first.
func (c *Cache) Flush() error {
	c.mu.Lock()
	dep := c.depends
	c.mu.Unlock()

	var result *multierror.Error
	if dep != nil {
		if err := dep.Flush(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.mu.Lock()
	for _, e := range c.entries {
		if !e.dirty {
			continue
		}
		if err := c.flushEntryLocked(e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.mu.Unlock()

	ch := make(chan error, 1)
	if err := c.backend.AsyncFlush(func(err error) { ch <- err }); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "tablecache: submit backend flush"))
	} else if err := <-ch; err != nil {
		result = multierror.Append(result, errors.Wrap(err, "tablecache: backend flush"))
	}

	return result.ErrorOrNil()
}

// flushEntryLocked writes back e's buffer. c.mu is held on entry; it is
// released while the write is outstanding and reacquired before returning.
func (c *Cache) flushEntryLocked(e *Entry) error {
	e.keepDirty = false
	buf := append([]byte(nil), e.buf...)
	offset := e.offset

	c.mu.Unlock()
	ch := make(chan error, 1)
	err := c.backend.AsyncPwrite(offset, buf, func(err error) { ch <- err })
	if err == nil {
		err = <-ch
	}
	c.mu.Lock()

	if err != nil {
		return errors.Wrapf(err, "tablecache: writeback table at offset %d", offset)
	}
	if e.keepDirty {
		e.keepDirty = false
	} else {
		e.dirty = false
	}
	return nil
}

// AvailableBytes reports how many bytes of capacity remain unused.
func (c *Cache) AvailableBytes() uint {
	return c.TotalBytes() - c.UsedBytes()
}

// UsedBytes reports how many bytes are currently occupied by valid tables.
func (c *Cache) UsedBytes() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	var used uint
	for _, e := range c.entries {
		if e.valid {
			used += c.tableSize
		}
	}
	return used
}

// TotalBytes reports the cache's fixed capacity.
func (c *Cache) TotalBytes() uint {
	return uint(len(c.entries)) * c.tableSize
}

// Close releases the cache's arena. Callers must Flush first if dirty
// tables must survive.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.arena.Close()
}
