package queue

import (
	"fmt"
	"io"
)

// Snapshot is a read-only view of one Request, as exposed by Dump/Iterate.
// It is safe to retain after the driver continues running: it is a copy,
// not a live reference into pending.
type Snapshot struct {
	Kind    Kind
	Section SectionNum
	Offset  uint64
	Size    uint64
	Waiters int
}

// Iterate calls fn once per Request currently in pending, front to back,
// without consuming the queue. It is meant for introspecting a stuck queue
// (mirrors the original implementation's dump_queue debug helper) and for
// tests asserting pop order without actually popping.
func (d *Driver) Iterate(fn func(Snapshot)) {
	if d.closed.Load() {
		return
	}
	d.submit(func() {
		for e := d.queue.pending.Front(); e != nil; e = e.Next() {
			r := e.Value.(*Request)
			fn(Snapshot{
				Kind:    r.kind,
				Section: r.section,
				Offset:  r.offset,
				Size:    r.size,
				Waiters: len(r.waiters),
			})
		}
	})
}

// Dump writes a human-readable listing of pending to w, one request per
// line, in pop order.
func (d *Driver) Dump(w io.Writer) error {
	var err error
	d.Iterate(func(s Snapshot) {
		if err != nil {
			return
		}
		if s.Kind == KindBarrier {
			_, err = fmt.Fprintf(w, "barrier section=%d waiters=%d\n", s.Section, s.Waiters)
			return
		}
		_, err = fmt.Fprintf(w, "write  section=%d offset=%d size=%d\n", s.Section, s.Offset, s.Size)
	})
	return err
}
