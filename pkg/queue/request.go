package queue

import (
	"container/list"
	"sync"
	"time"
)

// SectionNum is a monotone integer denoting a producer's ordering epoch. A
// Barrier closes the section it was created in; requests created after the
// barrier merges belong to section+1.
type SectionNum uint64

// Kind tags a Request as either a Write or a Barrier.
type Kind int

const (
	KindWrite Kind = iota
	KindBarrier
)

func (k Kind) String() string {
	if k == KindBarrier {
		return "barrier"
	}
	return "write"
}

// Request is the fundamental queued unit: a Write or a Barrier. A Queue owns
// every Request it creates; the back-pointer to that Queue is non-owning and
// only valid for the Queue's lifetime.
type Request struct {
	kind    Kind
	section SectionNum
	offset  uint64
	size    uint64
	buf     []byte // owned copy of the write payload; nil for a Barrier

	waiters []*FlushWaiter

	// dispatchedAt is set when the request is handed to the backend, so
	// onComplete can observe how long the round trip took.
	dispatchedAt time.Time

	queue *Queue

	// pendingElem/sectionsElem/inFlightElem track this Request's node in the
	// owning Queue's lists so it can be removed in O(1) without a scan.
	pendingElem  *list.Element
	sectionsElem *list.Element
	inFlightElem *list.Element
}

func (r *Request) end() uint64 { return r.offset + r.size }

// overlaps reports whether [off, off+size) intersects the request's range.
func (r *Request) overlaps(off, size uint64) bool {
	return off < r.end() && r.offset < off+size
}

func (r *Request) addWaiter(w *FlushWaiter) {
	r.waiters = append(r.waiters, w)
}

// FlushWaiter is an externally visible completion handle attached to a
// Barrier request, returned by AIOFlush. Canceling a waiter only suppresses
// its callback; the Barrier it is attached to still proceeds and still
// drains the queue in front of it.
type FlushWaiter struct {
	mu       sync.Mutex
	canceled bool
	cb       func(opaque any, err error)
	opaque   any
}

func newFlushWaiter(cb func(opaque any, err error), opaque any) *FlushWaiter {
	return &FlushWaiter{cb: cb, opaque: opaque}
}

// Cancel prevents the waiter's callback from firing. It never removes the
// waiter's Barrier from the queue and never blocks an in-flight Barrier.
func (w *FlushWaiter) Cancel() {
	w.mu.Lock()
	w.canceled = true
	w.mu.Unlock()
}

func (w *FlushWaiter) fire(err error) {
	w.mu.Lock()
	canceled := w.canceled
	w.mu.Unlock()
	if canceled || w.cb == nil {
		return
	}
	w.cb(w.opaque, err)
}
