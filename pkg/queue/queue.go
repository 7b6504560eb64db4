package queue

import (
	"container/list"

	"github.com/cockroachdb/errors"

	"blockqueue/internal/arch"
)

// DefaultThreshold is the queue_size below which a lone Barrier is deferred
// rather than submitted immediately, matching the original implementation's
// default batch size.
const DefaultThreshold = 50

// Queue holds the process-wide state for one backing device: the pending
// and in-flight request lists, the sections index, and the counters and
// mode flags the Completion Driver consults. A Queue is not safe for
// concurrent use by itself — see Driver, which is the single owner of the
// goroutine that mutates a Queue's fields.
type Queue struct {
	pending  *list.List // *Request, submission order (not strict FIFO)
	inFlight *list.List // *Request, already handed to the backend
	sections *list.List // *Request, the Barrier subsequence of pending

	queueSize         arch.AtomicUint
	inFlightNum       arch.AtomicUint
	barriersRequested arch.AtomicUint
	barriersSubmitted arch.AtomicUint
	numWaitingForCB   arch.AtomicUint
}

func newQueue() *Queue {
	return &Queue{
		pending:  list.New(),
		inFlight: list.New(),
		sections: list.New(),
	}
}

func (q *Queue) len() int         { return q.pending.Len() }
func (q *Queue) inFlightLen() int { return q.inFlight.Len() }

// insertWrite places req immediately before the first Barrier in sections
// whose section is >= req.section, or at the tail of pending if no such
// Barrier exists (I4).
func (q *Queue) insertWrite(req *Request) {
	for e := q.sections.Front(); e != nil; e = e.Next() {
		barrier := e.Value.(*Request)
		if barrier.section >= req.section {
			req.pendingElem = q.pending.InsertBefore(req, barrier.pendingElem)
			return
		}
	}
	req.pendingElem = q.pending.PushBack(req)
}

// mergeOrCreateBarrier implements barrier(ctx)'s merge rule: the first
// Barrier in sections with section >= the requested section closes this
// epoch; otherwise a fresh Barrier is appended to both pending and sections.
func (q *Queue) mergeOrCreateBarrier(section SectionNum) (barrier *Request, created bool) {
	for e := q.sections.Front(); e != nil; e = e.Next() {
		b := e.Value.(*Request)
		if b.section >= section {
			return b, false
		}
	}
	req := &Request{kind: KindBarrier, section: section, queue: q}
	req.pendingElem = q.pending.PushBack(req)
	req.sectionsElem = q.sections.PushBack(req)
	return req, true
}

// mergeOrCreateTailBarrier implements aio_flush's stricter merge rule: it
// only merges with a Barrier that is the very last entry of pending, so its
// waiter fires only once the entire queue in front of it has drained.
func (q *Queue) mergeOrCreateTailBarrier(section SectionNum) (barrier *Request, created bool) {
	if back := q.pending.Back(); back != nil {
		if b, ok := back.Value.(*Request); ok && b.kind == KindBarrier && b.section >= section {
			return b, false
		}
	}
	req := &Request{kind: KindBarrier, section: section, queue: q}
	req.pendingElem = q.pending.PushBack(req)
	req.sectionsElem = q.sections.PushBack(req)
	return req, true
}

// pop removes and returns the head of pending, maintaining the sections
// index (I1).
func (q *Queue) pop() *Request {
	e := q.pending.Front()
	if e == nil {
		return nil
	}
	req := e.Value.(*Request)
	q.pending.Remove(e)
	req.pendingElem = nil
	if req.kind == KindBarrier {
		if q.sections.Front() != req.sectionsElem {
			panic(errors.Wrap(ErrSectionsInvariant, "blockqueue: barrier popped out of order"))
		}
		q.sections.Remove(req.sectionsElem)
		req.sectionsElem = nil
	}
	q.queueSize.Store(arch.UintToArchSize(uint(q.pending.Len())))
	return req
}

// reinsertAtHead undoes a pop for retry: req goes back to the front of
// pending (and sections, if it is a Barrier).
func (q *Queue) reinsertAtHead(req *Request) {
	req.pendingElem = q.pending.PushFront(req)
	if req.kind == KindBarrier {
		req.sectionsElem = q.sections.PushFront(req)
	}
	q.queueSize.Store(arch.UintToArchSize(uint(q.pending.Len())))
}

// pushWrite inserts req and accounts for it in queueSize.
func (q *Queue) pushWrite(req *Request) {
	q.insertWrite(req)
	q.queueSize.Store(arch.UintToArchSize(uint(q.pending.Len())))
}

// The following counters are mutated only by the Driver's loop goroutine
// and read from arbitrary goroutines (IsEmpty, metrics collection); Load and
// Store give the necessary cross-goroutine visibility without requiring the
// single writer to use an arithmetic atomic op.

func (q *Queue) incInFlight() {
	q.inFlightNum.Store(arch.UintToArchSize(uint(q.inFlightNum.Load()) + 1))
}

func (q *Queue) decInFlight() {
	q.inFlightNum.Store(arch.UintToArchSize(uint(q.inFlightNum.Load()) - 1))
}

func (q *Queue) incBarriersRequested() {
	q.barriersRequested.Store(arch.UintToArchSize(uint(q.barriersRequested.Load()) + 1))
}

func (q *Queue) incBarriersSubmitted() {
	q.barriersSubmitted.Store(arch.UintToArchSize(uint(q.barriersSubmitted.Load()) + 1))
}

func (q *Queue) incWaitingForCB() {
	q.numWaitingForCB.Store(arch.UintToArchSize(uint(q.numWaitingForCB.Load()) + 1))
}

func (q *Queue) decWaitingForCB() {
	q.numWaitingForCB.Store(arch.UintToArchSize(uint(q.numWaitingForCB.Load()) - 1))
}
