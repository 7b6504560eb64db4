package queue

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"blockqueue/pkg/backend"
	"blockqueue/pkg/tablecache"
)

// Driver is the Completion Driver (§4.3): it owns the single goroutine that
// mutates a Queue's state, submits the queue head to the backend, and
// routes completions back to requests and FlushWaiters. All Producer
// Context calls and all backend completions funnel through this goroutine,
// which is the Go re-expression of "single-threaded cooperative, one event
// loop owns all state" (§5) — producer goroutines hop onto the loop
// synchronously via submit, and backend completions arrive asynchronously
// on the completions channel, but both are processed one at a time by the
// same goroutine.
type Driver struct {
	queue   *Queue
	backend backend.Backend

	errHandler ErrorHandler
	errOpaque  any

	threshold int

	flushing int // 0 Open, >0 Flushing, <0 Error-Stop (fail-forward latched)
	errorRet error

	drainWaiters []chan error

	cmds        chan func()
	completions chan completionEvent
	done        chan struct{}
	closed      atomic.Bool

	metrics *Metrics
	log     *slog.Logger

	tableCache    *tablecache.Cache
	tableCacheErr error
}

type completionEvent struct {
	req *Request
	err error
}

// NewDriver creates a Driver over backend b and starts its loop goroutine.
func NewDriver(b backend.Backend, errHandler ErrorHandler, errOpaque any, opts ...Option) *Driver {
	d := &Driver{
		queue:       newQueue(),
		backend:     b,
		errHandler:  errHandler,
		errOpaque:   errOpaque,
		threshold:   DefaultThreshold,
		cmds: make(chan func()),
		// Buffered so a backend that invokes its completion callback
		// synchronously (from within AsyncPwrite/AsyncFlush, on the loop
		// goroutine itself) does not deadlock against the loop's own
		// select. In-flight is capped at one request by submitOne's
		// refusal rule, so a small buffer is ample headroom.
		completions: make(chan completionEvent, 16),
		done:        make(chan struct{}),
		metrics:     NewMetrics(),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(d)
	}
	go d.loop()
	return d
}

// Open returns a fresh Producer Context with section 0.
func (d *Driver) Open() *Context {
	return &Context{driver: d}
}

// TableCache returns the companion Table Cache attached with
// WithTableCache, or nil if none was configured.
func (d *Driver) TableCache() *tablecache.Cache {
	return d.tableCache
}

// TableCacheErr reports any error from constructing the companion Table
// Cache requested via WithTableCache.
func (d *Driver) TableCacheErr() error {
	return d.tableCacheErr
}

func (d *Driver) loop() {
	for {
		select {
		case fn := <-d.cmds:
			fn()
		case c := <-d.completions:
			d.onComplete(c.req, c.err)
		case <-d.done:
			return
		}
	}
}

// submit runs fn on the loop goroutine and blocks until it has finished.
// Every Queue-mutating Driver method uses submit so that Queue fields are
// only ever touched by the loop goroutine.
func (d *Driver) submit(fn func()) {
	done := make(chan struct{})
	d.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

func (d *Driver) writeThrough() bool {
	return d.backend.OpenFlags().WriteThrough
}

// PWrite enqueues a Write for ctx, or bypasses the queue and writes
// synchronously if the backend is write-through.
func (d *Driver) PWrite(ctx *Context, offset uint64, buf []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.writeThrough() {
		return syncPwrite(d.backend, offset, buf)
	}
	d.submit(func() {
		leftover, bumped := resolveWriteMerge(d.queue.pending, ctx.section, offset, uint64(len(buf)), buf)
		ctx.section = bumped
		for _, s := range leftover {
			req := &Request{
				kind:    KindWrite,
				section: ctx.section,
				offset:  s.off,
				size:    s.size,
				buf:     append([]byte(nil), buf[s.off-offset:s.off-offset+s.size]...),
				queue:   d.queue,
			}
			d.queue.pushWrite(req)
		}
		d.drive()
	})
	return nil
}

// PRead resolves size bytes at offset against the queue, falling through to
// the backend for whatever remains, or bypasses the queue entirely if the
// backend is write-through.
func (d *Driver) PRead(ctx *Context, offset, size uint64) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if d.writeThrough() {
		return d.backend.SyncPread(offset, size)
	}
	out := make([]byte, size)
	var leftover []span
	d.submit(func() {
		leftover = resolveRead(d.queue.pending, d.queue.inFlight, &ctx.section, offset, size, out)
	})
	for _, s := range leftover {
		got, err := d.backend.SyncPread(s.off, s.size)
		if err != nil {
			return nil, errors.Wrapf(err, "blockqueue: backend read at offset %d size %d", s.off, s.size)
		}
		copy(out[s.off-offset:s.off-offset+s.size], got)
	}
	return out, nil
}

// Barrier closes ctx's current section, merging with an existing Barrier if
// one already covers it.
func (d *Driver) Barrier(ctx *Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.writeThrough() {
		return syncFlush(d.backend)
	}
	d.submit(func() {
		barrier, created := d.queue.mergeOrCreateBarrier(ctx.section)
		ctx.section = barrier.section + 1
		if created {
			d.queue.incBarriersRequested()
		}
		d.drive()
	})
	return nil
}

// AIOFlush inserts or merges a tail Barrier for ctx and attaches w, whose
// callback fires once that Barrier completes or the queue fails.
func (d *Driver) AIOFlush(ctx *Context, cb func(opaque any, err error), opaque any) *FlushWaiter {
	w := newFlushWaiter(cb, opaque)
	if d.closed.Load() {
		w.fire(ErrClosed)
		return w
	}
	if d.writeThrough() {
		err := syncFlush(d.backend)
		w.fire(err)
		return w
	}
	d.submit(func() {
		barrier, created := d.queue.mergeOrCreateTailBarrier(ctx.section)
		ctx.section = barrier.section + 1
		if created {
			d.queue.incBarriersRequested()
		}
		barrier.addWaiter(w)
		d.queue.incWaitingForCB()
		d.drive()
	})
	return w
}

// Flush blocks until both the pending and in-flight lists are empty, or an
// unrecoverable error is latched. It forces barriers to submit regardless
// of threshold for as long as it is outstanding.
func (d *Driver) Flush() error {
	if d.closed.Load() {
		return ErrClosed
	}
	ch := make(chan error, 1)
	d.submit(func() {
		if d.flushing == 0 {
			d.flushing = 1
		}
		d.drainWaiters = append(d.drainWaiters, ch)
		d.drive()
		d.checkDrainWaiters()
	})
	return <-ch
}

// IsEmpty reports whether both the pending and in-flight lists are empty.
// It reads the atomic counters directly and does not round-trip through the
// loop, so it is safe to call from any goroutine without blocking on queue
// activity.
func (d *Driver) IsEmpty() bool {
	return d.queue.queueSize.Load() == 0 && d.queue.inFlightNum.Load() == 0
}

// Destroy flushes the queue and stops the loop goroutine. It panics if the
// queue is not empty after the flush — that is a caller bug (§7's "logical
// misuse" category), not a runtime condition to recover from.
func (d *Driver) Destroy() {
	if d.closed.Load() {
		return
	}
	_ = d.Flush()
	d.submit(func() {
		if d.queue.len() != 0 || d.queue.inFlightLen() != 0 {
			panic(errors.Wrap(ErrDestroyNotEmpty, "blockqueue: Destroy"))
		}
		d.closed.Store(true)
		close(d.done)
	})
}

// submitOne implements §4.3's submit_one: pop and dispatch the pending head
// if the Driver is willing to submit right now.
func (d *Driver) submitOne() bool {
	if d.errorRet != nil {
		return false
	}
	if d.queue.inFlightNum.Load() > 0 {
		return false
	}
	front := d.queue.pending.Front()
	if front == nil {
		return false
	}
	head := front.Value.(*Request)
	if head.kind == KindBarrier {
		small := int(d.queue.queueSize.Load()) < d.threshold
		if small && d.flushing <= 0 && d.queue.numWaitingForCB.Load() == 0 {
			return false
		}
	}

	d.queue.pop()
	head.inFlightElem = d.queue.inFlight.PushBack(head)
	d.queue.incInFlight()
	d.metrics.QueueDepth.Set(float64(d.queue.queueSize.Load()))
	d.metrics.InFlight.Set(float64(d.queue.inFlightNum.Load()))
	d.dispatch(head)
	return true
}

func (d *Driver) dispatch(req *Request) {
	req.dispatchedAt = time.Now()
	complete := func(err error) {
		d.completions <- completionEvent{req: req, err: err}
	}
	switch req.kind {
	case KindWrite:
		d.log.Debug("submitting write", sectionAttr(req.section), offsetAttr(req.offset), sizeAttr(req.size))
		if err := d.backend.AsyncPwrite(req.offset, req.buf, complete); err != nil {
			complete(errors.Wrap(err, "blockqueue: submit write failed"))
		}
	case KindBarrier:
		d.log.Debug("submitting barrier", sectionAttr(req.section))
		d.queue.incBarriersSubmitted()
		d.metrics.BarriersTotal.Inc()
		if err := d.backend.AsyncFlush(complete); err != nil {
			complete(errors.Wrap(err, "blockqueue: submit barrier failed"))
		}
	}
}

// drive implements §4.3's drive(): repeatedly submit until submitOne
// refuses, then check whether any blocked Flush calls can be released.
func (d *Driver) drive() {
	for d.submitOne() {
	}
	d.checkDrainWaiters()
}

func (d *Driver) removeInFlight(req *Request) {
	if req.inFlightElem != nil {
		d.queue.inFlight.Remove(req.inFlightElem)
		req.inFlightElem = nil
	}
	d.queue.decInFlight()
}

// onComplete implements §4.3's on_complete.
func (d *Driver) onComplete(req *Request, err error) {
	d.removeInFlight(req)
	d.metrics.InFlight.Set(float64(d.queue.inFlightNum.Load()))
	d.metrics.QueueDepth.Set(float64(d.queue.queueSize.Load()))
	if !req.dispatchedAt.IsZero() {
		d.metrics.SubmitLatency.Observe(time.Since(req.dispatchedAt).Seconds())
	}

	if err != nil {
		if d.errorRet == nil || IsNoSpace(err) {
			d.errorRet = err
		}
	}

	latched := d.errorRet
	for _, w := range req.waiters {
		w.fire(latched)
		d.queue.decWaitingForCB()
	}

	if err != nil {
		d.log.Warn("completion failed", kindAttr(req.kind), sectionAttr(req.section), "error", err)
		if d.errHandler != nil && d.errHandler(d.errOpaque, err) {
			d.log.Warn("retrying after error", sectionAttr(req.section))
			d.metrics.RetriesTotal.Inc()
			req.waiters = nil
			d.queue.reinsertAtHead(req)
			d.errorRet = nil
			d.flushing = 0
		} else {
			d.log.Error("failing queue after error", "error", err)
			d.metrics.FailuresTotal.Inc()
			d.failAllWaiters(latched)
			d.flushing = -1
			req.buf = nil
		}
	}

	d.drive()
}

// failAllWaiters fires every still-queued Barrier's FlushWaiters with err
// and clears them. Writes are left in pending (§4.6: "the queue is drained
// of waiters but Writes remain").
func (d *Driver) failAllWaiters(err error) {
	for e := d.queue.pending.Front(); e != nil; e = e.Next() {
		r := e.Value.(*Request)
		if r.kind != KindBarrier || len(r.waiters) == 0 {
			continue
		}
		for _, w := range r.waiters {
			w.fire(err)
			d.queue.decWaitingForCB()
		}
		r.waiters = nil
	}
}

// checkDrainWaiters releases any Flush callers once both lists are empty or
// the queue has latched a fail-forward error. An explicit Flush (or a
// Destroy, which calls Flush) on a fail-forward queue is what drops the
// Writes a failure left stranded behind it in pending (§4.6) — the latch
// does not clear itself, and nothing drops those Writes until a caller
// asks for a drain.
func (d *Driver) checkDrainWaiters() {
	if len(d.drainWaiters) == 0 {
		return
	}
	failed := d.flushing < 0
	if failed {
		d.dropPendingLocked()
	}
	empty := d.queue.len() == 0 && d.queue.inFlightLen() == 0
	if !empty && !failed {
		return
	}
	var result error
	if failed {
		result = d.errorRet
	}
	for _, ch := range d.drainWaiters {
		ch <- result
	}
	d.drainWaiters = nil
	if empty && d.flushing > 0 {
		d.flushing = 0
	}
}

// dropPendingLocked discards every Request still queued once a
// fail-forward error has latched, firing any Barrier waiters that
// failAllWaiters did not already reach (e.g. an AIOFlush submitted after
// the latch). This is what lets Destroy succeed after a fail-forward that
// left Writes behind: nothing else ever pops them, since submitOne
// refuses for as long as errorRet is set.
func (d *Driver) dropPendingLocked() {
	latched := d.errorRet
	for d.queue.len() > 0 {
		req := d.queue.pop()
		for _, w := range req.waiters {
			w.fire(latched)
			d.queue.decWaitingForCB()
		}
		req.waiters = nil
	}
	d.metrics.QueueDepth.Set(float64(d.queue.queueSize.Load()))
}

func syncPwrite(b backend.Backend, offset uint64, buf []byte) error {
	ch := make(chan error, 1)
	if err := b.AsyncPwrite(offset, buf, func(err error) { ch <- err }); err != nil {
		return errors.Wrap(err, "blockqueue: write-through write failed")
	}
	return <-ch
}

func syncFlush(b backend.Backend) error {
	ch := make(chan error, 1)
	if err := b.AsyncFlush(func(err error) { ch <- err }); err != nil {
		return errors.Wrap(err, "blockqueue: write-through flush failed")
	}
	return <-ch
}
