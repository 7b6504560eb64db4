package queue_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockqueue/pkg/backend"
	"blockqueue/pkg/queue"
)

// snapshot flattens Iterate's output into a slice for easy
// assertions about pop order, mirroring check-block-queue.c's
// POP_CHECK_WRITE/POP_CHECK_BARRIER macros but without consuming the queue.
func snapshot(d *queue.Driver) []queue.Snapshot {
	var out []queue.Snapshot
	d.Iterate(func(s queue.Snapshot) { out = append(out, s) })
	return out
}

func waitEmpty(t *testing.T, d *queue.Driver) {
	t.Helper()
	require.Eventually(t, d.IsEmpty, time.Second, time.Millisecond)
}

func newTestDriver(bOpts []backend.NullOption, opts ...queue.Option) (*queue.Driver, *backend.Null) {
	m := queue.NewMetricsFor(prometheus.NewRegistry())
	b := backend.NewNull(bOpts...)
	opts = append(opts, queue.WithMetrics(m))
	return queue.NewDriver(b, nil, nil, opts...), b
}

func TestBasicEnqueueAndPop(t *testing.T) {
	d, _ := newTestDriver(nil)
	ctx := d.Open()

	require.NoError(t, ctx.PWrite(0, pattern(512, 0x12)))
	require.NoError(t, ctx.PWrite(512, pattern(42, 0x34)))
	require.NoError(t, ctx.Barrier())
	require.NoError(t, ctx.PWrite(678, pattern(42, 0x56)))

	got := snapshot(d)
	require.Len(t, got, 4)
	assertWrite(t, got[0], 0, 0)
	assertWrite(t, got[1], 512, 0)
	assertBarrier(t, got[2], 0)
	assertWrite(t, got[3], 678, 1)
}

func TestCrossContextMerging(t *testing.T) {
	d, _ := newTestDriver(nil)
	c1 := d.Open()
	c2 := d.Open()

	require.NoError(t, c1.PWrite(0, pattern(512, 0x12)))
	require.NoError(t, c1.Barrier())
	require.NoError(t, c2.PWrite(512, pattern(42, 0x34)))
	require.NoError(t, c1.PWrite(1024, pattern(512, 0x12)))
	require.NoError(t, c2.Barrier())
	require.NoError(t, c2.PWrite(1536, pattern(42, 0x34)))

	got := snapshot(d)
	require.Len(t, got, 5)
	assertWrite(t, got[0], 0, 0)
	assertWrite(t, got[1], 512, 0)
	assertBarrier(t, got[2], 0)
	assertWrite(t, got[3], 1024, 1)
	assertWrite(t, got[4], 1536, 1)
}

func TestReadOverQueue(t *testing.T) {
	d, _ := newTestDriver([]backend.NullOption{backend.WithReadSynthetic(0xA5)})
	ctx := d.Open()

	require.NoError(t, ctx.PWrite(5, pattern(5, 0x12)))

	out, err := ctx.PRead(0, 32)
	require.NoError(t, err)
	assert.Equal(t, pattern(5, 0x12), out[5:10])
	assert.Equal(t, pattern(5, 0xA5), out[0:5])
	assert.Equal(t, pattern(22, 0xA5), out[10:32])

	require.NoError(t, ctx.PWrite(0, pattern(2, 0x12)))
	out, err = ctx.PRead(0, 32)
	require.NoError(t, err)
	assert.Equal(t, pattern(2, 0x12), out[0:2])
	assert.Equal(t, pattern(3, 0xA5), out[2:5])
	assert.Equal(t, pattern(5, 0x12), out[5:10])
	assert.Equal(t, pattern(22, 0xA5), out[10:32])
}

func TestAioFlushDoesNotMergeUnlessTail(t *testing.T) {
	d, _ := newTestDriver(nil)
	ctx := d.Open()

	require.NoError(t, ctx.PWrite(25, pattern(5, 0x44)))
	require.NoError(t, ctx.Barrier())

	var fired int
	var firedErr error
	waiter := ctx.AIOFlush(func(_ any, err error) {
		fired++
		firedErr = err
	}, nil)
	require.NotNil(t, waiter)

	pending := snapshot(d)
	require.Len(t, pending, 3, "aio_flush must not merge with the non-tail barrier")
	assertBarrier(t, pending[1], 0)
	assertBarrier(t, pending[2], 1)

	waitEmpty(t, d)
	assert.Equal(t, 1, fired)
	assert.NoError(t, firedErr)
}

// TestSameSectionOverwriteBumpsCrossSectionWrite reproduces the
// same-section-overwrite walkthrough: a write only merges in place when it
// lands on a Request still in its own section; overlapping a Request from a
// later section bumps the context forward instead of mutating that
// Request's bytes, and the overlapped remainder becomes a new Request at
// the bumped section.
func TestSameSectionOverwriteBumpsCrossSectionWrite(t *testing.T) {
	d, _ := newTestDriver(nil)
	c1 := d.Open()
	c2 := d.Open()

	require.NoError(t, c1.PWrite(25, pattern(5, 0x44)))
	require.NoError(t, c1.Barrier())
	require.NoError(t, c1.PWrite(5, pattern(5, 0x12)))
	require.NoError(t, c1.Barrier())

	require.NoError(t, c2.PWrite(10, pattern(5, 0x34)))
	require.NoError(t, c2.PWrite(0, pattern(10, 0x34)))
	require.NoError(t, c2.Barrier())

	got := snapshot(d)
	require.Len(t, got, 6)
	assertWrite(t, got[0], 25, 0)
	assertWrite(t, got[1], 10, 0)
	assertBarrier(t, got[2], 0)
	assertWrite(t, got[3], 5, 1)
	assertWrite(t, got[4], 0, 1)
	assertBarrier(t, got[5], 1)
}

func TestErrorStopAndRetry(t *testing.T) {
	var handlerCalls int
	handler := func(_ any, _ error) bool {
		handlerCalls++
		return handlerCalls == 1
	}

	failing := backend.NewNull(backend.WithFailNext(1, backend.ErrInjected))
	d := queue.NewDriver(failing, handler, nil, queue.WithThreshold(1))
	ctx := d.Open()

	require.NoError(t, ctx.PWrite(0, pattern(8, 0x01)))
	require.NoError(t, ctx.Barrier())

	waitEmpty(t, d)
	assert.Equal(t, 1, handlerCalls)

	require.NoError(t, ctx.PWrite(8, pattern(8, 0x02)))
	require.NoError(t, ctx.Barrier())
	waitEmpty(t, d)
	assert.Equal(t, 1, handlerCalls, "second drive should not fail again")
}

// TestErrorLatchDropsPendingWritesAndAllowsDestroy reproduces the second
// half of spec.md §8 scenario 6: a failure after resume whose handler
// returns false latches the queue permanently, firing every outstanding
// FlushWaiter with the latched error but leaving Writes stranded in
// pending. An explicit Flush (or Destroy, which calls Flush) is what drops
// those stranded Writes.
func TestErrorLatchDropsPendingWritesAndAllowsDestroy(t *testing.T) {
	var handlerCalls int
	handler := func(_ any, _ error) bool {
		handlerCalls++
		return handlerCalls == 1
	}

	failing := backend.NewNull(backend.WithFailNext(1, backend.ErrInjected), backend.WithLatency(20*time.Millisecond))
	d := queue.NewDriver(failing, handler, nil, queue.WithThreshold(1))
	ctx := d.Open()

	require.NoError(t, ctx.PWrite(0, pattern(8, 0x01)))
	require.NoError(t, ctx.Barrier())
	waitEmpty(t, d)
	require.Equal(t, 1, handlerCalls, "first failure should retry")

	failing.FailNext(1, backend.ErrInjected)

	require.NoError(t, ctx.PWrite(8, pattern(8, 0x02)))
	require.NoError(t, ctx.PWrite(16, pattern(8, 0x03)))

	var waiterFired int
	var waiterErr error
	waiter := ctx.AIOFlush(func(_ any, err error) {
		waiterFired++
		waiterErr = err
	}, nil)
	require.NotNil(t, waiter)

	require.Eventually(t, func() bool { return waiterFired == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, handlerCalls, "second failure's handler must return false")
	assert.ErrorIs(t, waiterErr, backend.ErrInjected)

	pending := snapshot(d)
	require.NotEmpty(t, pending, "the stranded write must still be sitting in pending")

	err := d.Flush()
	require.ErrorIs(t, err, backend.ErrInjected)
	assert.Empty(t, snapshot(d), "Flush must drop the pending entries a fail-forward left stranded")

	d.Destroy() // would panic with ErrDestroyNotEmpty if Flush left anything behind
}

func TestCallsAfterDestroyReturnErrClosed(t *testing.T) {
	d, _ := newTestDriver(nil)
	ctx := d.Open()
	d.Destroy()

	assert.ErrorIs(t, ctx.PWrite(0, []byte{1}), queue.ErrClosed)
	_, err := ctx.PRead(0, 1)
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.ErrorIs(t, ctx.Barrier(), queue.ErrClosed)
	assert.ErrorIs(t, d.Flush(), queue.ErrClosed)

	done := make(chan error, 1)
	ctx.AIOFlush(func(_ any, err error) { done <- err }, nil)
	assert.ErrorIs(t, <-done, queue.ErrClosed)

	d.Destroy() // idempotent
}

func assertWrite(t *testing.T, s queue.Snapshot, offset uint64, section queue.SectionNum) {
	t.Helper()
	require.Equal(t, queue.KindWrite, s.Kind)
	assert.Equal(t, offset, s.Offset)
	assert.Equal(t, section, s.Section)
}

func assertBarrier(t *testing.T, s queue.Snapshot, section queue.SectionNum) {
	t.Helper()
	require.Equal(t, queue.KindBarrier, s.Kind)
	assert.Equal(t, section, s.Section)
}

func pattern(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
