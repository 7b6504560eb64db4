package backend

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// NullOption configures a Null backend, mirroring the latency-ns,
// read-zeroes, and read-synthetic options of the original null block
// driver.
type NullOption func(*Null)

// WithLatency delays every completion by d before invoking its callback,
// simulating a device with fixed latency.
func WithLatency(d time.Duration) NullOption {
	return func(n *Null) { n.latency = d }
}

// WithReadZeroes makes reads return zero-filled buffers instead of the
// content last written (useful for exercising the Overlap Resolver's
// fallthrough path in isolation from backend content).
func WithReadZeroes() NullOption {
	return func(n *Null) { n.readZeroes = true }
}

// WithReadSynthetic fills reads that miss the in-memory image with a fixed
// byte pattern instead of zero, matching the null driver's read-synthetic
// mode.
func WithReadSynthetic(fill byte) NullOption {
	return func(n *Null) { n.synthetic = &fill }
}

// WithWriteThrough marks the backend as write-through, so the queue
// bypasses it entirely for pwrite/barrier/aio_flush.
func WithWriteThrough() NullOption {
	return func(n *Null) { n.writeThrough = true }
}

// WithFailNext arranges for the next n AsyncPwrite/AsyncFlush completions to
// fail with err instead of succeeding, for exercising the error/flush state
// machine in tests.
func WithFailNext(n int, err error) NullOption {
	return func(b *Null) {
		b.failuresLeft = n
		b.failureErr = err
	}
}

// Null is an in-memory Backend, the test double standing in for the
// original null block driver: it never touches a real device, keeps its
// image (if tracked) in a map, and can be configured to inject latency or
// failures.
type Null struct {
	mu sync.Mutex

	latency      time.Duration
	readZeroes   bool
	synthetic    *byte
	writeThrough bool

	failuresLeft int
	failureErr   error

	image map[uint64][]byte
}

// NewNull creates a Null backend with the given options applied.
func NewNull(opts ...NullOption) *Null {
	n := &Null{image: make(map[uint64][]byte)}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Null) SyncPread(offset, size uint64) ([]byte, error) {
	out := make([]byte, size)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.readZeroes {
		return out, nil
	}
	if n.synthetic != nil {
		for i := range out {
			out[i] = *n.synthetic
		}
	}
	if buf, ok := n.image[offset]; ok && uint64(len(buf)) == size {
		copy(out, buf)
	}
	return out, nil
}

// FailNext re-arms the failure counter WithFailNext sets at construction,
// replacing whatever is left of it. Exported so tests can inject a second
// failure after the backend is already in use.
func (n *Null) FailNext(count int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failuresLeft = count
	n.failureErr = err
}

func (n *Null) nextErr() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failuresLeft <= 0 {
		return nil
	}
	n.failuresLeft--
	return n.failureErr
}

func (n *Null) complete(cb func(error)) {
	err := n.nextErr()
	if n.latency <= 0 {
		cb(err)
		return
	}
	time.AfterFunc(n.latency, func() { cb(err) })
}

func (n *Null) AsyncPwrite(offset uint64, buf []byte, cb func(error)) error {
	cp := append([]byte(nil), buf...)
	n.mu.Lock()
	n.image[offset] = cp
	n.mu.Unlock()
	n.complete(cb)
	return nil
}

func (n *Null) AsyncFlush(cb func(error)) error {
	n.complete(cb)
	return nil
}

func (n *Null) OpenFlags() OpenFlags {
	return OpenFlags{WriteThrough: n.writeThrough}
}

func (n *Null) Close() error { return nil }

// ErrInjected is a convenience error for WithFailNext callers that don't
// need a specific cause.
var ErrInjected = errors.New("blockqueue: injected backend failure")
