package queue

import (
	"log/slog"

	"blockqueue/pkg/tablecache"
)

// Option configures a Driver at construction time, following the same
// functional-options shape used throughout this codebase: a named type over
// a function, with an Apply/apply method rather than a bare function call,
// so options can be logged or inspected if needed.
type Option interface {
	apply(*Driver)
}

// OptionFunc adapts a plain function to the Option interface.
type OptionFunc func(*Driver)

func (f OptionFunc) apply(d *Driver) { f(d) }

// WithThreshold overrides the queue_size below which a lone Barrier is
// deferred rather than submitted immediately (default DefaultThreshold).
func WithThreshold(n int) Option {
	return OptionFunc(func(d *Driver) { d.threshold = n })
}

// WithLogger overrides the *slog.Logger used for submit/completion/retry
// logging (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return OptionFunc(func(d *Driver) { d.log = l })
}

// WithMetrics overrides the Metrics registered for this Driver (default
// NewMetrics(), which registers against the default Prometheus registry).
func WithMetrics(m *Metrics) Option {
	return OptionFunc(func(d *Driver) { d.metrics = m })
}

// WithTableCache attaches a companion pkg/tablecache.Cache of numTables
// entries, each tableSize bytes, backed by the same Backend the Driver
// writes through. There is no Option mechanism for surfacing a
// construction error, so a failure here is recorded on the Driver and
// returned by TableCacheErr rather than panicking.
func WithTableCache(numTables, tableSize uint) Option {
	return OptionFunc(func(d *Driver) {
		c, err := tablecache.New(d.backend, numTables, tableSize)
		if err != nil {
			d.tableCacheErr = err
			return
		}
		d.tableCache = c
	})
}
