package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a Driver updates as it submits
// and completes requests. NewMetrics registers its collectors against the
// default registry; construct a Driver with WithMetrics(NewMetricsFor(reg))
// to use a different one. Registration errors are ignored, so a second
// Driver on the same registry keeps collectors that the registry does not
// export; tests give each Driver its own registry.
type Metrics struct {
	QueueDepth     prometheus.Gauge
	InFlight       prometheus.Gauge
	SubmitLatency  prometheus.Histogram
	BarriersTotal  prometheus.Counter
	RetriesTotal   prometheus.Counter
	FailuresTotal  prometheus.Counter
}

// NewMetrics builds a Metrics and registers it against the default
// registry, matching how the teacher's test/benchmark code registers
// collectors at package scope.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor builds a Metrics and registers it against reg.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockqueue",
			Name:      "queue_depth",
			Help:      "Number of requests currently in the pending list.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockqueue",
			Name:      "in_flight",
			Help:      "Number of requests currently dispatched to the backend.",
		}),
		SubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blockqueue",
			Name:      "submit_latency_seconds",
			Help:      "Time from a request's dispatch to its completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		BarriersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockqueue",
			Name:      "barriers_submitted_total",
			Help:      "Barriers submitted to the backend.",
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockqueue",
			Name:      "retries_total",
			Help:      "Completions the error handler chose to retry.",
		}),
		FailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockqueue",
			Name:      "failures_total",
			Help:      "Completions the error handler chose to fail forward.",
		}),
	}
	for _, c := range []prometheus.Collector{m.QueueDepth, m.InFlight, m.SubmitLatency, m.BarriersTotal, m.RetriesTotal, m.FailuresTotal} {
		_ = reg.Register(c) // ignore AlreadyRegisteredError: tests may build several Drivers
	}
	return m
}
