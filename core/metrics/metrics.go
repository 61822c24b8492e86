package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pipeforge/conduit/api"
)

// Metrics holds the host's Prometheus instruments. The host owns the
// registry; nothing here exposes it over HTTP.
type Metrics struct {
	registry *prometheus.Registry

	InvocationsTotal  *prometheus.CounterVec
	InvokeDuration    *prometheus.HistogramVec
	ListingDuration   *prometheus.HistogramVec
	StreamChunksTotal *prometheus.CounterVec
	PipesBound        prometheus.Gauge
}

// New creates the host metrics and registers them on the given
// registry. A nil registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conduit",
				Subsystem: "host",
				Name:      "invocations_total",
				Help:      "Invocations by pipe and outcome.",
			},
			[]string{"pipe", "outcome"},
		),
		InvokeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "conduit",
				Subsystem: "host",
				Name:      "invoke_duration_seconds",
				Help:      "Invocation latency by pipe.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipe"},
		),
		ListingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "conduit",
				Subsystem: "host",
				Name:      "listing_duration_seconds",
				Help:      "Model listing latency by pipe.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipe"},
		),
		StreamChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "conduit",
				Subsystem: "host",
				Name:      "stream_chunks_total",
				Help:      "Chunks delivered through streamed results by pipe.",
			},
			[]string{"pipe"},
		),
		PipesBound: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "conduit",
				Subsystem: "host",
				Name:      "pipes_bound",
				Help:      "Number of pipes currently bound.",
			},
		),
	}

	registry.MustRegister(
		m.InvocationsTotal,
		m.InvokeDuration,
		m.ListingDuration,
		m.StreamChunksTotal,
		m.PipesBound,
	)

	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveInvocation records one finished invocation
func (m *Metrics) ObserveInvocation(o api.Outcome) {
	outcome := "ok"
	if o.Failure != nil {
		outcome = string(o.Failure.Kind)
	}
	m.InvocationsTotal.WithLabelValues(o.Pipe, outcome).Inc()
	m.InvokeDuration.WithLabelValues(o.Pipe).Observe(o.Elapsed.Seconds())
}

// ObserveListing records one model listing call
func (m *Metrics) ObserveListing(pipeID string, elapsed time.Duration) {
	m.ListingDuration.WithLabelValues(pipeID).Observe(elapsed.Seconds())
}

// AddChunks records chunks delivered through a streamed result
func (m *Metrics) AddChunks(pipeID string, n int) {
	if n > 0 {
		m.StreamChunksTotal.WithLabelValues(pipeID).Add(float64(n))
	}
}

// SetPipesBound records the number of bound pipes
func (m *Metrics) SetPipesBound(n int) {
	m.PipesBound.Set(float64(n))
}
