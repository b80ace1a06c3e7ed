// Package metrics exposes the interceptor's Prometheus collectors, served
// over the secondary HTTP surface's /metrics/prometheus route (the plain
// /metrics route serves a JSON summary instead).
// Grounded on the teacher's pkg/infra/prometheus/prometheus.go: a private
// registry wrapped by promauto, a process collector, and counter/histogram/
// gauge vectors sized for this service's own label set rather than
// TrustGate's gateway/route labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the private registry served by /metrics/prometheus, kept off
// the global default registerer.
var Registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, Registry)

// processingLatencyBuckets covers the sub-10ms regex scan path up through
// a pathological breaker-open retry storm.
var processingLatencyBuckets = []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500}

var (
	MessagesProcessedTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cis_messages_processed_total",
			Help: "Total number of chat messages evaluated by the interceptor.",
		},
		[]string{"action"},
	)

	ProcessingLatencyMs = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cis_processing_latency_ms",
			Help:    "End-to-end per-message processing latency in milliseconds.",
			Buckets: processingLatencyBuckets,
		},
	)

	ActiveConnections = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "cis_active_connections",
			Help: "Number of currently open websocket connections.",
		},
	)

	CircuitBreakerState = promauto.With(registerer).NewGauge(
		prometheus.GaugeOpts{
			Name: "cis_circuit_breaker_state",
			Help: "Scorer circuit breaker state: 0=closed, 1=open, 2=half_open.",
		},
	)

	EmitterEventsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cis_emitter_events_total",
			Help: "Total number of emitted/dropped events, by outcome.",
		},
		[]string{"outcome"},
	)

	DetectorForwardsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cis_detector_forwards_total",
			Help: "Total number of downstream detector forward attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	MalformedFramesTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "cis_malformed_frames_total",
			Help: "Total number of inbound frames rejected as malformed.",
		},
	)
)

// Init registers the standard process collector. Call once at startup.
func Init() {
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}
