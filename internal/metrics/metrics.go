// Package metrics exposes prometheus instrumentation for marketplace API
// calls. Registration uses promauto against the default registry; embedders
// that serve /metrics get these series for free.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APICallsTotal counts marketplace API calls by operation and outcome.
	// status is the HTTP status code as a string, or "transport" for
	// connection-level failures.
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vastai_api_calls_total",
			Help: "Total number of Vast.ai API calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	// APICallDuration tracks the round-trip time of marketplace API calls.
	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "vastai_api_call_duration_seconds",
			Help: "Duration of Vast.ai API calls by operation",
			// 10ms up to 60s; marketplace search can be slow.
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"operation"},
	)

	// SchemaFailures counts response payloads rejected by the decoder.
	// A nonzero rate means the marketplace schema drifted.
	SchemaFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vastai_schema_failures_total",
			Help: "Total number of Vast.ai responses that failed schema validation",
		},
		[]string{"kind"},
	)
)

// RecordAPICall records one completed API round trip.
func RecordAPICall(operation, status string, duration time.Duration) {
	APICallsTotal.WithLabelValues(operation, status).Inc()
	APICallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSchemaFailure records a payload rejected by the response mapper.
func RecordSchemaFailure(kind string) {
	SchemaFailures.WithLabelValues(kind).Inc()
}
