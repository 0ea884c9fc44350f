// Package metrics constructs the metrics the application will track.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// registry is private to this package so no other collector can be injected
// into the exposition surface without this package knowing about it.
var registry = prometheus.NewRegistry()

// Registry returns the registry holding every collector the service exports.
func Registry() *prometheus.Registry {
	return registry
}

// Various metrics exposed by the application.
var (
	// EntropySourcesActive tracks how many entropy source adapters produced
	// a usable sample on the most recent collection.
	EntropySourcesActive = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "entropy_sources_active",
			Help: "Entropy source adapters that produced a sample on the last collection",
		},
	)

	// EntropyQuality tracks the mixed quality score of the last collection
	// served for each tier.
	EntropyQuality = promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entropy_quality_score",
			Help: "Quality score (0-100) of the last collection served per tier",
		},
		[]string{"tier"},
	)

	// EntropyDowngrades tracks collections served below the requested tier.
	EntropyDowngrades = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "entropy_downgrades_total",
			Help: "Collections served at a lower tier than requested",
		},
		[]string{"requested", "served"},
	)

	// BreakerState tracks the circuit breaker state per endpoint
	// (0 closed, 1 open, 2 half-open).
	BreakerState = promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker state per endpoint (0 closed, 1 open, 2 half-open)",
		},
		[]string{"endpoint"},
	)

	// PoolInUse tracks connections currently held by callers.
	PoolInUse = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "pool_in_use",
			Help: "Pooled connections currently held by callers",
		},
	)

	// PoolIdle tracks connections parked in the pool.
	PoolIdle = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "pool_idle",
			Help: "Pooled connections parked and ready for reuse",
		},
	)

	// FetchDuration tracks upstream fetch latency per endpoint.
	FetchDuration = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Upstream fetch latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)

	// EndpointLatency tracks the health tracker percentiles per endpoint.
	EndpointLatency = promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "endpoint_latency_seconds",
			Help: "Rolling latency percentiles per endpoint",
		},
		[]string{"endpoint", "quantile"},
	)

	// Requests tracks handled web requests.
	Requests = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "web_requests_total",
			Help: "Web requests handled",
		},
	)

	// Errors tracks web requests that resulted in an error response.
	Errors = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "web_errors_total",
			Help: "Web requests that resulted in an error response",
		},
	)

	// Panics tracks panics recovered by the panic middleware.
	Panics = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "web_panics_total",
			Help: "Panics recovered while handling web requests",
		},
	)
)
