package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend call metrics
var (
	// BackendRequestsTotal tracks calls to the console backend by endpoint and status.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovhsentry_backend_requests_total",
			Help: "Total console backend requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// BackendRequestDuration tracks backend request latency in seconds.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ovhsentry_backend_request_duration_seconds",
			Help:    "Console backend request duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// BreakerStateChanges tracks status-probe circuit breaker transitions.
	BreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovhsentry_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by new state",
		},
		[]string{"state"},
	)
)

// Session manager metrics
var (
	// VerificationsTotal tracks legacy credential verifications by result.
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovhsentry_verifications_total",
			Help: "Legacy credential verifications by result (valid/invalid/error)",
		},
		[]string{"result"},
	)

	// ProbeRefreshTotal tracks status probe refreshes by outcome.
	ProbeRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ovhsentry_probe_refresh_total",
			Help: "Status probe refreshes by outcome (ok/empty_degraded/failed/stale_dropped)",
		},
		[]string{"outcome"},
	)
)
