package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealpass_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// TicketsIssued counts issued tickets by outcome (issued plus each refusal reason).
	TicketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealpass_tickets_issued_total",
			Help: "Total number of ticket issuance attempts",
		},
		[]string{"outcome"},
	)

	// ScansProcessed counts verifier decisions by outcome (redeemed plus each rejection reason).
	ScansProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealpass_scans_processed_total",
			Help: "Total number of processed ticket scans",
		},
		[]string{"outcome"},
	)

	// StaleFlagsReset counts eligibility records corrected by the rollover sweep.
	StaleFlagsReset = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mealpass_stale_flags_reset_total",
			Help: "Number of stale dinner-used flags reset",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealpass_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
