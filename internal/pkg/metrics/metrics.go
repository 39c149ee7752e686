package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SagasStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_sagas_started_total",
		Help: "Number of saga executions started (excludes terminal-duplicate no-ops).",
	})

	SagasTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_sagas_terminal_total",
		Help: "Number of sagas that reached a terminal state, by outcome.",
	}, []string{"status"})

	StepAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_step_attempts_total",
		Help: "Forward step outcomes as seen by the orchestrator, by step and result.",
	}, []string{"step", "result"})

	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_compensations_total",
		Help: "Compensation outcomes, by step and result.",
	}, []string{"step", "result"})

	SagaDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_saga_duration_seconds",
		Help:    "Wall time from saga start to terminal state.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_duplicate_deliveries_total",
		Help: "Inbound events for orders that were already terminal.",
	})
)
