package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Send metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "send",
			Name:      "messages_total",
			Help:      "Messages handed to the send pipeline by outcome",
		},
		[]string{"outcome"},
	)

	SendRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "send",
			Name:      "retries_total",
			Help:      "Transmit attempts after the first",
		},
	)

	ThreadRecreations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "send",
			Name:      "thread_creations_total",
			Help:      "Threads created by the send pipeline",
		},
		[]string{"reason"},
	)

	// Sync metrics
	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "sync",
			Name:      "polls_total",
			Help:      "Thread snapshot fetches by outcome",
		},
		[]string{"outcome"},
	)

	OptimisticRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "sync",
			Name:      "optimistic_retired_total",
			Help:      "Optimistic messages replaced by their confirmed copy",
		},
	)

	// Operation metrics
	OperationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "operations",
			Name:      "outcomes_total",
			Help:      "Operation actions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Backend metrics
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskchat",
			Subsystem: "backend",
			Name:      "request_seconds",
			Help:      "Backend request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"endpoint", "status"},
	)
)
