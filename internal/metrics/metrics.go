// Package metrics holds the prometheus collectors of the dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Outbound provider calls by provider, operation and result",
		},
		[]string{"provider", "op", "result"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Provider call latency including rate limiter wait",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"provider", "op"},
	)

	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "send",
			Name:      "outcomes_total",
			Help:      "Dispatch outcomes by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	QueueRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "queue",
			Name:      "runs_total",
			Help:      "Queue runs by result",
		},
		[]string{"result"},
	)

	SubscribersEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "queue",
			Name:      "subscribers_evaluated_total",
			Help:      "Subscribers passed through the eligibility gates",
		},
	)

	SyncContacts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "sync",
			Name:      "contacts_total",
			Help:      "Synced contacts by result",
		},
		[]string{"result"},
	)
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
