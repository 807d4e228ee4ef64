package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnforcementDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enforcement_decisions_total",
			Help: "Total enforcement decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	EnforcementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enforcement_duration_seconds",
			Help:    "Duration of enforce calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"outcome"},
	)

	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_failures_total",
			Help: "Backing store failures resolved through the fail-safe deny path",
		},
		[]string{"store"},
	)

	CommitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counter_commit_conflicts_total",
			Help: "Conditional counter commits that lost a concurrent update race",
		},
	)

	LifecycleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_events_total",
			Help: "Lifecycle events by type and processing status",
		},
		[]string{"event_type", "status"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "limit_notifications_total",
			Help: "Limit-reached notifications by delivery result",
		},
		[]string{"result"},
	)

	OperatorAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operator_alerts_total",
			Help: "Operator-facing alerts by category",
		},
		[]string{"category"},
	)

	CounterResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counter_resets_total",
			Help: "Counters cleared by the reset scheduler",
		},
		[]string{"window"},
	)
)
