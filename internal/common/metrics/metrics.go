// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capsule_notifier_runs_total",
			Help: "Total number of check-capsules invocations by outcome",
		},
		[]string{"trigger", "outcome"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capsule_notifier_run_duration_seconds",
			Help:    "Duration of a check-capsules invocation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"trigger"},
	)

	CapsulesDue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capsule_notifier_capsules_due",
			Help: "Number of due capsules found by the last scan",
		},
	)

	CapsulesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capsule_notifier_capsules_processed_total",
			Help: "Capsules processed by dispatch status and error code",
		},
		[]string{"status", "error_code"},
	)

	PushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "apns_push_duration_seconds",
			Help: "Latency of APNs push requests",
		},
	)

	TokenSignings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apns_token_signings_total",
			Help: "Number of APNs provider tokens signed",
		},
	)

	TokenCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apns_token_cache_lookups_total",
			Help: "APNs provider token cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)
)
