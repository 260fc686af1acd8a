package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsPushed tracks pending errors pushed for recovery per operation
	ErrorsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoveryd_errors_pushed_total",
			Help: "Total number of errors pushed for recovery",
		},
		[]string{"operation"},
	)

	// Resolutions tracks terminal resolutions by selected action and source
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoveryd_resolutions_total",
			Help: "Total number of resolved errors",
		},
		[]string{"action", "source"},
	)

	// Timeouts tracks selection timeouts without auto-resolve
	Timeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recoveryd_timeouts_total",
			Help: "Total number of selection timeouts",
		},
	)

	// Cancellations tracks cancelled pending errors
	Cancellations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recoveryd_cancellations_total",
			Help: "Total number of cancelled pending errors",
		},
	)

	// PendingErrors tracks the number of errors currently awaiting a decision
	PendingErrors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoveryd_pending_errors",
			Help: "Number of errors currently awaiting a decision",
		},
	)

	// WaitDuration tracks how long suspended operations wait for a continuation
	WaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recoveryd_wait_duration_seconds",
			Help:    "Time suspended operations spend waiting for a continuation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RetryAttempts tracks retries performed by the execution policy
	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recoveryd_retry_attempts_total",
			Help: "Total number of retries performed by the execution policy",
		},
	)
)
