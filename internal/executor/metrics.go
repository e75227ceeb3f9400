package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FixesTotal counts fix attempts.
	// Labels: category, outcome (success, failure, timeout)
	FixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Subsystem: "executor",
			Name:      "fixes_total",
			Help:      "Total number of fix attempts by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	// FixDuration tracks wall-clock time per fix attempt.
	FixDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "remediator",
			Subsystem: "executor",
			Name:      "fix_duration_seconds",
			Help:      "Duration of fix attempts in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"category"},
	)

	// BatchesTotal counts executed batches.
	// Labels: result (completed, failed, skipped)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remediator",
			Subsystem: "executor",
			Name:      "batches_total",
			Help:      "Total number of batches by result",
		},
		[]string{"result"},
	)

	// BatchesInFlight is the number of batches currently executing.
	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remediator",
			Subsystem: "executor",
			Name:      "batches_in_flight",
			Help:      "Number of batches currently executing",
		},
	)
)
