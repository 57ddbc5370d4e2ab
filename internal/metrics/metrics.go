// Package metrics exposes Prometheus collectors for billing and rollover runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bursar"

var (
	billingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_runs_total",
		Help:      "Billing runs by final status and mode.",
	}, []string{"status", "mode"})

	billingStudents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_students_total",
		Help:      "Students processed by billing runs, by outcome.",
	}, []string{"outcome"})

	billingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_write_retries_total",
		Help:      "Extra write attempts made for students after a failed attempt.",
	})

	billingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "billing_run_duration_seconds",
		Help:      "Wall-clock duration of billing runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"mode"})

	rolloverRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollover_runs_total",
		Help:      "Academic-year rollovers by status.",
	}, []string{"status"})
)

// ObserveBillingRun records a finished billing run.
func ObserveBillingRun(status, mode string, started time.Time) {
	billingRuns.WithLabelValues(status, mode).Inc()
	billingDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

// AddBillingStudents counts n students with the given outcome.
func AddBillingStudents(outcome string, n int) {
	if n > 0 {
		billingStudents.WithLabelValues(outcome).Add(float64(n))
	}
}

// AddBillingRetries counts extra write attempts.
func AddBillingRetries(n int) {
	if n > 0 {
		billingRetries.Add(float64(n))
	}
}

// ObserveRollover records a finished rollover.
func ObserveRollover(status string) {
	rolloverRuns.WithLabelValues(status).Inc()
}
