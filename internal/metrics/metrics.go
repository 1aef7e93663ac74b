// Package metrics defines the Prometheus instrumentation for the
// re-engagement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushDeliveriesTotal tracks delivery attempts by classified outcome.
	PushDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reengage_push_deliveries_total",
			Help: "Push delivery attempts by outcome",
		},
		[]string{"result"},
	)

	// SweepDuration tracks how long each inactivity sweep takes.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reengage_sweep_duration_seconds",
			Help:    "Inactivity sweep duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// SweepSubscribersScanned tracks stale subscribers selected per sweep.
	SweepSubscribersScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reengage_sweep_subscribers_scanned_total",
			Help: "Total stale subscribers selected by inactivity sweeps",
		},
	)

	// SweepsSkipped tracks ticks skipped because a sweep was still running.
	SweepsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reengage_sweeps_skipped_total",
			Help: "Scheduler ticks skipped due to an in-flight sweep",
		},
	)

	// SweepErrors tracks sweeps that failed before dispatching (store scan errors).
	SweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reengage_sweep_errors_total",
			Help: "Sweeps aborted by store errors",
		},
	)
)
