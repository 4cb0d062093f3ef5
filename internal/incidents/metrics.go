package incidents

import (
	"github.com/bissquit/status-dashboard/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Status reports processed by outcome",
		},
		[]string{"outcome"},
	)

	reconcileConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconcile",
			Name:      "conflict_retries_total",
			Help:      "Reconciliations re-run after a concurrency conflict",
		},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Time to reconcile a single status report",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
)

func recordOutcome(o Outcome) {
	reconcileOutcomes.WithLabelValues(string(o)).Inc()
}
