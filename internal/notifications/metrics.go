package notifications

import (
	"time"

	"github.com/bissquit/status-dashboard/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "published_total",
			Help:      "Transition messages handed to publishers by result",
		},
		[]string{"publisher", "status"},
	)

	transitionsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "dropped_total",
			Help:      "Transitions dropped because the delivery queue was full",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "queue_depth",
			Help:      "Transitions waiting for delivery",
		},
	)

	publishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish a transition including retries",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"publisher"},
	)
)

func recordPublished(publisher, status string) {
	transitionsPublished.WithLabelValues(publisher, status).Inc()
}

func recordPublishDuration(publisher string, d time.Duration) {
	publishDuration.WithLabelValues(publisher).Observe(d.Seconds())
}

func recordDropped() {
	transitionsDropped.Inc()
}

func recordQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
