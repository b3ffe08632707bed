package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	batches      *prometheus.CounterVec
	sessions     *prometheus.CounterVec
	taskDuration prometheus.Histogram
	popWait      prometheus.Histogram
	queueDepth   prometheus.Gauge
}

// NewMetrics creates loader metrics and registers them with reg.
// A nil registerer leaves the metrics unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loader_batches_total",
			Help: "Total number of materialized batches by result.",
		}, []string{"result"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loader_sessions_total",
			Help: "Total number of load sessions by terminal state.",
		}, []string{"state"}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_task_duration_seconds",
			Help:    "Time spent retrieving and collating a single batch.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		popWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_batch_wait_seconds",
			Help:    "Time the consumer waited for the next batch.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loader_queue_depth",
			Help: "Number of materialized batches waiting in the prefetch queue.",
		}),
	}
}
