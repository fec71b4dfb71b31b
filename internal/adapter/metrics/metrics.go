package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics holds all Prometheus metrics for the ingest gateway.
type GatewayMetrics struct {
	EventsTotal       *prometheus.CounterVec
	BytesTotal        prometheus.Counter
	APIKeyCacheHits   prometheus.Counter
	APIKeyCacheMisses prometheus.Counter
}

// NewGatewayMetrics initializes and registers the gateway metrics.
func NewGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Total number of ingest requests by status.",
		}, []string{"status"}), // status: accepted, duplicate, invalid, error
		BytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "gateway",
			Name:      "bytes_total",
			Help:      "Total number of payload bytes accepted.",
		}),
		APIKeyCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
	}
}

// PipelineMetrics holds all Prometheus metrics for the background pipeline.
type PipelineMetrics struct {
	TransformEvents   *prometheus.CounterVec
	TransformDuration prometheus.Histogram
	QualityAlerts     *prometheus.CounterVec
	RefreshCycles     *prometheus.CounterVec
	RefreshDuration   prometheus.Histogram
	MonitorTriggers   *prometheus.CounterVec
	MonitorEvalErrors prometheus.Counter
	FeedPublishErrors prometheus.Counter
	UnprocessedGauge  prometheus.Gauge
}

// NewPipelineMetrics initializes and registers the pipeline metrics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		TransformEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "transform",
			Name:      "events_total",
			Help:      "Total number of raw events handled by result.",
		}, []string{"result"}), // result: cleaned, failed, released
		TransformDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "posflow",
			Subsystem: "transform",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a transform batch run.",
			Buckets:   prometheus.DefBuckets,
		}),
		QualityAlerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "quality",
			Name:      "alerts_total",
			Help:      "Total number of quality alerts raised by rule.",
		}, []string{"rule"}),
		RefreshCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Total refresh cycles by outcome.",
		}, []string{"outcome"}), // outcome: refreshed, skipped_no_data, skipped_locked, failed
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "posflow",
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Duration of a full aggregate refresh.",
			Buckets:   prometheus.DefBuckets,
		}),
		MonitorTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "monitor",
			Name:      "triggers_total",
			Help:      "Total monitor triggers by monitor name.",
		}, []string{"monitor"}),
		MonitorEvalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "monitor",
			Name:      "eval_errors_total",
			Help:      "Total monitor predicate evaluation failures.",
		}),
		FeedPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "posflow",
			Subsystem: "feed",
			Name:      "publish_errors_total",
			Help:      "Total agent feed publish failures.",
		}),
		UnprocessedGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "posflow",
			Subsystem: "transform",
			Name:      "claimed_batch_size",
			Help:      "Size of the most recently claimed raw event batch.",
		}),
	}
}
