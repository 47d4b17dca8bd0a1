package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	PipelineRequests    *prometheus.CounterVec
	StageLatency        *prometheus.HistogramVec
	StageErrors         *prometheus.CounterVec
	SegmentCacheLookups *prometheus.CounterVec
	ActiveConversations prometheus.Gauge
	SynthesizedAudio    prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PipelineRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_requests_total",
			Help:      "Pipeline requests by entry point and outcome.",
		}, []string{"entry", "outcome"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Per-stage pipeline latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1000, 2000, 4000, 8000},
		}, []string{"stage"}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures by stage.",
		}, []string{"stage"}),
		SegmentCacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_cache_lookups_total",
			Help:      "Synthesis segment cache lookups by result.",
		}, []string{"result"}),
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations with recorded history.",
		}),
		SynthesizedAudio: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesized_audio_seconds_total",
			Help:      "Total duration of synthesized audio in seconds.",
		}),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.SegmentCacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.SegmentCacheLookups.WithLabelValues("miss").Inc()
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
