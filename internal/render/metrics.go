package render

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/iso-sandbox/internal/observability"
)

type cullingMetrics struct {
	visible   prometheus.Gauge
	culled    prometheus.Gauge
	cacheHits prometheus.Counter
}

func newCullingMetrics(reg prometheus.Registerer) *cullingMetrics {
	return &cullingMetrics{
		visible: observability.RegisterCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "render",
			Subsystem: "culling",
			Name:      "visible_blocks",
			Help:      "Количество видимых блоков в последнем кадре.",
		})),
		culled: observability.RegisterCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "render",
			Subsystem: "culling",
			Name:      "culled_blocks",
			Help:      "Количество отсечённых блоков в последнем кадре.",
		})),
		cacheHits: observability.RegisterCollector(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "render",
			Subsystem: "culling",
			Name:      "cache_hits_total",
			Help:      "Число запросов видимого множества, обслуженных из кэша.",
		})),
	}
}

type pipelineMetrics struct {
	frames        prometheus.Counter
	frameDuration prometheus.Histogram
	drawn         prometheus.Gauge
}

func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	return &pipelineMetrics{
		frames: observability.RegisterCollector(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "render",
			Name:      "frames_total",
			Help:      "Общее число отрисованных кадров.",
		})),
		frameDuration: observability.RegisterCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "render",
			Name:      "frame_duration_seconds",
			Help:      "Длительность отрисовки кадра.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.0166, 0.025, 0.05, 0.1},
		})),
		drawn: observability.RegisterCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "render",
			Name:      "drawn_blocks",
			Help:      "Количество блоков, нарисованных в последнем кадре.",
		})),
	}
}
