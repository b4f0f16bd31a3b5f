package storage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/iso-sandbox/internal/observability"
)

type storeMetrics struct {
	saves      *prometheus.CounterVec
	evictions  prometheus.Counter
	recordSize prometheus.Histogram
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	return &storeMetrics{
		saves: observability.RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storage",
			Name:      "level_saves_total",
			Help:      "Сохранения уровней по результату (ok, quota, invalid, error).",
		}, []string{"result"})),
		evictions: observability.RegisterCollector(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storage",
			Name:      "level_evictions_total",
			Help:      "Уровни, вытесненные для освобождения квоты.",
		})),
		recordSize: observability.RegisterCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storage",
			Name:      "level_record_bytes",
			Help:      "Размер сохранённой записи уровня.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		})),
	}
}
