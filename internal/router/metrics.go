package router

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for routing.
type Metrics struct {
	DecisionsTotal   *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	ClassifyDuration prometheus.Histogram
}

// NewMetrics returns the process-wide routing metrics, registering them on
// first use.
//
// Metrics:
//   - refacta_routing_decisions_total{source} - decisions by source
//     ("classifier", "cache", "keyword", "default")
//   - refacta_routing_cache_hits_total / refacta_routing_cache_misses_total
//   - refacta_routing_classify_duration_seconds
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "refacta_routing_decisions_total",
					Help: "Total number of routing decisions by source",
				},
				[]string{"source"},
			),
			CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "refacta_routing_cache_hits_total",
				Help: "Total number of routing decision cache hits",
			}),
			CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "refacta_routing_cache_misses_total",
				Help: "Total number of routing decision cache misses",
			}),
			ClassifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "refacta_routing_classify_duration_seconds",
				Help:    "Duration of classifier calls in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			}),
		}
	})
	return globalMetrics
}
