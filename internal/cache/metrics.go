package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type cacheMetrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	errors        *prometheus.CounterVec
	staleWrites   *prometheus.CounterVec
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	metricsInstance *cacheMetrics
	metricsOnce     sync.Once
	defaultRegistry = prometheus.DefaultRegisterer
)

func newCacheMetrics() *cacheMetrics {
	metricsOnce.Do(func() {
		factory := promauto.With(defaultRegistry)
		metricsInstance = &cacheMetrics{
			hits: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "notification_cache_hits_total",
				Help: "Notification list reads served from cache",
			}, []string{"backend"}),
			misses: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "notification_cache_misses_total",
				Help: "Notification list reads that missed the cache",
			}, []string{"backend"}),
			invalidations: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "notification_cache_invalidations_total",
				Help: "Owner-wide cache invalidations",
			}, []string{"backend"}),
			errors: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "notification_cache_errors_total",
				Help: "Cache backend failures",
			}, []string{"backend", "op"}),
			staleWrites: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "notification_cache_stale_writes_total",
				Help: "Pages discarded because the owner was invalidated while they were computed",
			}, []string{"backend"}),
		}
	})
	return metricsInstance
}

// resetMetricsForTesting resets the metrics singleton for test isolation.
func resetMetricsForTesting() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	defaultRegistry = reg
	metricsInstance = nil
	metricsOnce = sync.Once{}
	return reg
}
