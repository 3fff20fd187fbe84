package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type gatewayMetrics struct {
	liveConnections prometheus.Gauge
	accepted        *prometheus.CounterVec
	rejected        prometheus.Counter
	disconnects     *prometheus.CounterVec
	events          *prometheus.CounterVec
	published       *prometheus.CounterVec
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	metricsInstance *gatewayMetrics
	metricsOnce     sync.Once
	defaultRegistry = prometheus.DefaultRegisterer
)

func newGatewayMetrics() *gatewayMetrics {
	metricsOnce.Do(func() {
		factory := promauto.With(defaultRegistry)
		metricsInstance = &gatewayMetrics{
			liveConnections: factory.NewGauge(prometheus.GaugeOpts{
				Name: "realtime_live_connections",
				Help: "Connections currently registered with the gateway",
			}),
			accepted: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "realtime_connections_accepted_total",
				Help: "Connections accepted by transport",
			}, []string{"transport"}),
			rejected: factory.NewCounter(prometheus.CounterOpts{
				Name: "realtime_connections_rejected_total",
				Help: "Connections rejected at the connection ceiling",
			}),
			disconnects: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "realtime_disconnects_total",
				Help: "Disconnects by reason",
			}, []string{"reason"}),
			events: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "realtime_client_events_total",
				Help: "Inbound client events by name",
			}, []string{"event"}),
			published: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "realtime_published_events_total",
				Help: "Outbound room events by outcome",
			}, []string{"event", "outcome"}),
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
