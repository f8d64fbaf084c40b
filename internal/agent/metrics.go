package agent

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the agent's operational counters. Each agent owns its
// registry so multiple agents in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	replayPasses    prometheus.Counter
	opsFlushed      prometheus.Counter
	queueDepth      prometheus.Gauge
	priceRefreshes  prometheus.Counter
	trackedProducts prometheus.Gauge
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		replayPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncagent_replay_passes_total",
			Help: "Number of queue drain passes attempted.",
		}),
		opsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncagent_operations_flushed_total",
			Help: "Number of queued operations resolved (replayed or discarded).",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncagent_queue_depth",
			Help: "Pending operations after the last drain pass.",
		}),
		priceRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncagent_price_refreshes_total",
			Help: "Number of tracked-product price refresh rounds completed.",
		}),
		trackedProducts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "syncagent_tracked_products",
			Help: "Products currently tracked for price refresh.",
		}),
	}
}

// Handler exposes the metrics over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
