package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for roomrelay.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	CompletionsTotal  *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	ProviderReachable prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomrelay_connections_total",
			Help: "Total websocket connections handled",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_active_connections",
			Help: "Current active websocket connections",
		}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_messages_total",
			Help: "Total chat messages relayed",
		}, []string{"channel"}),
		CompletionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_completions_total",
			Help: "Total completion provider calls",
		}, []string{"outcome"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomrelay_errors_total",
			Help: "Total errors",
		}, []string{"type"}),
		ProviderReachable: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "roomrelay_provider_reachable",
			Help: "Whether the completion provider responded to the last health probe (1/0)",
		}),
	}
}
