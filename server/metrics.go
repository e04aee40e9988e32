package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "relay"

type metrics struct {
	sockets     prometheus.Gauge
	rooms       prometheus.Gauge
	connections prometheus.Counter
	routed      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
}

// newMetrics registers with reg, a nil reg keeps the collectors private to
// the server.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		sockets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sockets",
			Help:      "Number of registered sockets",
		}),

		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms",
			Help:      "Number of rooms with at least one member",
		}),

		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),

		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "routed_total",
			Help:      "Total number of emits and streams fanned out by the server",
		}, []string{"kind"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Total number of sockets reached by fanned out emits and streams",
		}, []string{"kind"}),
	}
}

func (m *metrics) fannedOut(kind string, targets int) {
	m.routed.WithLabelValues(kind).Inc()
	m.deliveries.WithLabelValues(kind).Add(float64(targets))
}
