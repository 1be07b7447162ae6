package collab

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the gateway's operational counters.
type Metrics struct {
	ConnectionsOpen  prometheus.Gauge
	RoomsActive      prometheus.Gauge
	BroadcastsTotal  *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	IntentsDropped   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collab",
			Name:      "connections_open",
			Help:      "Number of live websocket connections.",
		}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collab",
			Name:      "rooms_active",
			Help:      "Number of proposal rooms with at least one member.",
		}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Name:      "broadcasts_total",
			Help:      "Broadcasts fanned out, by event type.",
		}, []string{"type"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collab",
			Name:      "delivery_failures_total",
			Help:      "Per-recipient deliveries dropped because the peer was gone or not draining.",
		}),
		IntentsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collab",
			Name:      "intents_dropped_total",
			Help:      "Inbound intents dropped, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.ConnectionsOpen, m.RoomsActive, m.BroadcastsTotal, m.DeliveryFailures, m.IntentsDropped)
	return m
}
