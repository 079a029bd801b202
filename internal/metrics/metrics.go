package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay holds the relay-core collectors.
type Relay struct {
	ClientsConnected prometheus.Gauge
	SessionsTotal    prometheus.Counter
	ClientsRejected  prometheus.Counter
	MessagesRelayed  prometheus.Counter
	MessagesDropped  prometheus.Counter
}

// NewRelay registers the relay collectors with reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	factory := promauto.With(reg)
	return &Relay{
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rigrelay_clients_connected",
			Help: "Slots currently occupied (used or busy).",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rigrelay_sessions_total",
			Help: "Client sessions allocated since startup.",
		}),
		ClientsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "rigrelay_clients_rejected_total",
			Help: "Connections rejected because the slot table was full.",
		}),
		MessagesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rigrelay_messages_relayed_total",
			Help: "Messages enqueued to outbound delivery handles.",
		}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rigrelay_messages_dropped_total",
			Help: "Deliveries refused by a full or stopped outbound handle.",
		}),
	}
}
