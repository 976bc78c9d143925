package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the operational surface of the dispatch core.
type Metrics struct {
	// ActiveConnections tracks currently registered connections.
	ActiveConnections prometheus.Gauge

	// EventsPublished counts events accepted by the dispatcher.
	// Labels: kind
	EventsPublished *prometheus.CounterVec

	// EventsDelivered counts events queued to a connection.
	// Labels: kind
	EventsDelivered *prometheus.CounterVec

	// EventsDropped counts events discarded under backpressure or
	// lost to a closed queue. Labels: reason (ring_full|queue_closed)
	EventsDropped *prometheus.CounterVec

	// QueueOverflows counts connections closed because a durable
	// event arrived at a full queue.
	QueueOverflows prometheus.Counter

	// HandshakeFailures counts rejected connection attempts.
	// Labels: reason (AuthTimeout|InvalidCredential|MalformedFrame)
	HandshakeFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_active_connections",
			Help: "Number of registered websocket connections.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_events_published_total",
			Help: "Events accepted by the dispatcher.",
		}, []string{"kind"}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_events_delivered_total",
			Help: "Events queued for delivery to a connection.",
		}, []string{"kind"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_events_dropped_total",
			Help: "Events discarded instead of delivered.",
		}, []string{"reason"}),
		QueueOverflows: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_queue_overflows_total",
			Help: "Connections closed by durable-event overflow.",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_handshake_failures_total",
			Help: "Connection attempts rejected during handshake.",
		}, []string{"reason"}),
	}
}
