package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the chat subsystem's Prometheus instruments.
// A nil *Metrics is valid and records nothing (used by unit tests).
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	handshakeRejects  *prometheus.CounterVec
	messagesPersisted prometheus.Counter
	messagesDelivered prometheus.Counter
}

// NewMetrics registers the chat instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "courier_connections_active",
			Help: "Number of currently open websocket connections.",
		}),
		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "courier_connections_total",
			Help: "Total number of admitted websocket connections.",
		}),
		handshakeRejects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_handshake_rejects_total",
			Help: "Total number of rejected handshakes by reason.",
		}, []string{"reason"}),
		messagesPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "courier_messages_persisted_total",
			Help: "Total number of private messages appended to the store.",
		}),
		messagesDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "courier_messages_delivered_total",
			Help: "Total number of private message deliveries to live connections.",
		}),
	}
}

// ConnOpened records an admitted connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnClosed records a connection teardown.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// HandshakeRejected records a rejected handshake with its reason code.
func (m *Metrics) HandshakeRejected(reason string) {
	if m == nil {
		return
	}
	m.handshakeRejects.WithLabelValues(reason).Inc()
}

// MessagePersisted records one appended message.
func (m *Metrics) MessagePersisted() {
	if m == nil {
		return
	}
	m.messagesPersisted.Inc()
}

// MessagesDelivered records n fan-out deliveries.
func (m *Metrics) MessagesDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesDelivered.Add(float64(n))
}
