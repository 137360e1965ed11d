// Package metrics holds the Prometheus collectors of the server.
//
// All methods are safe on a nil *Metrics, so components built without
// metrics need no special casing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livesync"

// Metrics is the set of server collectors.
type Metrics struct {
	activeConnections prometheus.Gauge
	handshakes        *prometheus.CounterVec
	reconcile         *prometheus.CounterVec
	eventsSent        prometheus.Counter
	sessionEnd        *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of WebSocket connections in steady state",
		}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Completed or aborted handshakes by result",
		}, []string{"result"}),
		reconcile: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Sync version checks by data type and outcome",
		}, []string{"data_type", "outcome"}),
		eventsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Events written to client sockets",
		}),
		sessionEnd: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_end_total",
			Help:      "Ended sessions by reason",
		}, []string{"reason"}),
	}
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// Handshake counts a handshake result ("ok" or an error kind).
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// Reconciled counts one sync version check.
func (m *Metrics) Reconciled(dataType, outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(dataType, outcome).Inc()
}

// EventSent counts one event written to a socket.
func (m *Metrics) EventSent() {
	if m == nil {
		return
	}
	m.eventsSent.Inc()
}

// SessionEnded counts one ended session.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionEnd.WithLabelValues(reason).Inc()
}
