// Package metrics exposes Prometheus collectors for the signaling relay.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meet"

// Rejection reasons.
const (
	RejectUnauthenticated = "unauthenticated"
	RejectForbidden       = "forbidden"
	RejectBadRoom         = "bad_room"
	RejectDuplicate       = "duplicate_session"
)

type Metrics struct {
	registry *prometheus.Registry

	RoomsActive         prometheus.Gauge
	SessionsActive      prometheus.Gauge
	Signals             *prometheus.CounterVec
	Deliveries          prometheus.Counter
	SendOverflow        *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	ProtocolErrors      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms_active",
			Help: "Rooms with at least one live session.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Live signaling sessions.",
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Inbound signaling messages routed, by kind.",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Outbound messages queued to recipient sessions.",
		}),
		SendOverflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_overflow_total",
			Help: "Outbound queue overflows, by policy.",
		}, []string{"policy"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_rejected_total",
			Help: "Connections refused before joining a room, by reason.",
		}, []string{"reason"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_errors_total",
			Help: "Malformed or unknown messages reported back to senders.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RoomsActive, m.SessionsActive, m.Signals, m.Deliveries,
		m.SendOverflow, m.ConnectionsRejected, m.ProtocolErrors,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetOccupancy(rooms, sessions int) {
	if m == nil {
		return
	}
	m.RoomsActive.Set(float64(rooms))
	m.SessionsActive.Set(float64(sessions))
}

func (m *Metrics) Signal(kind string, delivered int) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(kind).Inc()
	m.Deliveries.Add(float64(delivered))
}

func (m *Metrics) Delivered(n int) {
	if m == nil {
		return
	}
	m.Deliveries.Add(float64(n))
}

func (m *Metrics) Overflow(policy string) {
	if m == nil {
		return
	}
	m.SendOverflow.WithLabelValues(policy).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}
