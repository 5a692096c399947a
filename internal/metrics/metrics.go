// Package metrics exposes relay counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mesh"

// Drop reasons for relayed signals and notifications.
const (
	DropNotColocated  = "not_colocated"
	DropUnknownTarget = "unknown_target"
	DropBackpressure  = "backpressure"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	members     prometheus.Gauge
	relayed     prometheus.Counter
	dropped     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_connections",
			Help:      "Open signaling connections.",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Connections currently joined to a room.",
		}),
		relayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_relayed_total",
			Help:      "Negotiation messages forwarded to their addressee.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages that were not delivered, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) MemberJoined() {
	if m != nil {
		m.members.Inc()
	}
}

func (m *Metrics) MemberLeft() {
	if m != nil {
		m.members.Dec()
	}
}

func (m *Metrics) SignalRelayed() {
	if m != nil {
		m.relayed.Inc()
	}
}

func (m *Metrics) Dropped(reason string, n int) {
	if m != nil && n > 0 {
		m.dropped.WithLabelValues(reason).Add(float64(n))
	}
}
