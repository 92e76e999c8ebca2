// Package metrics exposes relay and connection counters for Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edurelay"

type Metrics struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	activeRooms prometheus.Gauge
	relayed     *prometheus.CounterVec
	dropped     prometheus.Counter
	rateLimited prometheus.Counter
	disconnects prometheus.Counter
	pruned      prometheus.Counter
}

// New creates a Metrics with its own registry so tests can build as many
// as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live WebSocket connections in the registry.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms currently accepting joins.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Frames handed to connection queues, by event kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Queued frames discarded because a connection queue was full.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rate_limited_total",
			Help:      "Inbound channel events dropped by the per-connection rate limit.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connections swept by the presence synchronizer.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_pruned_total",
			Help:      "Stale unbound participants removed by the prune job.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.activeRooms,
		m.relayed,
		m.dropped,
		m.rateLimited,
		m.disconnects,
		m.pruned,
	)
	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
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

func (m *Metrics) SetActiveRooms(n int) {
	if m != nil {
		m.activeRooms.Set(float64(n))
	}
}

func (m *Metrics) Relayed(kind string, deliveries int) {
	if m != nil && deliveries > 0 {
		m.relayed.WithLabelValues(kind).Add(float64(deliveries))
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) Disconnected() {
	if m != nil {
		m.disconnects.Inc()
	}
}

func (m *Metrics) Pruned(n int) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}
