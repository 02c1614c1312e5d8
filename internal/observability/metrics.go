// Package observability exports chat activity as Prometheus metrics by
// listening on the event bus.
package observability

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/relaychat/internal/events"
	"github.com/danmuck/relaychat/internal/registry"
	"github.com/danmuck/relaychat/internal/session"
)

const (
	namespace   = "relaychat"
	MetricsPath = "/metrics"
)

// Metrics owns a private registry so several servers can coexist in one
// process.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	packetsReceived   *prometheus.CounterVec
	packetsSent       *prometheus.CounterVec
	membershipChanges *prometheus.CounterVec
	members           prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Connections currently open.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "total",
			Help:      "Connections accepted since start.",
		}),
		packetsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "received_total",
				Help:      "Decoded packets received from clients.",
			},
			[]string{"kind"},
		),
		packetsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "sent_total",
				Help:      "Packets written to clients.",
			},
			[]string{"kind"},
		),
		membershipChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "membership_changes_total",
				Help:      "Joins, leaves and kicks.",
			},
			[]string{"change"},
		),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "members",
			Help:      "Joined members.",
		}),
	}
	m.registry.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.packetsReceived,
		m.packetsSent,
		m.membershipChanges,
		m.members,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Attach subscribes the collectors to bus. It returns the subscriptions so
// callers can detach them.
func (m *Metrics) Attach(bus *events.Bus) []*events.Subscription {
	return []*events.Subscription{
		bus.Subscribe(session.EventConnectionMade, func(events.Event) error {
			m.connectionsTotal.Inc()
			m.connectionsActive.Inc()
			return nil
		}),
		bus.Subscribe(session.EventConnectionLost, func(events.Event) error {
			m.connectionsActive.Dec()
			return nil
		}),
		bus.Subscribe(session.RecvNamespace+".*", func(ev events.Event) error {
			m.packetsReceived.WithLabelValues(kindOf(ev.Name)).Inc()
			return nil
		}),
		bus.Subscribe(session.SendNamespace+".*", func(ev events.Event) error {
			m.packetsSent.WithLabelValues(kindOf(ev.Name)).Inc()
			return nil
		}),
		bus.Subscribe(registry.EventMembershipChanged, func(ev events.Event) error {
			change, ok := ev.Payload.(registry.MembershipChange)
			if !ok {
				return nil
			}
			m.membershipChanges.WithLabelValues(string(change.Kind)).Inc()
			m.members.Set(float64(change.Count))
			return nil
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func kindOf(name string) string {
	if _, kind, ok := strings.Cut(name, "."); ok {
		return kind
	}
	return name
}
