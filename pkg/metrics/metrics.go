// Package metrics exposes resubd's operational metrics via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Message direction labels for MessagesForwarded.
const (
	DirectionClientToUpstream = "client_to_upstream"
	DirectionUpstreamToClient = "upstream_to_client"
)

// Metrics holds all resubd instruments, registered on their own registry.
type Metrics struct {
	// SessionsActive counts currently proxied client connections.
	SessionsActive prometheus.Gauge

	// MessagesForwarded counts frames relayed, labeled by direction.
	MessagesForwarded *prometheus.CounterVec

	// SubscriptionsTracked counts subscriptions currently tracked across
	// all clients.
	SubscriptionsTracked prometheus.Gauge

	// ResultsObserved counts data messages inspected for cursor updates.
	ResultsObserved prometheus.Counter

	// UpstreamReconnects counts successful upstream re-dials.
	UpstreamReconnects prometheus.Counter

	// SubscriptionsRestored counts subscriptions replayed after reconnects.
	SubscriptionsRestored prometheus.Counter

	registry *prometheus.Registry
}

// New creates the metric set on a fresh Prometheus registry, with Go
// runtime and process collectors included.
func New() *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resubd",
			Subsystem: "proxy",
			Name:      "sessions_active",
			Help:      "Number of client connections currently proxied",
		}),
		MessagesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resubd",
			Subsystem: "proxy",
			Name:      "messages_forwarded_total",
			Help:      "Total frames relayed between clients and the upstream",
		}, []string{"direction"}),
		SubscriptionsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resubd",
			Subsystem: "registry",
			Name:      "subscriptions_tracked",
			Help:      "Subscriptions currently tracked across all clients",
		}),
		ResultsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resubd",
			Subsystem: "registry",
			Name:      "results_observed_total",
			Help:      "Data messages inspected for cursor updates",
		}),
		UpstreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resubd",
			Subsystem: "upstream",
			Name:      "reconnects_total",
			Help:      "Successful upstream reconnections",
		}),
		SubscriptionsRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resubd",
			Subsystem: "upstream",
			Name:      "restored_subscriptions_total",
			Help:      "Subscriptions replayed onto a reconnected upstream",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.MessagesForwarded,
		m.SubscriptionsTracked,
		m.ResultsObserved,
		m.UpstreamReconnects,
		m.SubscriptionsRestored,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
