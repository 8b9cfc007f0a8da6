// Package metrics exposes the prometheus surface. The collector
// registry is constructed and injected, never global.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons recorded by the core.
const (
	ReasonRateLimited = "rate_limited"
	ReasonDuplicate   = "duplicate"
	ReasonHubFull     = "hub_full"
	ReasonHubStopped  = "hub_stopped"
	ReasonSendError   = "send_error"
)

// Metrics bundles the collectors the sync core reports into.
type Metrics struct {
	registry   *prometheus.Registry
	broadcasts *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

// New builds the metric set. connections is sampled lazily so the
// gauge always reflects the live registry without extra bookkeeping.
func New(connections func() int) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "liveboard_connections",
			Help: "Currently registered websocket connections.",
		},
		func() float64 { return float64(connections()) },
	))

	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liveboard_broadcasts_total",
		Help: "Broadcast envelopes fanned out, by event kind.",
	}, []string{"kind"})
	reg.MustRegister(broadcasts)

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liveboard_dropped_total",
		Help: "Messages dropped by the core, by reason.",
	}, []string{"reason"})
	reg.MustRegister(dropped)

	return &Metrics{registry: reg, broadcasts: broadcasts, dropped: dropped}
}

// BroadcastSent counts one fan-out pass for a kind. Safe on nil.
func (m *Metrics) BroadcastSent(kind string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
}

// Drop counts a dropped message. Safe on nil.
func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
