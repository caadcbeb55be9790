// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeOffline = "offline"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	connections     prometheus.Counter
	activeSessions  prometheus.Gauge
	messages        *prometheus.CounterVec
	generations     *prometheus.CounterVec
	composeDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "liminal",
			Name:      "connections_total",
			Help:      "Websocket connections established.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "liminal",
			Name:      "sessions_active",
			Help:      "Sessions currently established.",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liminal",
			Name:      "inbound_events_total",
			Help:      "Inbound transport events by name.",
		}, []string{"event"}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liminal",
			Name:      "generations_total",
			Help:      "Generation attempts by outcome.",
		}, []string{"outcome"}),
		composeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "liminal",
			Name:      "compose_duration_seconds",
			Help:      "Time spent composing a reply.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) InboundEvent(name string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(name).Inc()
}

func (m *Metrics) Generation(outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCompose(d time.Duration) {
	if m == nil {
		return
	}
	m.composeDuration.Observe(d.Seconds())
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}
