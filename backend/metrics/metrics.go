// Package metrics holds the Prometheus collectors of the scoreboard server.
package metrics

import (
	"net/http"

	"github.com/adwski/badminton-live/backend/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scoreboard"

type MetricOpts struct {
	Subsystem string
	Name      string
	Help      string
	Labels    []string
}

func newCounter(opts MetricOpts) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: opts.Subsystem,
			Name:      opts.Name + "_total",
			Help:      opts.Help,
		},
		opts.Labels,
	)
}

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessions prometheus.Gauge
	messages *prometheus.CounterVec
	errors   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

// New creates the collectors. rooms reports the number of live rooms on scrape.
func New(rooms func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Open websocket sessions.",
		}),
		messages: newCounter(MetricOpts{
			Subsystem: "protocol",
			Name:      "messages",
			Help:      "Inbound protocol messages by type.",
			Labels:    []string{"type"},
		}),
		errors: newCounter(MetricOpts{
			Subsystem: "protocol",
			Name:      "errors",
			Help:      "Error replies by code.",
			Labels:    []string{"code"},
		}),
		dropped: newCounter(MetricOpts{
			Subsystem: "switch",
			Name:      "dropped_deliveries",
			Help:      "Outbound messages dropped because the receiver queue was full.",
			Labels:    []string{"type"},
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions,
		m.messages,
		m.errors,
		m.dropped,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "active",
			Help:      "Rooms held by the registry.",
		}, func() float64 {
			return float64(rooms())
		}),
	)
	return m
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) MessageReceived(t model.MessageType) {
	if m != nil {
		m.messages.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) ErrorSent(code string) {
	if m != nil {
		m.errors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) DeliveryDropped(t model.MessageType) {
	if m != nil {
		m.dropped.WithLabelValues(string(t)).Inc()
	}
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
