// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and the dispatch engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every collector behind one registry so tests can run with
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	MessagesPublished prometheus.Counter
	MessagesConsumed  prometheus.Counter
	MessagesAcked     prometheus.Counter
	MessagesNacked    prometheus.Counter
	MessagesSwept     *prometheus.CounterVec
}

// New builds a registry with process/Go collectors plus the broker metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastpubsub_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fastpubsub_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastpubsub_messages_published_total",
			Help: "Message rows created by publish fan-out.",
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastpubsub_messages_consumed_total",
			Help: "Messages leased to consumers.",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastpubsub_messages_acked_total",
			Help: "Messages acknowledged by consumers.",
		}),
		MessagesNacked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fastpubsub_messages_nacked_total",
			Help: "Messages negatively acknowledged by consumers.",
		}),
		MessagesSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastpubsub_messages_swept_total",
			Help: "Messages handled by the maintenance sweepers.",
		}, []string{"sweeper"}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MessagesPublished,
		m.MessagesConsumed,
		m.MessagesAcked,
		m.MessagesNacked,
		m.MessagesSwept,
	)
	return m
}

// Registry returns the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
