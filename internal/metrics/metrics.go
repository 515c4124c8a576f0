// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	VoteTransitions *prometheus.CounterVec
	SearchQueries   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		VoteTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vote_transitions_total",
				Help: "Total number of vote state transitions by outcome",
			},
			[]string{"result"},
		),
		SearchQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total number of search queries by backend",
			},
			[]string{"backend"},
		),
	}

	m.registry.MustRegister(m.HTTPRequests)
	m.registry.MustRegister(m.RequestDuration)
	m.registry.MustRegister(m.VoteTransitions)
	m.registry.MustRegister(m.SearchQueries)

	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
