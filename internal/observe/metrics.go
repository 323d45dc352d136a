package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyroute/keyroute/internal/ringhash"
)

// Metrics holds all gateway Prometheus metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	BackendHealthy  *prometheus.GaugeVec

	// Ring build gauges, one set per route. Written once per ring build,
	// never per lookup.
	RingSize             *prometheus.GaugeVec
	RingMinHashesPerHost *prometheus.GaugeVec
	RingMaxHashesPerHost *prometheus.GaugeVec
	RingBuildsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyroute_requests_total",
				Help: "Total number of requests processed.",
			},
			[]string{"route", "status", "method"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "keyroute_request_duration_seconds",
				Help: "Request duration in seconds.",
				// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyroute_retries_total",
				Help: "Total number of retried proxy attempts.",
			},
			[]string{"route"},
		),
		BackendHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyroute_backend_healthy",
				Help: "Whether a backend is healthy (1) or not (0).",
			},
			[]string{"backend"},
		),
		RingSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyroute_ring_hash_size",
				Help: "Number of entries on the route's hash ring.",
			},
			[]string{"route"},
		),
		RingMinHashesPerHost: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyroute_ring_hash_min_hashes_per_host",
				Help: "Fewest ring entries given to any backend. Low values mean skewed distribution.",
			},
			[]string{"route"},
		),
		RingMaxHashesPerHost: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyroute_ring_hash_max_hashes_per_host",
				Help: "Most ring entries given to any backend.",
			},
			[]string{"route"},
		),
		RingBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyroute_ring_hash_builds_total",
				Help: "Total number of hash ring rebuilds.",
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RetriesTotal,
		m.BackendHealthy,
		m.RingSize,
		m.RingMinHashesPerHost,
		m.RingMaxHashesPerHost,
		m.RingBuildsTotal,
	)

	return m
}

// RingStats carves out the per-route ring gauges in the form the ring
// builder writes to.
func (m *Metrics) RingStats(route string) *ringhash.Stats {
	return &ringhash.Stats{
		Size:             m.RingSize.WithLabelValues(route),
		MinHashesPerHost: m.RingMinHashesPerHost.WithLabelValues(route),
		MaxHashesPerHost: m.RingMaxHashesPerHost.WithLabelValues(route),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
