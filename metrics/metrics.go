// Package metrics exposes pipeline counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portfolio_scraper"

type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	candidates     *prometheus.GaugeVec
	detailsTotal   *prometheus.CounterVec
	detailDuration *prometheus.HistogramVec
	rateLimitWait  *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Site runs by final status",
			},
			[]string{"site", "status"},
		),

		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a site run",
				Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
			},
			[]string{"site"},
		),

		candidates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidates",
				Help:      "Candidates found on the listing page in the last run",
			},
			[]string{"site"},
		),

		detailsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "details_total",
				Help:      "Detail enrichment outcomes (enriched, failed, skipped)",
			},
			[]string{"site", "result"},
		),

		detailDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "detail_duration_seconds",
				Help:      "Time to fetch and extract one detail page",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"site"},
		),

		rateLimitWait: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_wait_seconds_total",
				Help:      "Time spent waiting between detail fetches",
			},
			[]string{"site"},
		),

		sinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Failed output writes by sink",
			},
			[]string{"site", "sink"},
		),
	}
}

func (m *Metrics) RunFinished(site, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(site, status).Inc()
	m.runDuration.WithLabelValues(site).Observe(d.Seconds())
}

func (m *Metrics) Candidates(site string, n int) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(site).Set(float64(n))
}

// Detail records one candidate outcome. d is zero for skipped candidates.
func (m *Metrics) Detail(site, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.detailsTotal.WithLabelValues(site, result).Inc()
	if d > 0 {
		m.detailDuration.WithLabelValues(site).Observe(d.Seconds())
	}
}

func (m *Metrics) RateLimited(site string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.WithLabelValues(site).Add(d.Seconds())
}

func (m *Metrics) SinkFailed(site, sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(site, sink).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
