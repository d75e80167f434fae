// Package metrics exposes ingestion counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	eventsTotal      *prometheus.CounterVec
	correctionsTotal *prometheus.CounterVec
	imageCacheTotal  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_comb",
		Name:      "source_runs_total",
		Help:      "Number of source runs by final state",
	}, []string{"source", "status"})
	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "event_comb",
		Name:      "source_run_duration_seconds",
		Help:      "Time spent running a single source",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"source"})
	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_comb",
		Name:      "events_total",
		Help:      "Ingested candidates by outcome",
	}, []string{"source", "outcome"})
	m.correctionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_comb",
		Name:      "date_corrections_total",
		Help:      "Date corrections applied to matched events, by result",
	}, []string{"result"})
	m.imageCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_comb",
		Name:      "image_cache_requests_total",
		Help:      "Image cache lookups by result",
	}, []string{"result"})

	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.eventsTotal,
		m.correctionsTotal, m.imageCacheTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun(source, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(source, status).Inc()
	m.runDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func (m *Metrics) AddEvents(source string, added, skipped int) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(source, "new").Add(float64(added))
	m.eventsTotal.WithLabelValues(source, "skipped").Add(float64(skipped))
}

func (m *Metrics) Correction(applied bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "conflict"
	}
	m.correctionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ImageCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.imageCacheTotal.WithLabelValues(result).Inc()
}
