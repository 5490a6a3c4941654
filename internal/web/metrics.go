package web

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/cache"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	analyses      *prometheus.CounterVec
	collaborators *prometheus.CounterVec
	duration      prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pathoscope_analyses_total",
			Help: "Analyses run, by entry point and outcome.",
		}, []string{"kind", "outcome"}),
		collaborators: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pathoscope_collaborator_calls_total",
			Help: "Calls to external services, by source and outcome.",
		}, []string{"source", "status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pathoscope_analysis_duration_seconds",
			Help:    "Wall time of complete analyses.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	m.registry.MustRegister(
		m.analyses,
		m.collaborators,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAnalysis(kind string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.analyses.WithLabelValues(kind, outcome).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveCollaborator matches sources.Observer.
func (m *Metrics) ObserveCollaborator(source, outcome string) {
	m.collaborators.WithLabelValues(source, outcome).Inc()
}

// WatchCache exports a cache's size and hit counts, read on every scrape.
func (m *Metrics) WatchCache(name string, stats func() cache.Stats) {
	labels := prometheus.Labels{"cache": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "pathoscope_cache_entries",
			Help:        "Entries currently held in the cache.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Entries) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "pathoscope_cache_hit_ratio",
			Help:        "Cache hits over lookups since start.",
			ConstLabels: labels,
		}, func() float64 { return stats().HitRatio }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "pathoscope_cache_hits_total",
			Help:        "Cache lookups that found a live entry.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "pathoscope_cache_misses_total",
			Help:        "Cache lookups that found nothing or an expired entry.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Misses) }),
	)
}
