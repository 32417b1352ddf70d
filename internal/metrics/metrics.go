// Package metrics holds the Prometheus collectors for search, embedding, and history activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)

// Latency buckets in milliseconds.
var latencyBuckets = []float64{
	1, 5, 10, 25,
	50, 100, 250,
	500, 1000, 2500,
	5000, 10000, 30000,
}

// Metrics is a private registry with the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	searches          *prometheus.CounterVec
	searchLatency     *prometheus.HistogramVec
	historyFailures   prometheus.Counter
	embeddingRequests *prometheus.CounterVec
	candidates        prometheus.Histogram
	skippedCandidates *prometheus.CounterVec
}

// New creates the registry and registers all collectors, including process and Go runtime stats.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(nil, registry)
	factory := promauto.With(registerer)

	m := &Metrics{
		registry: registry,
		searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manasearch_searches_total",
				Help: "Total number of searches by metric and outcome",
			},
			[]string{"metric", "outcome"},
		),
		searchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "manasearch_search_latency_ms",
				Help:    "Search latency in milliseconds by stage (embed, candidates, rank, total)",
				Buckets: latencyBuckets,
			},
			[]string{"stage"},
		),
		historyFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "manasearch_history_failures_total",
				Help: "Search history writes that failed and were dropped",
			},
		),
		embeddingRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manasearch_embedding_requests_total",
				Help: "Embedding provider calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		candidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "manasearch_candidates",
				Help:    "Number of candidates ranked per search",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		skippedCandidates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manasearch_skipped_candidates_total",
				Help: "Candidates skipped during ranking by reason",
			},
			[]string{"reason"},
		),
	}
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSearch counts a finished search.
func (m *Metrics) ObserveSearch(metric, outcome string) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(metric, outcome).Inc()
}

// ObserveLatency records the duration of a search stage in milliseconds.
func (m *Metrics) ObserveLatency(stage string, ms float64) {
	if m == nil {
		return
	}
	m.searchLatency.WithLabelValues(stage).Observe(ms)
}

// HistoryFailure counts a dropped history write.
func (m *Metrics) HistoryFailure() {
	if m == nil {
		return
	}
	m.historyFailures.Inc()
}

// EmbeddingRequest counts a provider call.
func (m *Metrics) EmbeddingRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.embeddingRequests.WithLabelValues(provider, outcome).Inc()
}

// ObserveCandidates records the size of a ranked candidate set.
func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
}

// SkippedCandidates counts candidates dropped from ranking for reason.
func (m *Metrics) SkippedCandidates(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.skippedCandidates.WithLabelValues(reason).Add(float64(n))
}
