// Package metrics defines the Prometheus collectors of the indexer and the
// searcher and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	IndexQueriesTotal      *prometheus.CounterVec
	SearchQueriesTotal     *prometheus.CounterVec
	SearchLatency          *prometheus.HistogramVec
	SearchResultsCount     prometheus.Histogram
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	DocsIndexedTotal       *prometheus.CounterVec
	GenerationFlushesTotal *prometheus.CounterVec
	GenerationsPerIndex    *prometheus.GaugeVec
	IndexDocuments         *prometheus.GaugeVec
	PartitionRequestsTotal *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec

	registerer prometheus.Registerer
}

// New creates all collectors and registers them with the default registry.
// It panics if called twice in one process.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IndexQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_queries_total",
				Help: "Answered search and partition queries by route and index name.",
			},
			[]string{"route", "index_name"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (hit, miss, zero_result, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search page.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "page_cache_hits_total",
				Help: "Total queries answered from the page cache.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "page_cache_misses_total",
				Help: "Total queries that ran against the indexes.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total crawl documents consumed by index and status (indexed, rejected, failed).",
			},
			[]string{"index_name", "status"},
		),
		GenerationFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_flushes_total",
				Help: "Total generations written to disk by index and kind (flush, merge).",
			},
			[]string{"index_name", "kind"},
		),
		GenerationsPerIndex: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_generations",
				Help: "Number of saved generations per index.",
			},
			[]string{"index_name"},
		),
		IndexDocuments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_documents",
				Help: "Number of document rows per index.",
			},
			[]string{"index_name"},
		),
		PartitionRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partition_requests_total",
				Help: "Total partition queries by partition and outcome (ok, error).",
			},
			[]string{"partition", "outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		registerer: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.IndexQueriesTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.GenerationFlushesTotal,
		m.GenerationsPerIndex,
		m.IndexDocuments,
		m.PartitionRequestsTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObservePostingsDecoded registers a counter read from fn at scrape time.
func (m *Metrics) ObservePostingsDecoded(fn func() uint64) {
	m.registerer.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "postings_decoded_total",
			Help: "Total postings decoded by query iterators.",
		},
		func() float64 { return float64(fn()) },
	))
}

// PartitionOutcome counts one partition query.
func (m *Metrics) PartitionOutcome(partition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PartitionRequestsTotal.WithLabelValues(partition, outcome).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
