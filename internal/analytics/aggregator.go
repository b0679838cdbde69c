package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/pkg/kafka"
)

// maxLatencySamples bounds the latencies kept for percentiles; older samples
// are dropped first.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalQueries      int64              `json:"total_queries"`
	CacheHits         int64              `json:"cache_hits"`
	CacheMisses       int64              `json:"cache_misses"`
	ZeroResultCount   int64              `json:"zero_result_count"`
	ErrorCount        int64              `json:"error_count"`
	AvgLatencyMs      float64            `json:"avg_latency_ms"`
	P50LatencyMs      float64            `json:"p50_latency_ms"`
	P95LatencyMs      float64            `json:"p95_latency_ms"`
	P99LatencyMs      float64            `json:"p99_latency_ms"`
	AvgStageMs        map[string]float64 `json:"avg_stage_ms"`
	TopQueries        []QueryCount       `json:"top_queries"`
	ZeroResultQueries []QueryCount       `json:"zero_result_queries"`
	QueriesPerMinute  float64            `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator summarises the query events of every searcher.
type Aggregator struct {
	mu                sync.RWMutex
	totalQueries      int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	errors            int64
	latencies         []float64
	stageTotals       map[string]float64
	stageCounts       map[string]int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]float64, 0, 1024),
		stageTotals:       make(map[string]float64),
		stageCounts:       make(map[string]int64),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent feeds the query statistics topic into agg. Undecodable
// messages are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return kafka.JSONHandler("analytics-aggregator", func(_ context.Context, key string, event QueryEvent) error {
		if event.Type != EventQuery {
			agg.logger.Warn("skipping event of unknown type", "key", key, "type", event.Type)
			return nil
		}
		agg.Record(event)
		return nil
	})
}

func (a *Aggregator) Record(event QueryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalQueries++
	switch event.Outcome {
	case OutcomeError, OutcomeTimeout:
		a.errors++
		return
	case OutcomeZeroResult:
		a.zeroResults++
		a.zeroResultQueries[event.Query]++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if len(a.latencies) == maxLatencySamples {
		a.latencies = append(a.latencies[:0], a.latencies[1:]...)
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	for stage, ms := range event.StagesMs {
		a.stageTotals[stage] += ms
		a.stageCounts[stage]++
	}
	a.queryCounts[event.Query]++
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQueries:    a.totalQueries,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		ErrorCount:      a.errors,
		AvgStageMs:      make(map[string]float64, len(a.stageTotals)),
	}
	if len(a.latencies) > 0 {
		sorted := make([]float64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Float64s(sorted)

		var sum float64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = sum / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	for stage, total := range a.stageTotals {
		stats.AvgStageMs[stage] = total / float64(a.stageCounts[stage])
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}

	return stats
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries, ties broken alphabetically.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
