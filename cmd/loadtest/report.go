package main

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"
)

// sample is one page request.
type sample struct {
	query     string
	page      int
	latency   time.Duration
	status    int
	totalRows int
	err       error
}

type recorder struct {
	mu        sync.Mutex
	total     int
	failed    int
	byPage    [][]time.Duration
	statuses  map[int]int
	zeroHits  map[string]int
	lastError error
}

func newRecorder(pages int) *recorder {
	return &recorder{
		byPage:   make([][]time.Duration, pages),
		statuses: make(map[int]int),
		zeroHits: make(map[string]int),
	}
}

func (r *recorder) add(s sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if s.status != 0 {
		r.statuses[s.status]++
	}
	if s.err != nil || s.status != http.StatusOK {
		r.failed++
		if s.err != nil {
			r.lastError = s.err
		}
		return
	}
	r.byPage[s.page] = append(r.byPage[s.page], s.latency)
	if s.totalRows == 0 {
		r.zeroHits[s.query]++
	}
}

// pageLatency summarises the successful requests for one page depth.
type pageLatency struct {
	Page               int
	Count              int
	P50, P95, P99, Max time.Duration
}

type report struct {
	Total     int
	Failed    int
	PerSecond float64
	Pages     []pageLatency
	Statuses  map[int]int
	// ZeroQueries lists the queries that found nothing, most frequent
	// first.
	ZeroQueries []string
	LastError   error
}

func (r *recorder) report(elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := report{
		Total:     r.total,
		Failed:    r.failed,
		Statuses:  make(map[int]int, len(r.statuses)),
		LastError: r.lastError,
	}
	if elapsed > 0 {
		rep.PerSecond = float64(r.total) / elapsed.Seconds()
	}
	for code, n := range r.statuses {
		rep.Statuses[code] = n
	}
	for page, lat := range r.byPage {
		if len(lat) == 0 {
			continue
		}
		sorted := slices.Clone(lat)
		slices.Sort(sorted)
		rep.Pages = append(rep.Pages, pageLatency{
			Page:  page,
			Count: len(sorted),
			P50:   percentile(sorted, 50),
			P95:   percentile(sorted, 95),
			P99:   percentile(sorted, 99),
			Max:   sorted[len(sorted)-1],
		})
	}
	for q := range r.zeroHits {
		rep.ZeroQueries = append(rep.ZeroQueries, q)
	}
	sort.Slice(rep.ZeroQueries, func(i, j int) bool {
		a, b := rep.ZeroQueries[i], rep.ZeroQueries[j]
		if r.zeroHits[a] != r.zeroHits[b] {
			return r.zeroHits[a] > r.zeroHits[b]
		}
		return a < b
	})
	return rep
}

func (rep report) print(w io.Writer) {
	fmt.Fprintf(w, "\nrequests %d, failed %d, %.1f/s\n", rep.Total, rep.Failed, rep.PerSecond)
	if rep.LastError != nil {
		fmt.Fprintf(w, "last error: %v\n", rep.LastError)
	}
	if len(rep.Pages) > 0 {
		fmt.Fprintf(w, "\n%-6s %8s %10s %10s %10s %10s\n", "page", "count", "p50", "p95", "p99", "max")
		for _, p := range rep.Pages {
			fmt.Fprintf(w, "%-6d %8d %10s %10s %10s %10s\n", p.Page, p.Count,
				p.P50.Round(time.Microsecond), p.P95.Round(time.Microsecond),
				p.P99.Round(time.Microsecond), p.Max.Round(time.Microsecond))
		}
	}
	codes := make([]int, 0, len(rep.Statuses))
	for code := range rep.Statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	fmt.Fprintln(w, "\nstatus codes:")
	for _, code := range codes {
		fmt.Fprintf(w, "  %d  %d\n", code, rep.Statuses[code])
	}
	if len(rep.ZeroQueries) > 0 {
		fmt.Fprintf(w, "\nqueries without results (%d):\n", len(rep.ZeroQueries))
		for _, q := range rep.ZeroQueries[:min(len(rep.ZeroQueries), 10)] {
			fmt.Fprintf(w, "  %s\n", q)
		}
	}
}

// percentile returns the nearest-rank p-th percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
