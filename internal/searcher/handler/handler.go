// Package handler serves the searcher's HTTP API: result pages, partition
// windows for a coordinating searcher, and page cache administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/searcher/executor"
	"github.com/quarrysearch/quarry/internal/searcher/iterator"
	"github.com/quarrysearch/quarry/internal/searcher/parser"
	"github.com/quarrysearch/quarry/pkg/config"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/logger"
	"github.com/quarrysearch/quarry/pkg/metrics"
	"github.com/quarrysearch/quarry/pkg/middleware"
	"github.com/quarrysearch/quarry/pkg/tracing"
)

// Searcher answers queries. *executor.Model satisfies it.
type Searcher interface {
	GetPhrasePageResults(ctx context.Context, req executor.PageRequest) (*executor.Page, error)
	Partition(ctx context.Context, req iterator.PartitionRequest) (*iterator.PartitionResponse, error)
}

// Cache is the page cache as administered over HTTP. *cache.QueryCache
// satisfies it.
type Cache interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) (int64, error)
}

type Handler struct {
	searcher  Searcher
	cache     Cache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	mixes     map[string]*parser.Mix
	cfg       config.SearchConfig
	tracing   config.TracingConfig
	logger    *slog.Logger
}

type Option func(*Handler)

func WithCache(c Cache) Option { return func(h *Handler) { h.cache = c } }

// WithCollector publishes a query event for every answered query when query
// statistics are enabled.
func WithCollector(c *analytics.Collector) Option { return func(h *Handler) { h.collector = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

// WithMixes makes the mixes selectable by name with the mix parameter.
func WithMixes(mixes []parser.Mix) Option {
	return func(h *Handler) {
		for i := range mixes {
			h.mixes[mixes[i].Name] = &mixes[i]
		}
	}
}

func WithTracing(cfg config.TracingConfig) Option { return func(h *Handler) { h.tracing = cfg } }

func New(searcher Searcher, cfg config.SearchConfig, opts ...Option) *Handler {
	h := &Handler{
		searcher: searcher,
		mixes:    make(map[string]*parser.Mix),
		cfg:      cfg,
		logger:   slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET "+iterator.PartitionPath, h.Partition)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search answers GET /api/v1/search?q=&low=&num=&raw=&filter=&save=&index=&mix=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := middleware.GetRequestID(r.Context())
	ctx, root := tracing.StartSpan(r.Context(), "query", requestID)
	defer root.End()

	req, err := h.pageRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Query == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	ctx = logger.With(ctx, "query", req.Query, "index_name", req.IndexName)
	log := logger.FromContext(ctx)

	page, err := h.searcher.GetPhrasePageResults(ctx, req)
	root.End()
	latency := time.Since(start)

	cacheHit := root.Flag("cache_hit")
	returned := 0
	if page != nil {
		returned = len(page.Results)
	}
	outcome := analytics.Outcome(err, cacheHit, returned)
	h.observe(outcome, cacheHit, latency, returned, err == nil)
	h.track(ctx, root, req, page, analytics.QueryEvent{
		Type:      analytics.EventQuery,
		LatencyMs: float64(latency.Microseconds()) / 1000,
		CacheHit:  cacheHit,
		Outcome:   outcome,
		RequestID: requestID,
	}, err)

	if err != nil {
		log.Error("search failed", "error", err)
		h.writeError(w, err)
		return
	}
	log.Info("search completed",
		"low", req.Low,
		"total_rows", page.TotalRows,
		"returned", returned,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, page)
}

// pageRequest reads the query parameters of a search request.
func (h *Handler) pageRequest(r *http.Request) (executor.PageRequest, error) {
	q := r.URL.Query()
	req := executor.PageRequest{
		Query:          strings.TrimSpace(q.Get("q")),
		ResultsPerPage: h.cfg.ResultsPerPage,
		SaveName:       q.Get("save"),
		IndexName:      q.Get("index"),
		Filter:         splitList(q.Get("filter")),
	}
	var err error
	if req.Low, err = intParam("low", q.Get("low"), 0, 0); err != nil {
		return req, err
	}
	if req.ResultsPerPage, err = intParam("num", q.Get("num"), h.cfg.ResultsPerPage, 1); err != nil {
		return req, err
	}
	if h.cfg.MaxResults > 0 {
		req.ResultsPerPage = min(req.ResultsPerPage, h.cfg.MaxResults)
	}
	if req.Raw, err = intParam("raw", q.Get("raw"), 0, 0); err != nil {
		return req, err
	}
	if name := q.Get("mix"); name != "" {
		mix, ok := h.mixes[name]
		if !ok {
			return req, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown mix %q", name)
		}
		req.Mix = mix
	}
	return req, nil
}

// Partition answers a coordinating searcher's request for a window of this
// partition's ranked results.
func (h *Handler) Partition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := iterator.PartitionRequest{
		Query:     q.Get("q"),
		IndexName: q.Get("index"),
		SaveName:  q.Get("save_name"),
		Filter:    splitList(q.Get("filter")),
	}
	var err error
	if req.Offset, err = intParam("offset", q.Get("offset"), 0, 0); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Num, err = intParam("num", q.Get("num"), h.cfg.ResultsPerPage, 0); err != nil {
		h.writeError(w, err)
		return
	}
	if h.cfg.MaxResults > 0 {
		req.Num = min(req.Num, h.cfg.MaxResults)
		// a coordinator asks one partition for at most alpha times the
		// result limit
		if req.Offset >= partitionOffsetLimit(h.cfg) {
			h.writeJSON(w, http.StatusOK, &iterator.PartitionResponse{Results: []iterator.WireResult{}})
			return
		}
	}
	resp, err := h.searcher.Partition(r.Context(), req)
	if err != nil {
		logger.FromContext(r.Context()).Error("partition query failed",
			"query", req.Query,
			"index_name", req.IndexName,
			"offset", req.Offset,
			"error", err,
		)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func partitionOffsetLimit(cfg config.SearchConfig) int {
	return int(math.Ceil(max(cfg.ServerAlpha, 1) * float64(cfg.MaxResults)))
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "cache invalidation failed"))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) observe(outcome string, cacheHit bool, latency time.Duration, returned int, ok bool) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	if !ok {
		return
	}
	status := "miss"
	if cacheHit {
		status = "hit"
		h.metrics.CacheHitsTotal.Inc()
	} else {
		h.metrics.CacheMissesTotal.Inc()
	}
	h.metrics.SearchLatency.WithLabelValues(status).Observe(latency.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(returned))
}

// track logs the stage timings of a sampled query and publishes its query
// event.
func (h *Handler) track(ctx context.Context, root *tracing.Span, req executor.PageRequest, page *executor.Page, event analytics.QueryEvent, err error) {
	if !h.tracing.Enabled || rand.Float64() >= h.tracing.SampleRate {
		return
	}
	root.Log(logger.FromContext(ctx))
	if h.collector == nil {
		return
	}
	event.Query = req.Query
	event.IndexName = req.IndexName
	event.Low = req.Low
	event.ResultsPerPage = req.ResultsPerPage
	event.StagesMs = root.Stages()
	event.MachineID = h.cfg.MachineID
	event.Timestamp = time.Now().UTC()
	if page != nil {
		event.TotalRows = page.TotalRows
		event.Returned = len(page.Results)
	}
	if err != nil {
		event.Error = err.Error()
	}
	h.collector.Track(event)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError answers with the status err maps to. Messages of unclassified
// errors are not shown to callers.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "request timed out"
	case status == http.StatusInternalServerError && appErr == nil:
		message = http.StatusText(status)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}

// intParam parses the integer parameter name, returning def when it is
// absent.
func intParam(name, s string, def, minimum int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be an integer of at least %d", name, minimum)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
