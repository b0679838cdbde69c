package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/indexer/shard"
	"github.com/quarrysearch/quarry/internal/searcher/cache"
	"github.com/quarrysearch/quarry/internal/searcher/executor"
	"github.com/quarrysearch/quarry/internal/searcher/iterator"
	"github.com/quarrysearch/quarry/internal/searcher/parser"
	"github.com/quarrysearch/quarry/pkg/config"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/kafka"
	"github.com/quarrysearch/quarry/pkg/metrics"
	"github.com/quarrysearch/quarry/pkg/middleware"
	pkgredis "github.com/quarrysearch/quarry/pkg/redis"
)

type fakeSearcher struct {
	pages      []executor.PageRequest
	partitions []iterator.PartitionRequest
	err        error
}

func (f *fakeSearcher) GetPhrasePageResults(_ context.Context, req executor.PageRequest) (*executor.Page, error) {
	f.pages = append(f.pages, req)
	if f.err != nil {
		return nil, f.err
	}
	return &executor.Page{Query: req.Query, Low: req.Low, ResultsPerPage: req.ResultsPerPage, Results: []iterator.WireResult{}}, nil
}

func (f *fakeSearcher) Partition(_ context.Context, req iterator.PartitionRequest) (*iterator.PartitionResponse, error) {
	f.partitions = append(f.partitions, req)
	if f.err != nil {
		return nil, f.err
	}
	return &iterator.PartitionResponse{TotalRows: 7, Results: []iterator.WireResult{{Key: "k", Score: 1}}}, nil
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Routes(mux)
	rec := httptest.NewRecorder()
	middleware.RequestID(mux).ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body["error"]
}

func TestSearchParameters(t *testing.T) {
	s := &fakeSearcher{}
	news := parser.Mix{Name: "news", Groups: []parser.MixGroup{{ResultBound: 10}}}
	h := New(s, config.SearchConfig{ResultsPerPage: 10, MaxResults: 100}, WithMixes([]parser.Mix{news}))

	rec := serve(h, http.MethodGet, "/api/v1/search?q=+cats+dogs+&low=20&num=500&raw=1&filter=a.com,+b.com,&save=s1&index=news&mix=news")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	want := executor.PageRequest{
		Query:          "cats dogs",
		Low:            20,
		ResultsPerPage: 100,
		Raw:            1,
		Filter:         []string{"a.com", "b.com"},
		SaveName:       "s1",
		Mix:            h.mixes["news"],
		IndexName:      "news",
	}
	if !reflect.DeepEqual(s.pages[0], want) {
		t.Errorf("request = %+v\nwant      %+v", s.pages[0], want)
	}

	rec = serve(h, http.MethodGet, "/api/v1/search?q=cats")
	if rec.Code != http.StatusOK || s.pages[1].ResultsPerPage != 10 || s.pages[1].Low != 0 {
		t.Errorf("defaults: %d %+v", rec.Code, s.pages[1])
	}
}

func TestSearchBadRequests(t *testing.T) {
	s := &fakeSearcher{}
	h := New(s, config.SearchConfig{ResultsPerPage: 10})
	tests := []struct {
		target  string
		message string
	}{
		{"/api/v1/search", "query parameter 'q' is required"},
		{"/api/v1/search?q=+++", "query parameter 'q' is required"},
		{"/api/v1/search?q=cats&low=-1", "low must be an integer of at least 0"},
		{"/api/v1/search?q=cats&num=0", "num must be an integer of at least 1"},
		{"/api/v1/search?q=cats&raw=x", "raw must be an integer of at least 0"},
		{"/api/v1/search?q=cats&mix=nope", `unknown mix "nope"`},
	}
	for _, tt := range tests {
		rec := serve(h, http.MethodGet, tt.target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", tt.target, rec.Code)
			continue
		}
		if got := errorMessage(t, rec); got != tt.message {
			t.Errorf("%s: error %q, want %q", tt.target, got, tt.message)
		}
	}
	if len(s.pages) != 0 {
		t.Errorf("searcher called for bad requests: %+v", s.pages)
	}
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{fmt.Errorf("building iterator: %w", apperrors.ErrIndexNotFound), http.StatusNotFound, "building iterator: index not found"},
		{apperrors.ErrPartitionUnavailable, http.StatusServiceUnavailable, "partition unavailable"},
		{fmt.Errorf("collecting: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "request timed out"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		h := New(&fakeSearcher{err: tt.err}, config.SearchConfig{})
		rec := serve(h, http.MethodGet, "/api/v1/search?q=cats")
		if rec.Code != tt.status {
			t.Errorf("%v: status %d, want %d", tt.err, rec.Code, tt.status)
			continue
		}
		if got := errorMessage(t, rec); got != tt.message {
			t.Errorf("%v: message %q, want %q", tt.err, got, tt.message)
		}
	}
}

func TestPartition(t *testing.T) {
	s := &fakeSearcher{}
	h := New(s, config.SearchConfig{ResultsPerPage: 10, MaxResults: 50})
	rec := serve(h, http.MethodGet, iterator.PartitionPath+"?q=cats+i%3Anews&offset=40&num=80&index=news&save_name=s&filter=a.com")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	want := iterator.PartitionRequest{Query: "cats i:news", IndexName: "news", Offset: 40, Num: 50, Filter: []string{"a.com"}, SaveName: "s"}
	if !reflect.DeepEqual(s.partitions[0], want) {
		t.Errorf("request = %+v", s.partitions[0])
	}
	var resp iterator.PartitionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.TotalRows != 7 || len(resp.Results) != 1 {
		t.Errorf("response = %+v, %v", resp, err)
	}

	rec = serve(h, http.MethodGet, iterator.PartitionPath+"?q=cats&offset=50")
	var beyond iterator.PartitionResponse
	if err := json.NewDecoder(rec.Body).Decode(&beyond); rec.Code != http.StatusOK || err != nil || len(beyond.Results) != 0 {
		t.Errorf("offset past the result limit: status %d, %+v, %v", rec.Code, beyond, err)
	}
	if len(s.partitions) != 1 {
		t.Errorf("searcher asked for a window past the result limit: %+v", s.partitions)
	}

	if rec := serve(h, http.MethodGet, iterator.PartitionPath+"?q=cats&offset=x"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad offset status = %d", rec.Code)
	}
	if rec := serve(h, http.MethodPost, iterator.PartitionPath+"?q=cats"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
}

// mapStore is an in-memory cache.Store.
type mapStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func (s *mapStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		return "", pkgredis.ErrMiss
	}
	return v, nil
}

func (s *mapStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = string(value.([]byte))
	return nil
}

func (s *mapStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []analytics.QueryEvent
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		p.events = append(p.events, e.Value.(analytics.QueryEvent))
	}
	return nil
}

func newTestRouter(t *testing.T) *shard.Router {
	t.Helper()
	r, err := shard.NewRouter(config.IndexerConfig{
		DataDir:           t.TempDir(),
		IndexName:         "main",
		GenerationMaxDocs: 100,
		Partition:         config.PartitionConfig{Index: 0, Count: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	e, err := r.Engine("")
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range []indexer.CrawlDocument{
		{URL: "http://a.com/1", Body: "cats and dogs"},
		{URL: "http://a.com/2", Body: "cats"},
		{URL: "http://b.com/3", Body: "dogs play"},
	} {
		if err := e.AddDocument(d); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.FlushAll(); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSearchEndToEnd(t *testing.T) {
	store := &mapStore{entries: make(map[string]string)}
	qc := cache.New(store, config.RedisConfig{CacheTTL: time.Minute})
	cfg := config.SearchConfig{ResultsPerPage: 10, MaxResults: 1000, MachineID: "searcher-1"}
	model := executor.New(newTestRouter(t), cfg, executor.WithCache(qc))
	pub := &recordingPublisher{}
	collector := analytics.NewCollector(pub, 16)
	collector.Start(context.Background())
	reg := prometheus.NewRegistry()
	h := New(model, cfg,
		WithCache(qc),
		WithCollector(collector),
		WithMetrics(metrics.NewWithRegistry(reg)),
		WithTracing(config.TracingConfig{Enabled: true, SampleRate: 1}),
	)

	for i := 0; i < 2; i++ {
		rec := serve(h, http.MethodGet, "/api/v1/search?q=cats")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var page executor.Page
		if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
			t.Fatal(err)
		}
		if page.TotalRows != 2 || len(page.Results) != 2 || len(page.Words) == 0 || page.Words[0] != "cats" {
			t.Errorf("page = %+v", page)
		}
	}
	serve(h, http.MethodGet, "/api/v1/search?q=zebra")
	collector.Close()

	if len(pub.events) != 3 {
		t.Fatalf("published %d events", len(pub.events))
	}
	miss, hit, zero := pub.events[0], pub.events[1], pub.events[2]
	if miss.Outcome != analytics.OutcomeMiss || miss.CacheHit || miss.MachineID != "searcher-1" || miss.RequestID == "" {
		t.Errorf("first event = %+v", miss)
	}
	for _, stage := range []string{"parse", "page", "lookup", "rank"} {
		if _, ok := miss.StagesMs[stage]; !ok {
			t.Errorf("first event lacks stage %s: %v", stage, miss.StagesMs)
		}
	}
	if hit.Outcome != analytics.OutcomeHit || !hit.CacheHit || hit.TotalRows != 2 || hit.Returned != 2 {
		t.Errorf("second event = %+v", hit)
	}
	if _, ok := hit.StagesMs["lookup"]; ok {
		t.Errorf("cached query ran a lookup: %v", hit.StagesMs)
	}
	if zero.Outcome != analytics.OutcomeZeroResult {
		t.Errorf("third event = %+v", zero)
	}

	rec := serve(h, http.MethodGet, "/api/v1/cache/stats")
	var stats map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats["hits"] != float64(1) {
		t.Errorf("cache stats = %v", stats)
	}

	rec = serve(h, http.MethodPost, "/api/v1/cache/invalidate")
	var inv map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&inv); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || inv["keys_deleted"] != float64(2) {
		t.Errorf("invalidate = %d %v", rec.Code, inv)
	}
}

func TestCacheDisabled(t *testing.T) {
	h := New(&fakeSearcher{}, config.SearchConfig{})
	if rec := serve(h, http.MethodGet, "/api/v1/cache/stats"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "disabled") {
		t.Errorf("stats = %d %s", rec.Code, rec.Body)
	}
	if rec := serve(h, http.MethodPost, "/api/v1/cache/invalidate"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("invalidate status = %d", rec.Code)
	}
}
