package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	var sorted []time.Duration
	for i := 1; i <= 100; i++ {
		sorted = append(sorted, time.Duration(i)*time.Millisecond)
	}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, time.Millisecond},
		{50, 50 * time.Millisecond},
		{99, 99 * time.Millisecond},
		{100, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if percentile(nil, 50) != 0 {
		t.Error("percentile of nothing")
	}
}

func TestSearchURL(t *testing.T) {
	opts := options{BaseURL: "http://search:8080", Num: 20, Index: "news", Raw: 2}
	u, err := url.Parse(searchURL(opts, "site:example.com cats", 2))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if u.Path != "/api/v1/search" || q.Get("q") != "site:example.com cats" || q.Get("low") != "40" || q.Get("num") != "20" {
		t.Errorf("url = %s", u)
	}
	if q.Get("index") != "news" || q.Get("raw") != "2" || q.Has("mix") {
		t.Errorf("url = %s", u)
	}
}

func TestReport(t *testing.T) {
	rec := newRecorder(2)
	for i := 1; i <= 10; i++ {
		rec.add(sample{query: "cats", page: 0, latency: time.Duration(i) * time.Millisecond, status: 200, totalRows: 30})
	}
	rec.add(sample{query: "cats", page: 1, latency: 50 * time.Millisecond, status: 200, totalRows: 30})
	rec.add(sample{query: "zzz", status: 200})
	rec.add(sample{query: "qqq", status: 200})
	rec.add(sample{query: "qqq", status: 200})
	rec.add(sample{query: "cats", status: 504})
	rec.add(sample{query: "cats", err: errors.New("connection refused")})

	rep := rec.report(time.Second)
	if rep.Total != 16 || rep.Failed != 2 || rep.PerSecond != 16 {
		t.Errorf("totals = %d/%d/%v", rep.Total, rep.Failed, rep.PerSecond)
	}
	if len(rep.Pages) != 2 {
		t.Fatalf("pages = %+v", rep.Pages)
	}
	if p := rep.Pages[0]; p.Count != 13 || p.Max != 10*time.Millisecond {
		t.Errorf("page 0 = %+v", p)
	}
	if p := rep.Pages[1]; p.Page != 1 || p.Count != 1 || p.P50 != 50*time.Millisecond {
		t.Errorf("page 1 = %+v", p)
	}
	if len(rep.ZeroQueries) != 2 || rep.ZeroQueries[0] != "qqq" || rep.ZeroQueries[1] != "zzz" {
		t.Errorf("zero queries = %v", rep.ZeroQueries)
	}
	if rep.Statuses[200] != 14 || rep.Statuses[504] != 1 {
		t.Errorf("statuses = %v", rep.Statuses)
	}
	var out strings.Builder
	rep.print(&out)
	if !strings.Contains(out.String(), "connection refused") || !strings.Contains(out.String(), "qqq") {
		t.Errorf("printed report:\n%s", out.String())
	}
}

func TestLoadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.txt")
	if err := os.WriteFile(path, []byte("# comment\ncats\n\n  dogs  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := loadQueries(path)
	if err != nil || len(got) != 2 || got[0] != "cats" || got[1] != "dogs" {
		t.Errorf("loadQueries = %v, %v", got, err)
	}
	empty := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(empty, []byte("# nothing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadQueries(empty); err == nil {
		t.Error("empty query file accepted")
	}
}

func TestRunStopsPagingAtTotalRows(t *testing.T) {
	var mu sync.Mutex
	deepest := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		low, _ := strconv.Atoi(q.Get("low"))
		mu.Lock()
		deepest[q.Get("q")] = max(deepest[q.Get("q")], low)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch q.Get("q") {
		case "nothing":
			w.Write([]byte(`{"total_rows":0,"results":[]}`))
		case "broken":
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		default:
			w.Write([]byte(`{"total_rows":15,"results":[]}`))
		}
	}))
	defer srv.Close()

	rec := run(context.Background(), options{
		BaseURL:     srv.URL,
		Concurrency: 2,
		Duration:    200 * time.Millisecond,
		Queries:     []string{"cats", "nothing", "broken"},
		Pages:       5,
		Num:         10,
	})
	rep := rec.report(200 * time.Millisecond)
	if rep.Total == 0 || rep.Failed == 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.ZeroQueries) != 1 || rep.ZeroQueries[0] != "nothing" {
		t.Errorf("zero queries = %v", rep.ZeroQueries)
	}
	mu.Lock()
	defer mu.Unlock()
	if deepest["cats"] != 10 || deepest["nothing"] != 0 || deepest["broken"] != 0 {
		t.Errorf("deepest low per query = %v", deepest)
	}
}
