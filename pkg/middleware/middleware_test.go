package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarrysearch/quarry/pkg/metrics"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=x", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated id %q: %v", seen, err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q, context %q", got, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Errorf("caller id not kept: %q", seen)
	}
}

func TestTimeout(t *testing.T) {
	slow := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rec := httptest.NewRecorder()
	slow.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=x", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
	if got := rec.Body.String(); got != `{"error":"request timed out"}`+"\n" {
		t.Errorf("body = %q", got)
	}
}

func TestTimeoutDropsLateWrites(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	h := Timeout(5 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		<-release
		w.Header().Set("X-Late", "1")
		_, _ = w.Write([]byte("late results"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/partition?q=x", nil))
	close(release)
	<-finished

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "late") || rec.Header().Get("X-Late") != "" {
		t.Errorf("late response leaked: %q %v", rec.Body.String(), rec.Header())
	}
}

func TestTimeoutPassesAnswer(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	if rec.Code != http.StatusBadRequest || rec.Body.String() != `{"error":"bad"}` {
		t.Errorf("answer = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("headers = %v", rec.Header())
	}
}

func TestTimeoutSkipsHealth(t *testing.T) {
	var bounded bool
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, bounded = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if bounded {
		t.Error("health check got a deadline")
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	if !bounded {
		t.Error("search got no deadline")
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/search", RouteSearch},
		{"/api/v1/searchx", RouteOther},
		{"/api/v1/partition", RoutePartition},
		{"/api/v1/documents", RouteDocuments},
		{"/api/v1/indexes", RouteIndexes},
		{"/api/v1/cache/stats", RouteCache},
		{"/api/v1/cache/invalidate", RouteCache},
		{"/api/v1/stats/history", RouteStats},
		{"/health/live", RouteHealth},
		{"/wp-login.php", RouteOther},
		{"/", RouteOther},
	}
	for _, tt := range tests {
		if got := Route(tt.path); got != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("index") == "missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	for _, target := range []string{
		"/api/v1/search?q=a",
		"/api/v1/search?q=b&index=news",
		"/api/v1/partition?q=a&index=news",
		"/api/v1/search?q=c&index=missing",
		"/random/1",
		"/random/2",
	} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			key := f.GetName()
			for _, lp := range metric.GetLabel() {
				key += " " + lp.GetName() + "=" + lp.GetValue()
			}
			got[key] = metric.GetCounter().GetValue()
		}
	}
	want := map[string]float64{
		"http_requests_total method=GET route=search status=200": 2,
		"http_requests_total method=GET route=search status=404": 1,
		"http_requests_total method=GET route=other status=200":  2,
		"index_queries_total index_name=default route=search":    1,
		"index_queries_total index_name=news route=search":       1,
		"index_queries_total index_name=news route=partition":    1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["index_queries_total index_name=missing route=search"]; ok {
		t.Error("failed query counted for its index")
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("budget of two not granted")
	}
	if l.Allow("a") {
		t.Error("third request in the window allowed")
	}
	if !l.Allow("b") {
		t.Error("clients share a budget")
	}
	now = now.Add(30 * time.Second)
	if !l.Allow("a") {
		t.Error("token not refilled after half a window")
	}
	if l.Allow("a") {
		t.Error("refill exceeded the rate")
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(NewLimiter(1, time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	do := func(path, addr string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do("/api/v1/search?q=a", "10.0.0.1:5000"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := do("/api/v1/search?q=b", "10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Errorf("second request from the same host = %d", code)
	}
	if code := do("/api/v1/search?q=c", "10.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("other host = %d", code)
	}
	if code := do("/health/live", "10.0.0.1:5002"); code != http.StatusOK {
		t.Errorf("health check limited: %d", code)
	}
	if code := do("/api/v1/partition?q=a", "10.0.0.1:5003"); code != http.StatusOK {
		t.Errorf("partition request limited: %d", code)
	}
}
