// Package middleware provides the HTTP middleware shared by the quarry
// services: request IDs, route metrics, rate limiting and query timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quarrysearch/quarry/pkg/metrics"
)

// Route labels. Paths outside these collapse to RouteOther so that
// arbitrary URLs cannot grow the label set.
const (
	RouteSearch     = "search"
	RoutePartition  = "partition"
	RouteDocuments  = "documents"
	RouteIndexes    = "indexes"
	RouteCache      = "cache"
	RouteStats      = "stats"
	RouteHealth     = "health"
	RouteOther      = "other"
	defaultIndexTag = "default"
)

var routePrefixes = []struct {
	prefix string
	route  string
}{
	{"/api/v1/search", RouteSearch},
	{"/api/v1/partition", RoutePartition},
	{"/api/v1/documents", RouteDocuments},
	{"/api/v1/indexes", RouteIndexes},
	{"/api/v1/cache", RouteCache},
	{"/api/v1/stats", RouteStats},
	{"/health", RouteHealth},
}

// Metrics returns middleware that records request counts and latency per
// route. Successful search and partition queries are also counted per
// index they named.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := Route(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())

			if (route == RouteSearch || route == RoutePartition) && sw.status < http.StatusBadRequest {
				m.IndexQueriesTotal.WithLabelValues(route, indexTag(r.URL.Query().Get("index"))).Inc()
			}
		})
	}
}

// Route maps a request path to its metrics label.
func Route(path string) string {
	for _, p := range routePrefixes {
		if path == p.prefix || strings.HasPrefix(path, p.prefix+"/") {
			return p.route
		}
	}
	return RouteOther
}

func indexTag(name string) string {
	if name == "" {
		return defaultIndexTag
	}
	return name
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}
