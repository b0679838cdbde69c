// Package health serves the liveness and readiness endpoints of the quarry
// services. Each service registers checks for what it depends on: open
// index generations, reachable partitions, Kafka, Redis and Postgres.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Check reports on one dependency. It must return once ctx is done.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency string         `json:"latency,omitempty"`
}

// Report is the outcome of one readiness run. Its status is the worst of
// its components.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker runs the registered checks in parallel, each under its own
// deadline.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 2 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds check under name, replacing any check of that name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = c.checks[name]
	}
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			start := time.Now()
			results[i] = check(cctx)
			results[i].Latency = time.Since(start).Round(time.Millisecond).String()
		})
	}
	wg.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		r := results[i]
		report.Components[name] = r
		if r.Status.rank() > report.Status.rank() {
			report.Status = r.Status
		}
		if r.Status != StatusUp {
			c.logger.Warn("component unhealthy", "name", name, "status", r.Status, "message", r.Message)
		}
	}
	return report
}

// LiveHandler answers liveness checks. A process that can answer is alive.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness checks with the full report: 200 when every
// component is up, 503 otherwise. A degraded searcher still answers
// queries, so ?degraded=ok accepts degraded as ready.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		switch {
		case report.Status == StatusUp:
		case report.Status == StatusDegraded && r.URL.Query().Get("degraded") == "ok":
		default:
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Ping turns a connectivity test into a Check reporting failed on error.
func Ping(ping func(ctx context.Context) error, failed Status) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: failed, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// IndexState describes one open index.
type IndexState struct {
	Name        string
	Generations int
	Docs        int
}

// Indexes reports the generations and documents of every open index. A
// service with no open index is degraded unless it only coordinates
// partitions.
func Indexes(list func() []IndexState, coordinating bool) Check {
	return func(ctx context.Context) ComponentHealth {
		states := list()
		if len(states) == 0 {
			if coordinating {
				return ComponentHealth{Status: StatusUp, Message: "coordinating partitions"}
			}
			return ComponentHealth{Status: StatusDegraded, Message: "no indexes open"}
		}
		details := make(map[string]any, len(states))
		empty := 0
		for _, s := range states {
			details[s.Name] = map[string]int{"generations": s.Generations, "docs": s.Docs}
			if s.Generations == 0 {
				empty++
			}
		}
		msg := fmt.Sprintf("%d indexes open", len(states))
		if empty > 0 {
			msg += fmt.Sprintf(", %d without a saved generation", empty)
		}
		return ComponentHealth{Status: StatusUp, Message: msg, Details: details}
	}
}
