// Package tracing times the stages of a query. A root span opened per
// request travels in the context; the executor hangs parse, page, lookup
// and rank spans under it. The finished tree is logged as one record and
// flattened into the stage timings of the query statistics.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span is one timed stage. Spans are safe for concurrent use; partitions
// queried in parallel add children to the same parent.
type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	end      time.Time
	children []*Span
	attrs    map[string]any
}

func newSpan(name, traceID string) *Span {
	return &Span{name: name, traceID: traceID, start: time.Now()}
}

// StartSpan opens the root span of a query under traceID, normally the
// request id.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	s := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan opens a stage under the span in ctx. Without one the
// span is detached: it times the stage but nothing reports it.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		s := newSpan(name, "")
		return context.WithValue(ctx, spanKey{}, s), s
	}
	s := newSpan(name, parent.traceID)
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) Name() string    { return s.name }
func (s *Span) TraceID() string { return s.traceID }

// End closes the span. Only the first call counts.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
}

// Duration is the time from start to End, or to now while the span is
// open.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = make(map[string]any)
	}
	s.attrs[key] = value
}

func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Walk calls fn for s and every descendant, parents first.
func (s *Span) Walk(fn func(*Span)) {
	fn(s)
	s.mu.Lock()
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()
	for _, c := range children {
		c.Walk(fn)
	}
}

// Flag reports whether any span of the tree has key set to true, such as
// a page answered from the cache.
func (s *Span) Flag(key string) bool {
	found := false
	s.Walk(func(sp *Span) {
		if v, ok := sp.Attr(key); ok && v == true {
			found = true
		}
	})
	return found
}

// Stages sums the durations of the descendants of s by name, in
// milliseconds. A stage run once per presentation part is reported as the
// total over all parts.
func (s *Span) Stages() map[string]float64 {
	stages := make(map[string]float64)
	s.Walk(func(sp *Span) {
		if sp != s {
			stages[sp.name] += float64(sp.Duration().Microseconds()) / 1000
		}
	})
	return stages
}

// Log writes the tree as one record: the root's duration and attributes
// and the summed stage timings.
func (s *Span) Log(logger *slog.Logger) {
	args := []any{"trace_id", s.traceID, "span", s.name, "duration_ms", float64(s.Duration().Microseconds()) / 1000}
	s.mu.Lock()
	for k, v := range s.attrs {
		args = append(args, k, v)
	}
	s.mu.Unlock()
	stages := s.Stages()
	if len(stages) > 0 {
		group := make([]any, 0, 2*len(stages))
		for name, ms := range stages {
			group = append(group, name, ms)
		}
		args = append(args, slog.Group("stages_ms", group...))
	}
	logger.Info("query trace", args...)
}
