package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStages(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "query", "trace-1")
	for i := 0; i < 2; i++ {
		pageCtx, page := StartChildSpan(ctx, "page")
		_, lookup := StartChildSpan(pageCtx, "lookup")
		time.Sleep(time.Millisecond)
		lookup.End()
		page.SetAttr("cache_hit", i == 1)
		page.End()
	}
	root.End()

	stages := root.Stages()
	if len(stages) != 2 {
		t.Fatalf("stages = %v", stages)
	}
	if stages["lookup"] < 2 || stages["page"] < stages["lookup"] {
		t.Errorf("stage timings = %v", stages)
	}
	if _, ok := stages["query"]; ok {
		t.Error("root span reported as a stage")
	}

	root.Walk(func(s *Span) {
		if s.TraceID() != "trace-1" {
			t.Errorf("span %s has trace id %q", s.Name(), s.TraceID())
		}
	})
	if !root.Flag("cache_hit") {
		t.Error("cache hit of the second page not found")
	}
	if root.Flag("missing") {
		t.Error("unset flag reported")
	}
}

func TestSpanFromContext(t *testing.T) {
	if SpanFromContext(context.Background()) != nil {
		t.Error("span found in empty context")
	}
	ctx, root := StartSpan(context.Background(), "query", "t")
	if SpanFromContext(ctx) != root {
		t.Error("root span not in context")
	}
	orphanCtx, orphan := StartChildSpan(context.Background(), "page")
	if orphan.TraceID() != "" || SpanFromContext(orphanCtx) != orphan {
		t.Errorf("orphan = %+v", orphan)
	}
}

func TestEndOnce(t *testing.T) {
	_, s := StartSpan(context.Background(), "query", "trace-2")
	s.End()
	first := s.Duration()
	time.Sleep(2 * time.Millisecond)
	s.End()
	if got := s.Duration(); got != first {
		t.Errorf("second End moved the duration from %v to %v", first, got)
	}
}

func TestLog(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "query", "req-9")
	root.SetAttr("query", "cats")
	_, parse := StartChildSpan(ctx, "parse")
	parse.End()
	root.End()

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	line := buf.String()
	for _, want := range []string{"msg=\"query trace\"", "trace_id=req-9", "query=cats", "stages_ms.parse="} {
		if !strings.Contains(line, want) {
			t.Errorf("%q missing from %q", want, line)
		}
	}
	if strings.Count(line, "\n") != 1 {
		t.Errorf("tree logged as %d records", strings.Count(line, "\n"))
	}
}
