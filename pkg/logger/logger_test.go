package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewTagsService(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "searcher", "info", "json").Info("search completed", "returned", 3)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if rec["service"] != "searcher" || rec["msg"] != "search completed" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	New(&buf, "", "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestContextAttributesAccumulate(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "", "debug", "text"))
	defer slog.SetDefault(prev)

	base := WithRequestID(context.Background(), "req-7")
	query := With(base, "index_name", "main")
	sibling := With(base, "index_name", "news")

	FromContext(query).Info("q")
	line := buf.String()
	if !strings.Contains(line, "request_id=req-7") || !strings.Contains(line, "index_name=main") {
		t.Errorf("query record = %q", line)
	}

	buf.Reset()
	FromContext(sibling).Info("s")
	if line := buf.String(); strings.Contains(line, "index_name=main") || !strings.Contains(line, "index_name=news") {
		t.Errorf("sibling contexts share attributes: %q", line)
	}

	buf.Reset()
	FromContext(context.Background()).Info("bare")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("bare context has attributes: %q", buf.String())
	}
}
