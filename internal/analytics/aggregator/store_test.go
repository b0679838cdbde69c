package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/quarrysearch/quarry/internal/analytics"
)

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return nil, f.err
}

func (f *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func TestSaveSnapshot(t *testing.T) {
	db := &fakeDB{}
	s := NewStore(db, "searcher-1")
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	stats := analytics.AggregatedStats{TotalQueries: 7, TopQueries: []analytics.QueryCount{{Query: "cats", Count: 4}}}
	if err := s.SaveSnapshot(context.Background(), stats); err != nil {
		t.Fatal(err)
	}
	if len(db.calls) != 2 || !strings.Contains(db.calls[0].query, "CREATE TABLE IF NOT EXISTS query_stats_snapshots") {
		t.Fatalf("calls = %+v", db.calls)
	}
	insert := db.calls[1]
	if insert.args[0] != "searcher-1" {
		t.Errorf("machine id arg = %v", insert.args[0])
	}
	var saved analytics.AggregatedStats
	if err := json.Unmarshal(insert.args[1].([]byte), &saved); err != nil {
		t.Fatal(err)
	}
	if saved.TotalQueries != 7 || saved.TopQueries[0].Query != "cats" {
		t.Errorf("saved = %+v", saved)
	}
}

func TestSaveSnapshotError(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewStore(&fakeDB{err: boom}, "m")
	if err := s.SaveSnapshot(context.Background(), analytics.AggregatedStats{}); !errors.Is(err, boom) {
		t.Errorf("error = %v", err)
	}
	if _, err := s.ListSnapshots(context.Background(), 5); err == nil {
		t.Error("ListSnapshots ignored query error")
	}
}
