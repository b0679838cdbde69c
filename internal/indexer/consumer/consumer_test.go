package consumer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/shard"
	"github.com/quarrysearch/quarry/pkg/config"
)

type recorded struct{ url, index, status string }

type memRegistry struct{ rows []recorded }

func (r *memRegistry) Record(_ context.Context, url, indexName, status string) error {
	r.rows = append(r.rows, recorded{url, indexName, status})
	return nil
}

func newRouter(t *testing.T, partition config.PartitionConfig) *shard.Router {
	t.Helper()
	r, err := shard.NewRouter(config.IndexerConfig{
		DataDir:           t.TempDir(),
		IndexName:         "main",
		GenerationMaxDocs: 100,
		Partition:         partition,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func encode(t *testing.T, ev CrawlEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleMessage(t *testing.T) {
	router := newRouter(t, config.PartitionConfig{Index: 0, Count: 1})
	reg := &memRegistry{}
	var observed []string
	handle := HandleMessage(router, reg, func(index, status string) {
		observed = append(observed, index+":"+status)
	})
	ctx := context.Background()

	good := CrawlEvent{CrawlDocument: indexer.CrawlDocument{URL: "http://a.com/", Body: "hello world"}}
	news := CrawlEvent{IndexName: "news", CrawlDocument: indexer.CrawlDocument{URL: "http://n.com/", Body: "headline"}}
	bad := CrawlEvent{CrawlDocument: indexer.CrawlDocument{URL: "ftp://a.com/file", Body: "x"}}
	for _, msg := range [][]byte{encode(t, good), encode(t, news), encode(t, bad), []byte("{not json")} {
		if err := handle(ctx, nil, msg); err != nil {
			t.Errorf("handle(%s) = %v", msg, err)
		}
	}

	want := []recorded{
		{"http://a.com/", "main", StatusIndexed},
		{"http://n.com/", "news", StatusIndexed},
		{"ftp://a.com/file", "main", StatusRejected},
	}
	if !reflect.DeepEqual(reg.rows, want) {
		t.Errorf("registry = %+v", reg.rows)
	}
	if !reflect.DeepEqual(observed, []string{"main:INDEXED", "news:INDEXED", "main:REJECTED"}) {
		t.Errorf("observed = %v", observed)
	}
	stats := router.Stats()
	if len(stats) != 2 || stats[0].ActiveDocs != 1 || stats[1].ActiveDocs != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleMessageSkipsOtherPartitions(t *testing.T) {
	routers := []*shard.Router{
		newRouter(t, config.PartitionConfig{Index: 0, Count: 2}),
		newRouter(t, config.PartitionConfig{Index: 1, Count: 2}),
	}
	msg := encode(t, CrawlEvent{CrawlDocument: indexer.CrawlDocument{URL: "http://a.com/page", Body: "text"}})
	indexed := 0
	for _, r := range routers {
		reg := &memRegistry{}
		if err := HandleMessage(r, reg, nil)(context.Background(), nil, msg); err != nil {
			t.Fatal(err)
		}
		indexed += len(reg.rows)
	}
	if indexed != 1 {
		t.Errorf("document indexed by %d partitions", indexed)
	}
}

type execCall struct {
	query string
	args  []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query, args})
	return nil, f.err
}

func TestPostgresRegistry(t *testing.T) {
	db := &fakeExecer{}
	reg := NewPostgresRegistry(db)
	if err := reg.Record(context.Background(), "http://a.com/", "main", StatusIndexed); err != nil {
		t.Fatal(err)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0].query, "ON CONFLICT") {
		t.Fatalf("calls = %+v", db.calls)
	}
	want := []any{hash.Crawl("http://a.com/").String(), "main", "http://a.com/", StatusIndexed}
	if !reflect.DeepEqual(db.calls[0].args, want) {
		t.Errorf("args = %v", db.calls[0].args)
	}

	db.err = errors.New("connection reset")
	if err := reg.Record(context.Background(), "http://a.com/", "main", StatusFailed); !errors.Is(err, db.err) {
		t.Errorf("error = %v", err)
	}
}
