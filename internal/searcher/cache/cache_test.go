package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quarrysearch/quarry/internal/searcher/iterator"
	"github.com/quarrysearch/quarry/pkg/config"
	pkgredis "github.com/quarrysearch/quarry/pkg/redis"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]string
	ttls    map[string]time.Duration
	failGet bool
	onFlush func()
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := s.entries[key]
	if !ok {
		return "", pkgredis.ErrMiss
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = string(value.([]byte))
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onFlush != nil {
		s.onFlush()
	}
	var n int64
	for k := range s.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func window(n int) *iterator.PartitionResponse {
	resp := &iterator.PartitionResponse{TotalRows: n}
	for i := 0; i < n; i++ {
		resp.Results = append(resp.Results, iterator.WireResult{Key: "k", Doc: uint32(i), Score: float64(n - i)})
	}
	return resp
}

func TestGetOrCompute(t *testing.T) {
	store := newMemStore()
	c := New(store, config.RedisConfig{CacheTTL: time.Minute})
	ctx := context.Background()

	computes := 0
	compute := func() (*iterator.PartitionResponse, error) {
		computes++
		return window(3), nil
	}
	got, hit, err := c.GetOrCompute(ctx, "main@1 abc:0:10", compute)
	if err != nil || hit || got.TotalRows != 3 {
		t.Fatalf("first call = %+v, %v, %v", got, hit, err)
	}
	got, hit, err = c.GetOrCompute(ctx, "main@1 abc:0:10", compute)
	if err != nil || !hit || len(got.Results) != 3 || got.Results[2].Doc != 2 {
		t.Fatalf("second call = %+v, %v, %v", got, hit, err)
	}
	if computes != 1 {
		t.Errorf("computes = %d", computes)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 2 {
		t.Errorf("hits %d misses %d", hits, misses)
	}
	if ttl := store.ttls[Key("main@1 abc:0:10")]; ttl != time.Minute {
		t.Errorf("ttl = %v", ttl)
	}
}

func TestGetOrComputeError(t *testing.T) {
	c := New(newMemStore(), config.RedisConfig{})
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "w", func() (*iterator.PartitionResponse, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v", err)
	}
	if _, ok := c.Get(context.Background(), "w"); ok {
		t.Error("failed computation was cached")
	}
}

func TestGetOrComputeStoreDown(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	c := New(store, config.RedisConfig{})
	got, hit, err := c.GetOrCompute(context.Background(), "w", func() (*iterator.PartitionResponse, error) {
		return window(1), nil
	})
	if err != nil || hit || got.TotalRows != 1 {
		t.Errorf("store failure was not bypassed: %+v, %v, %v", got, hit, err)
	}
}

func TestConcurrentRequestsComputeOnce(t *testing.T) {
	c := New(newMemStore(), config.RedisConfig{})
	var computes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "hot", func() (*iterator.PartitionResponse, error) {
				computes.Add(1)
				time.Sleep(10 * time.Millisecond)
				return window(2), nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := computes.Load(); n != 1 {
		t.Errorf("computes = %d, want 1", n)
	}
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	store.entries["other:key"] = "x"
	c := New(store, config.RedisConfig{})
	ctx := context.Background()
	for _, w := range []string{"a", "b"} {
		c.Set(ctx, w, window(1))
	}
	n, err := c.Invalidate(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Invalidate = %d, %v", n, err)
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("window survived invalidation")
	}
	if _, ok := store.entries["other:key"]; !ok {
		t.Error("invalidation removed a key outside the cache prefix")
	}
}

func TestKeyIsStable(t *testing.T) {
	if Key("x") != Key("x") || Key("x") == Key("y") {
		t.Error("keys are not a function of the window")
	}
	if k := Key("x"); len(k) <= len(keyPrefix) || k[:len(keyPrefix)] != keyPrefix {
		t.Errorf("key %q lacks prefix", k)
	}
}

func TestHandleInvalidate(t *testing.T) {
	store := newMemStore()
	c := New(store, config.RedisConfig{})
	ctx := context.Background()
	c.Set(ctx, "w", window(1))

	var order []string
	store.onFlush = func() { order = append(order, "invalidate") }
	handle := HandleInvalidate(c, func() int {
		order = append(order, "reload")
		return 1
	})
	if err := handle(ctx, []byte("main"), []byte(`{"index_name":"main","generation":3,"docs":10}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, "w"); ok {
		t.Error("window survived flush notice")
	}
	if len(order) != 2 || order[0] != "reload" || order[1] != "invalidate" {
		t.Errorf("order = %v", order)
	}
	if err := handle(ctx, nil, []byte("garbage")); err != nil {
		t.Errorf("undecodable notice error = %v", err)
	}
}
