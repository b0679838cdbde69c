// Package cache keeps ranked result windows in Redis. Keys are the xxhash of
// the executor's description of a window; concurrent requests for the same
// window share one computation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/searcher/iterator"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/kafka"
	pkgredis "github.com/quarrysearch/quarry/pkg/redis"
)

const keyPrefix = "search:"

// Store is the key-value store behind a QueryCache. *pkgredis.Client
// satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(store Store, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		store:  store,
		ttl:    cfg.CacheTTL,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Key maps the description of a result window to its cache key.
func Key(window string) string {
	return keyPrefix + strconv.FormatUint(xxhash.Sum64String(window), 16)
}

func (c *QueryCache) Get(ctx context.Context, window string) (*iterator.PartitionResponse, bool) {
	key := Key(window)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var resp iterator.PartitionResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &resp, true
}

func (c *QueryCache) Set(ctx context.Context, window string, resp *iterator.PartitionResponse) {
	key := Key(window)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached window or computes and stores it. Cache
// failures are logged and fall through to compute.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	window string,
	computeFn func() (*iterator.PartitionResponse, error),
) (*iterator.PartitionResponse, bool, error) {
	if resp, ok := c.Get(ctx, window); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(Key(window), func() (any, error) {
		if resp, ok := c.Get(ctx, window); ok {
			return resp, nil
		}
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, window, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*iterator.PartitionResponse), false, nil
}

// Invalidate drops every cached window. The indexer asks for it whenever a
// generation becomes searchable.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// HandleInvalidate consumes the indexer's flush notices: reload picks up
// the new generation, then every cached window is dropped. Windows cached
// between the two may hold results without the new generation, so the
// reload comes first.
func HandleInvalidate(c *QueryCache, reload func() int) kafka.MessageHandler {
	return kafka.JSONHandler("query-cache", func(ctx context.Context, _ string, event indexer.FlushEvent) error {
		loaded := 0
		if reload != nil {
			loaded = reload()
		}
		if _, err := c.Invalidate(ctx); err != nil {
			return err
		}
		c.logger.Info("cache invalidated by flush",
			"index_name", event.IndexName,
			"generation", event.Generation,
			"generations_loaded", loaded,
		)
		return nil
	})
}
