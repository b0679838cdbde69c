// Package shard routes index names to their engines and documents to
// partitions. Each index lives in its own IndexData<name> directory under
// the configured data directory and is opened on first use.
package shard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/pkg/config"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

// Router maps index names to indexer.Engine instances.
type Router struct {
	engines map[string]*indexer.Engine
	mu      sync.RWMutex
	baseCfg config.IndexerConfig
	onFlush func(indexer.FlushEvent)
	logger  *slog.Logger
}

// NewRouter creates a router over baseCfg.DataDir and opens the default
// index named by baseCfg.IndexName.
func NewRouter(baseCfg config.IndexerConfig) (*Router, error) {
	r := &Router{
		engines: make(map[string]*indexer.Engine),
		baseCfg: baseCfg,
		logger:  slog.Default().With("component", "shard-router"),
	}
	if _, err := r.Engine(baseCfg.IndexName); err != nil {
		return nil, fmt.Errorf("opening default index: %w", err)
	}
	r.logger.Info("shard router ready",
		"data_dir", baseCfg.DataDir,
		"default_index", baseCfg.IndexName,
		"partition", baseCfg.Partition.Index,
		"partitions", baseCfg.Partition.Count,
	)
	return r, nil
}

// IndexDir is the directory holding the generations of index name.
func IndexDir(dataDir, name string) string {
	return filepath.Join(dataDir, "IndexData"+name)
}

// OnFlush registers fn on every open engine and every engine opened later.
func (r *Router) OnFlush(fn func(indexer.FlushEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFlush = fn
	for _, e := range r.engines {
		e.OnFlush(fn)
	}
}

// Engine returns the engine of index name, opening it if needed. An empty
// name selects the default index.
func (r *Router) Engine(name string) (*indexer.Engine, error) {
	if name == "" {
		name = r.baseCfg.IndexName
	}
	r.mu.RLock()
	e, ok := r.engines[name]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[name]; ok {
		return e, nil
	}
	e, err := indexer.NewEngine(name, IndexDir(r.baseCfg.DataDir, name), r.baseCfg)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", name, err)
	}
	if r.onFlush != nil {
		e.OnFlush(r.onFlush)
	}
	r.engines[name] = e
	r.logger.Info("index opened", "index_name", name, "generations", e.Stats().Generations)
	return e, nil
}

// OpenAll opens every index found under the data directory and returns
// their names.
func (r *Router) OpenAll() ([]string, error) {
	dirs, err := filepath.Glob(filepath.Join(r.baseCfg.DataDir, "IndexData*"))
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	for _, dir := range dirs {
		name := strings.TrimPrefix(filepath.Base(dir), "IndexData")
		if name == "" {
			continue
		}
		if _, err := r.Engine(name); err != nil {
			return nil, err
		}
	}
	return r.Names(), nil
}

// Lookup returns the engine of an already open index.
func (r *Router) Lookup(name string) (*indexer.Engine, error) {
	if name == "" {
		name = r.baseCfg.IndexName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", name, apperrors.ErrIndexNotFound)
	}
	return e, nil
}

// DefaultIndex is the name of the index used when none is given.
func (r *Router) DefaultIndex() string {
	return r.baseCfg.IndexName
}

// Names returns the open index names in order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OwnsDocument reports whether url belongs to this process's partition.
func (r *Router) OwnsDocument(url string) bool {
	p := r.baseCfg.Partition
	if p.Count <= 1 {
		return true
	}
	return hash.Partition(url, p.Count) == p.Index
}

// FlushAll flushes every open engine to disk.
func (r *Router) FlushAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for name, engine := range r.engines {
		if err := engine.Flush(); err != nil {
			r.logger.Error("flush failed", "index_name", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReloadAll tells every engine to pick up generations written by the
// indexer. Returns the total number of generations loaded.
func (r *Router) ReloadAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for name, engine := range r.engines {
		n, err := engine.ReloadGenerations()
		if err != nil {
			r.logger.Error("reload failed", "index_name", name, "error", err)
			continue
		}
		total += n
	}
	return total
}

// StartFlushLoop flushes every open engine each interval until ctx is done,
// then once more. The returned channel is closed after the final flush.
func (r *Router) StartFlushLoop(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("flush loop stopping, performing final flush")
				if err := r.FlushAll(); err != nil {
					r.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if err := r.FlushAll(); err != nil {
					r.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
	return done
}

// StartReloadLoop opens indexes created by the indexer and reloads the
// generations of open ones each interval until ctx is done. onReload is
// called after every round that loaded something.
func (r *Router) StartReloadLoop(ctx context.Context, interval time.Duration, onReload func(loaded int)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.OpenAll(); err != nil {
					r.logger.Error("opening new indexes failed", "error", err)
				}
				if n := r.ReloadAll(); n > 0 && onReload != nil {
					onReload(n)
				}
			}
		}
	}()
}

// Stats reports every open engine.
func (r *Router) Stats() []indexer.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]indexer.Stats, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndexName < out[j].IndexName })
	return out
}

// Close flushes every engine.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, engine := range r.engines {
		if err := engine.Close(); err != nil {
			r.logger.Error("close failed", "index_name", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
