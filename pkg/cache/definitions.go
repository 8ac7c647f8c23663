// Package cache holds the engine's only shared mutable state: a TTL-bound,
// read-through snapshot of the attribute definition table.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/autoparts/compat-engine/pkg/criteria"
	"github.com/autoparts/compat-engine/pkg/metrics"
	"github.com/autoparts/compat-engine/pkg/store"
)

// DefinitionSource loads the full definition table in id order.
type DefinitionSource interface {
	AttributeDefinitions(ctx context.Context) ([]store.AttributeDefinition, error)
}

// snapshot is immutable once published.
type snapshot struct {
	defs     map[int64]criteria.Definition
	loadedAt time.Time
}

// DefinitionCache serves attribute definitions from an immutable snapshot.
// A stale or missing snapshot is reloaded by the first reader; concurrent
// readers share that load. Refresh swaps the snapshot pointer, so readers
// holding the previous map keep a consistent view.
type DefinitionCache struct {
	src    DefinitionSource
	cfg    CacheConfig
	logger *slog.Logger

	snap  atomic.Pointer[snapshot]
	group singleflight.Group
	now   func() time.Time
}

// NewDefinitionCache creates an empty cache over src. A nil cfg selects
// DefaultCacheConfig.
func NewDefinitionCache(src DefinitionSource, cfg *CacheConfig, logger *slog.Logger) *DefinitionCache {
	if cfg == nil {
		cfg = DefaultCacheConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DefinitionCache{
		src:    src,
		cfg:    *cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Definitions returns the current definition map, loading it if the
// snapshot is missing or expired. The returned map is shared and must not be
// modified. A failed refresh returns the error; stale data is never served
// in its place.
func (c *DefinitionCache) Definitions(ctx context.Context) (map[int64]criteria.Definition, error) {
	if s := c.fresh(); s != nil {
		return s.defs, nil
	}

	ch := c.group.DoChan("definitions", func() (any, error) {
		return c.refresh(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, store.Classify(ctx, "cache.definitions", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot).defs, nil
	}
}

// Warm reports whether a snapshot has been loaded at least once.
func (c *DefinitionCache) Warm() bool {
	return c.snap.Load() != nil
}

// Size returns the number of definitions in the current snapshot.
func (c *DefinitionCache) Size() int {
	s := c.snap.Load()
	if s == nil {
		return 0
	}
	return len(s.defs)
}

// Invalidate drops the snapshot; the next read reloads it.
func (c *DefinitionCache) Invalidate() {
	c.snap.Store(nil)
}

func (c *DefinitionCache) fresh() *snapshot {
	s := c.snap.Load()
	if s == nil || c.now().Sub(s.loadedAt) >= c.cfg.DefinitionsTTL {
		return nil
	}
	return s
}

// refresh runs detached from the caller's cancellation so that one
// abandoned request does not fail every reader sharing the flight. It is
// still bounded by LoadTimeout.
func (c *DefinitionCache) refresh(ctx context.Context) (*snapshot, error) {
	if s := c.fresh(); s != nil {
		return s, nil
	}

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LoadTimeout)
	defer cancel()

	start := c.now()
	rows, err := c.src.AttributeDefinitions(loadCtx)
	if err != nil {
		metrics.RecordCacheRefresh("error", 0)
		c.logger.Warn("attribute definition refresh failed", "error", err)
		return nil, err
	}

	if len(rows) > c.cfg.MaxSize {
		c.logger.Warn("attribute definition table exceeds cache size, truncating",
			"rows", len(rows), "max_size", c.cfg.MaxSize, "last_kept_id", rows[c.cfg.MaxSize-1].ID)
		rows = rows[:c.cfg.MaxSize]
	}

	defs := make(map[int64]criteria.Definition, len(rows))
	for _, r := range rows {
		defs[r.ID] = criteria.Definition{
			ID:       r.ID,
			Name:     r.Name,
			Unit:     r.Unit,
			ParentID: r.ParentID,
			Display:  r.Display,
		}
	}

	s := &snapshot{defs: defs, loadedAt: c.now()}
	c.snap.Store(s)
	metrics.RecordCacheRefresh("ok", len(defs))
	c.logger.Debug("attribute definitions refreshed", "entries", len(defs), "duration", c.now().Sub(start))
	return s, nil
}
