package catalog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Cache keeps the latest catalog Snapshot in memory. It is invalidated by
// change notifications and reloaded lazily on the next read, so pricing
// always sees the catalog as of the last committed change.
type Cache struct {
	tests    TestRepository
	packages PackageRepository

	mu    sync.Mutex // serializes reloads
	snap  atomic.Pointer[Snapshot]
	stale atomic.Bool
}

// NewCache creates an empty cache; the first Snapshot call loads it.
func NewCache(tests TestRepository, packages PackageRepository) *Cache {
	c := &Cache{tests: tests, packages: packages}
	c.stale.Store(true)
	return c
}

// Snapshot returns the cached snapshot, reloading it first if it was
// invalidated since the last load.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s := c.snap.Load(); s != nil && !c.stale.Load() {
		return s, nil
	}
	return c.Refresh(ctx)
}

// Refresh reloads the snapshot unconditionally.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have reloaded while we waited.
	if s := c.snap.Load(); s != nil && !c.stale.Load() {
		return s, nil
	}

	c.stale.Store(false)
	s, err := LoadSnapshot(ctx, c.tests, c.packages)
	if err != nil {
		c.stale.Store(true)
		return nil, err
	}
	c.snap.Store(s)

	zctx.From(ctx).Debug("Catalog snapshot loaded",
		zap.Int("tests", len(s.Tests())),
		zap.Int("packages", len(s.Packages())),
	)
	return s, nil
}

// Invalidate marks the cached snapshot as stale. It is safe to call from a
// notification listener goroutine.
func (c *Cache) Invalidate() {
	c.stale.Store(true)
}

// Loaded reports whether a snapshot has ever been loaded successfully.
func (c *Cache) Loaded() bool {
	return c.snap.Load() != nil
}
