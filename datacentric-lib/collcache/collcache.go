// Package collcache hands out a backend collection handle per record root,
// creating the mandatory Key-DataSet-Id index (and any additional indexes
// declared by the caller) exactly once. Concurrent first-access for the
// same root is collapsed with golang.org/x/sync/singleflight so the index
// creation round-trip happens once, not once per goroutine, the way
// erigon's own table-open paths dedupe concurrent bucket creation.
package collcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/4degrees/datacentric-lib/kvport"
)

// Cache lazily opens and caches kvport.Collection handles by record-root
// name, ensuring indexes exist before the first handle is handed out.
type Cache struct {
	backend kvport.Backend
	handles *lru.Cache[string, kvport.Collection]
	group   singleflight.Group
	extra   map[string][]kvport.IndexSpec
}

// New bounds the cache at size distinct record roots; a typical host
// process has a small, fixed number of record roots, so size can be
// generous without real memory pressure.
func New(backend kvport.Backend, size int) (*Cache, error) {
	handles, err := lru.New[string, kvport.Collection](size)
	if err != nil {
		return nil, fmt.Errorf("collcache: new: %w", err)
	}
	return &Cache{backend: backend, handles: handles}, nil
}

// SetExtra registers the additional-index declarations consulted by Get
// when a caller passes a nil extra argument, keyed by record root --
// the shape dsconfig.Config.ResolveExtraIndexes produces. It only
// affects roots not yet opened; an already-cached handle's indexes were
// already created from whatever extra that first Get call supplied.
func (c *Cache) SetExtra(extra map[string][]kvport.IndexSpec) {
	c.extra = extra
}

// Get returns the collection handle for root, creating it (and its
// indexes) on first access. extra is consulted only on the first access
// for a given root; later calls may pass nil. A nil extra falls back to
// whatever SetExtra declared for root, if anything.
func (c *Cache) Get(ctx context.Context, root string, extra []kvport.IndexSpec) (kvport.Collection, error) {
	if h, ok := c.handles.Get(root); ok {
		return h, nil
	}
	if extra == nil {
		extra = c.extra[root]
	}

	v, err, _ := c.group.Do(root, func() (any, error) {
		if h, ok := c.handles.Get(root); ok {
			return h, nil
		}
		coll, err := c.backend.GetCollection(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("collcache: open collection %s: %w", root, err)
		}
		if err := coll.CreateIndex(ctx, kvport.KeyDataSetIDIndex); err != nil {
			return nil, fmt.Errorf("collcache: create mandatory index on %s: %w", root, err)
		}
		for _, spec := range extra {
			if err := coll.CreateIndex(ctx, spec); err != nil {
				return nil, fmt.Errorf("collcache: create index %s on %s: %w", spec.Name, root, err)
			}
		}
		c.handles.Add(root, coll)
		return coll, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(kvport.Collection), nil
}

// Clear drops every cached handle, forcing the next Get to reopen (and
// re-verify indexes on) every record root. It does not touch the
// underlying backend.
func (c *Cache) Clear() {
	c.handles.Purge()
}
