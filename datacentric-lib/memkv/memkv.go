// Package memkv is a pure in-memory reference implementation of
// kvport.Backend, ordered with google/btree the way erigon-lib orders
// its own in-memory indices. It exists
// so the core's unit and property tests run fast and deterministic, with
// no file I/O; see boltkv for a durable backend over the same port.
package memkv

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
)

// DuplicateKeyError is returned by InsertOne/InsertMany when an id already
// exists in the collection; it satisfies dcerrors.DuplicateKeyError so the
// dataset resolver can special-case the benign detail-record creation
// race during concurrent dataset-detail creation.
type DuplicateKeyError struct {
	ID tid.TID
}

func (e *DuplicateKeyError) Error() string     { return fmt.Sprintf("memkv: duplicate id %s", e.ID) }
func (e *DuplicateKeyError) DuplicateKey() bool { return true }

// Backend is an in-memory kvport.Backend; the zero value is not usable,
// use New.
type Backend struct {
	mu    sync.Mutex
	colls map[string]*collection
}

// New returns an empty in-memory Backend.
func New() *Backend {
	return &Backend{colls: make(map[string]*collection)}
}

func (b *Backend) GetCollection(_ context.Context, root string) (kvport.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.colls[root]
	if !ok {
		c = newCollection()
		b.colls[root] = c
	}
	return c, nil
}

func (b *Backend) DropDatabase(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.colls = make(map[string]*collection)
	return nil
}

type indexItem struct {
	key     string
	dataSet tid.TID
	id      tid.TID
}

func lessKeyDataSetDescIDDesc(a, b indexItem) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	if a.dataSet != b.dataSet {
		return a.dataSet.Compare(b.dataSet) > 0 // DESC
	}
	return a.id.Compare(b.id) > 0 // DESC
}

// firstForKey is the smallest possible indexItem for key under
// lessKeyDataSetDescIDDesc: with dataSet and id both descending, that is
// the item carrying the largest dataSet and id.
func firstForKey(key string) indexItem {
	var hi tid.TID
	for i := range hi {
		hi[i] = 0xff
	}
	return indexItem{key: key, dataSet: hi, id: hi}
}

type collection struct {
	mu      sync.RWMutex
	byID    map[tid.TID]*schema.Envelope
	index   *btree.BTreeG[indexItem]
	indexes []kvport.IndexSpec
}

func newCollection() *collection {
	return &collection{
		byID:  make(map[tid.TID]*schema.Envelope),
		index: btree.NewG(32, lessKeyDataSetDescIDDesc),
	}
}

func (c *collection) InsertOne(_ context.Context, env *schema.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(env)
}

func (c *collection) InsertMany(_ context.Context, envs []*schema.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range envs {
		if err := c.insertLocked(env); err != nil {
			return err
		}
	}
	return nil
}

func (c *collection) insertLocked(env *schema.Envelope) error {
	if _, exists := c.byID[env.ID]; exists {
		return &DuplicateKeyError{ID: env.ID}
	}
	c.byID[env.ID] = env
	c.index.ReplaceOrInsert(indexItem{key: env.Key, dataSet: env.DataSet, id: env.ID})
	return nil
}

func (c *collection) UpsertNonTemporal(_ context.Context, env *schema.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []indexItem
	c.index.AscendGreaterOrEqual(firstForKey(env.Key), func(it indexItem) bool {
		if it.key != env.Key {
			return false
		}
		if it.dataSet == env.DataSet {
			stale = append(stale, it)
		}
		return true
	})
	for _, it := range stale {
		c.index.Delete(it)
		delete(c.byID, it.id)
	}
	c.byID[env.ID] = env
	c.index.ReplaceOrInsert(indexItem{key: env.Key, dataSet: env.DataSet, id: env.ID})
	return nil
}

func (c *collection) CreateIndex(_ context.Context, spec kvport.IndexSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.indexes {
		if existing.Name == spec.Name {
			return nil // idempotent
		}
	}
	c.indexes = append(c.indexes, spec)
	return nil
}

func (c *collection) Find(_ context.Context, filter kvport.Filter, sortSpec []kvport.SortField, limit int) (kvport.Cursor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []*schema.Envelope
	if filter.ID != nil {
		if env, ok := c.byID[*filter.ID]; ok && kvport.Matches(env, filter) {
			matched = append(matched, env)
		}
	} else if filter.Key != nil {
		c.index.AscendGreaterOrEqual(firstForKey(*filter.Key), func(it indexItem) bool {
			if it.key != *filter.Key {
				return false
			}
			if env, ok := c.byID[it.id]; ok && kvport.Matches(env, filter) {
				matched = append(matched, env)
			}
			return true
		})
	} else {
		for _, env := range c.byID {
			if kvport.Matches(env, filter) {
				matched = append(matched, env)
			}
		}
	}

	kvport.SortEnvelopes(matched, sortSpec)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return &memCursor{envs: matched}, nil
}

// memCursor streams a pre-materialized slice; memkv has no need to stream
// lazily from disk, but still returns a Cursor so callers (the resolver,
// the query package) are written only against kvport.Cursor.
type memCursor struct {
	envs []*schema.Envelope
	pos  int
}

func (m *memCursor) Next(_ context.Context) (*schema.Envelope, error) {
	if m.pos >= len(m.envs) {
		return nil, nil
	}
	e := m.envs[m.pos]
	m.pos++
	return e, nil
}

func (m *memCursor) Close() error { return nil }


