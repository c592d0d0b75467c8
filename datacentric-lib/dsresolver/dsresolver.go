// Package dsresolver expands a dataset's lookup list and answers the
// cutoff questions everything else in the core depends on. It is the only
// component that reads the dataset-detail cache; the facade owns cache
// lifetime (Clear), the resolver owns cache population.
package dsresolver

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/4degrees/datacentric-lib/collcache"
	"github.com/4degrees/datacentric-lib/dcerrors"
	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
)

const cacheSize = 4096

type datasetKey struct {
	name   string
	parent tid.TID
}

// Resolver implements dataset resolution: name+parent to TID, lookup-list
// expansion with cutoff propagation, and dataset-detail lookup. It is
// exercised through a collcache.Cache rather than a raw kvport.Backend, so
// its two record-root collections (DataSet, DataSetDetail) share the same
// lazy-open/index-create path as every other root.
type Resolver struct {
	colls *collcache.Cache
	alloc *tid.Allocator

	globalCutoffMu sync.RWMutex
	globalCutoff   *tid.TID

	// idCache, parentCache, detailCache and lookupCache are each safe for
	// concurrent use on their own (hashicorp/golang-lru/v2 guards every
	// method with its own lock); no additional locking is layered on top.
	idCache     *lru.Cache[datasetKey, tid.TID]
	parentCache *lru.Cache[tid.TID, tid.TID]
	detailCache *lru.Cache[tid.TID, *schema.DataSetDetail]
	lookupCache *lru.Cache[tid.TID, []tid.TID]
}

// New builds a Resolver over colls, minting dataset-detail auto-creation
// TIDs from alloc.
func New(colls *collcache.Cache, alloc *tid.Allocator) (*Resolver, error) {
	idCache, err := lru.New[datasetKey, tid.TID](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dsresolver: new id cache: %w", err)
	}
	parentCache, err := lru.New[tid.TID, tid.TID](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dsresolver: new parent cache: %w", err)
	}
	detailCache, err := lru.New[tid.TID, *schema.DataSetDetail](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dsresolver: new detail cache: %w", err)
	}
	lookupCache, err := lru.New[tid.TID, []tid.TID](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dsresolver: new lookup cache: %w", err)
	}
	// The root dataset's lookup list never changes and is cheap to seed
	// up front, sparing every traversal a round trip for the common case
	// of resolving directly against root.
	lookupCache.Add(tid.Empty, []tid.TID{tid.Empty})
	return &Resolver{
		colls:       colls,
		alloc:       alloc,
		idCache:     idCache,
		parentCache: parentCache,
		detailCache: detailCache,
		lookupCache: lookupCache,
	}, nil
}

// SetGlobalCutoff sets (or clears, with nil) the data-source-wide cutoff
// consulted by CutoffFor. Memoized lookup lists are dropped, since their
// expansion pruned datasets against the previous cutoff.
func (r *Resolver) SetGlobalCutoff(c *tid.TID) {
	r.globalCutoffMu.Lock()
	defer r.globalCutoffMu.Unlock()
	r.globalCutoff = c
	r.lookupCache.Purge()
	r.lookupCache.Add(tid.Empty, []tid.TID{tid.Empty})
}

func (r *Resolver) globalCutoffSnapshot() *tid.TID {
	r.globalCutoffMu.RLock()
	defer r.globalCutoffMu.RUnlock()
	return r.globalCutoff
}

// GlobalCutoff returns the current data-source-wide cutoff, or nil.
func (r *Resolver) GlobalCutoff() *tid.TID { return r.globalCutoffSnapshot() }

// ParentOf returns the cached parent dataset TID for dataSet, and whether
// an entry was found. Entries exist only for datasets already resolved
// through GetDataSetOrNull or GetDataSetDetailOrNull.
func (r *Resolver) ParentOf(dataSet tid.TID) (tid.TID, bool) {
	return r.parentCache.Get(dataSet)
}

// ClearCache drops every cache this resolver owns. Only correctness of
// subsequent *latency* is affected; results remain correct either way.
func (r *Resolver) ClearCache() {
	r.idCache.Purge()
	r.parentCache.Purge()
	r.detailCache.Purge()
	r.lookupCache.Purge()
	r.lookupCache.Add(tid.Empty, []tid.TID{tid.Empty})
}

func (r *Resolver) dataSetColl(ctx context.Context) (kvport.Collection, error) {
	return r.colls.Get(ctx, "DataSet", nil)
}

func (r *Resolver) detailColl(ctx context.Context) (kvport.Collection, error) {
	return r.colls.Get(ctx, "DataSetDetail", nil)
}

// loadDataSetByKey fetches the latest, non-tombstone DataSet record for
// name within parent's lookup list, highest (dataSet, id) first.
func (r *Resolver) loadDataSetByKey(ctx context.Context, name string, parent tid.TID) (*schema.DataSet, error) {
	coll, err := r.dataSetColl(ctx)
	if err != nil {
		return nil, err
	}
	lookup, err := r.GetLookupList(ctx, parent)
	if err != nil {
		return nil, err
	}
	key := schema.EncodeKey(schema.SimpleKey{name})
	cur, err := coll.Find(ctx, kvport.Filter{Key: &key, DataSetIn: lookup}, nil, 0)
	if err != nil {
		return nil, dcerrors.WrapBackend(err, "dsresolver: find dataset by key")
	}
	defer cur.Close()

	for {
		env, err := cur.Next(ctx)
		if err != nil {
			return nil, dcerrors.WrapBackend(err, "dsresolver: iterate dataset find")
		}
		if env == nil {
			return nil, nil
		}
		if env.IsTombstone() {
			continue
		}
		ds, err := schema.DecodeRecord[schema.DataSet, *schema.DataSet](env)
		if err != nil {
			return nil, err
		}
		return ds, nil
	}
}

// GetDataSetOrNull resolves name within parent's lookup list, caching
// name->id, id->parent and the computed lookup list on first resolution,
// and materializing a dataset-detail record for the dataset if one does
// not already exist.
func (r *Resolver) GetDataSetOrNull(ctx context.Context, name string, parent tid.TID) (*tid.TID, error) {
	key := datasetKey{name: name, parent: parent}
	if id, ok := r.idCache.Get(key); ok {
		return &id, nil
	}

	ds, err := r.loadDataSetByKey(ctx, name, parent)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, nil
	}

	id := ds.ID
	r.idCache.Add(key, id)
	r.parentCache.Add(id, ds.DataSet)
	if _, err := r.ensureDetail(ctx, id, ds.DataSet); err != nil {
		return nil, err
	}
	if _, err := r.GetLookupList(ctx, id); err != nil {
		return nil, err
	}
	return &id, nil
}

// ensureDetail inserts an empty dataset-detail record for dataSet into
// parent if one is not already present, tolerating the benign race where
// a concurrent caller wins the insert first.
func (r *Resolver) ensureDetail(ctx context.Context, dataSet, parent tid.TID) (*schema.DataSetDetail, error) {
	existing, err := r.loadDetailFromBackend(ctx, dataSet, parent)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		r.detailCache.Add(dataSet, existing)
		return existing, nil
	}

	detailID := r.alloc.New()
	detail := &schema.DataSetDetail{
		Header:           schema.Header{ID: detailID, DataSet: parent, KeyString: dataSet.String()},
		DescribedDataSet: dataSet,
	}
	env, err := schema.ToEnvelope(detail)
	if err != nil {
		return nil, err
	}
	coll, err := r.detailColl(ctx)
	if err != nil {
		return nil, err
	}
	if err := coll.InsertOne(ctx, env); err != nil {
		if dcerrors.IsDuplicateKey(err) {
			// A concurrent caller created it first; re-read and use theirs.
			winner, err := r.loadDetailFromBackend(ctx, dataSet, parent)
			if err != nil {
				return nil, err
			}
			r.detailCache.Add(dataSet, winner)
			return winner, nil
		}
		return nil, dcerrors.WrapBackend(err, "dsresolver: insert dataset-detail")
	}
	r.detailCache.Add(dataSet, detail)
	return detail, nil
}

func (r *Resolver) loadDetailFromBackend(ctx context.Context, dataSet, parent tid.TID) (*schema.DataSetDetail, error) {
	coll, err := r.detailColl(ctx)
	if err != nil {
		return nil, err
	}
	key := dataSet.String()
	cur, err := coll.Find(ctx, kvport.Filter{Key: &key, DataSetIn: []tid.TID{parent}}, []kvport.SortField{{Field: kvport.FieldID, Dir: -1}}, 0)
	if err != nil {
		return nil, dcerrors.WrapBackend(err, "dsresolver: find dataset-detail")
	}
	defer cur.Close()
	for {
		env, err := cur.Next(ctx)
		if err != nil {
			return nil, dcerrors.WrapBackend(err, "dsresolver: iterate dataset-detail find")
		}
		if env == nil {
			return nil, nil
		}
		if env.IsTombstone() {
			continue
		}
		return schema.DecodeRecord[schema.DataSetDetail, *schema.DataSetDetail](env)
	}
}

// GetDataSetDetailOrNull returns the cached (or freshly loaded) detail
// record for dataSet. Root has no detail and always returns nil. The
// parent the detail is stored in comes from the parent cache; on a miss
// the dataset record is loaded by id and its parent cached.
func (r *Resolver) GetDataSetDetailOrNull(ctx context.Context, dataSet tid.TID) (*schema.DataSetDetail, error) {
	if dataSet.IsEmpty() {
		return nil, nil
	}
	if d, ok := r.detailCache.Get(dataSet); ok {
		return d, nil
	}
	parent, ok := r.parentCache.Get(dataSet)
	if !ok {
		ds, err := r.loadDataSetByID(ctx, dataSet)
		if err != nil {
			return nil, err
		}
		parent = ds.DataSet
		r.parentCache.Add(dataSet, parent)
	}
	detail, err := r.loadDetailFromBackend(ctx, dataSet, parent)
	if err != nil {
		return nil, err
	}
	r.detailCache.Add(dataSet, detail) // cached even when nil
	return detail, nil
}

// CutoffFor returns the effective cutoff for dataSet: the minimum of the
// data-source-wide cutoff and the dataset-detail cutoff, or nil if
// neither is set.
func (r *Resolver) CutoffFor(ctx context.Context, dataSet tid.TID) (*tid.TID, error) {
	detail, err := r.GetDataSetDetailOrNull(ctx, dataSet)
	if err != nil {
		return nil, err
	}
	var detailCutoff *tid.TID
	if detail != nil {
		detailCutoff = detail.CutoffTime
	}
	return tid.MinOrNil(r.globalCutoffSnapshot(), detailCutoff), nil
}

// ImportsCutoffFor returns the dataset-detail's importsCutoffTime, with no
// data-source-wide counterpart.
func (r *Resolver) ImportsCutoffFor(ctx context.Context, dataSet tid.TID) (*tid.TID, error) {
	detail, err := r.GetDataSetDetailOrNull(ctx, dataSet)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, nil
	}
	return detail.ImportsCutoffTime, nil
}

// loadDataSetByID fetches a dataset record directly by its own TID,
// bypassing the name index; used only by lookup-list expansion, which
// already knows the exact TID to walk from an import list.
func (r *Resolver) loadDataSetByID(ctx context.Context, id tid.TID) (*schema.DataSet, error) {
	coll, err := r.dataSetColl(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, kvport.Filter{ID: &id}, nil, 0)
	if err != nil {
		return nil, dcerrors.WrapBackend(err, "dsresolver: find dataset by id")
	}
	defer cur.Close()
	env, err := cur.Next(ctx)
	if err != nil {
		return nil, dcerrors.WrapBackend(err, "dsresolver: iterate dataset by id")
	}
	if env == nil || env.IsTombstone() {
		return nil, &dcerrors.IntegrityViolation{Reason: fmt.Sprintf("dataset %s referenced but not found in storage", id)}
	}
	return schema.DecodeRecord[schema.DataSet, *schema.DataSet](env)
}

// GetLookupList returns the ordered list of dataset TIDs to consult when
// resolving within dataSet: most specific first, root last. The result is
// memoized by dataSet TID.
func (r *Resolver) GetLookupList(ctx context.Context, dataSet tid.TID) ([]tid.TID, error) {
	if list, ok := r.lookupCache.Get(dataSet); ok {
		return list, nil
	}

	var list []tid.TID
	visited := make(map[tid.TID]bool)
	var walk func(d tid.TID, self bool) error
	walk = func(d tid.TID, self bool) error {
		if visited[d] {
			return nil
		}
		visited[d] = true

		if d.IsEmpty() {
			list = append(list, tid.Empty)
			return nil
		}

		ds, err := r.loadDataSetByID(ctx, d)
		if err != nil {
			return err
		}
		if !ds.DataSet.IsEmpty() {
			return &dcerrors.IntegrityViolation{Reason: fmt.Sprintf("dataset %s is not a root-level dataset", d)}
		}

		cutoff, err := r.CutoffFor(ctx, ds.DataSet)
		if err != nil {
			return err
		}
		if cutoff != nil && d.Compare(*cutoff) >= 0 {
			return nil
		}

		list = append(list, d)
		for _, imp := range ds.Imports {
			if imp == d {
				return &dcerrors.IntegrityViolation{Reason: fmt.Sprintf("dataset %s imports itself", d)}
			}
			if err := walk(imp, false); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(dataSet, true); err != nil {
		return nil, err
	}
	if !visited[tid.Empty] {
		list = append(list, tid.Empty)
	}
	r.lookupCache.Add(dataSet, list)
	return list, nil
}
