// Package recresolver resolves a single record by id or by key across a
// dataset's lookup list, applying tombstone and cutoff rules. It never
// touches the dataset-detail cache directly; every cutoff question is
// asked of a dsresolver.Resolver.
package recresolver

import (
	"context"

	"github.com/4degrees/datacentric-lib/collcache"
	"github.com/4degrees/datacentric-lib/dcerrors"
	"github.com/4degrees/datacentric-lib/dsresolver"
	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
)

// Resolver loads typed records by id or key, joining a dataset's lookup
// list against the backend collection for the requested record root.
type Resolver struct {
	colls        *collcache.Cache
	datasets     *dsresolver.Resolver
	globalCutoff func() *tid.TID
}

// New builds a Resolver. globalCutoff, when non-nil, is consulted to skip
// a backend round trip on load-by-id when the id is known to be cut off
// before the read even happens.
func New(colls *collcache.Cache, datasets *dsresolver.Resolver, globalCutoff func() *tid.TID) *Resolver {
	return &Resolver{colls: colls, datasets: datasets, globalCutoff: globalCutoff}
}

func (r *Resolver) snapshotGlobalCutoff() *tid.TID {
	if r.globalCutoff == nil {
		return nil
	}
	return r.globalCutoff()
}

// LoadByID returns the record with the given id downcast to R, or (nil,
// nil) if it does not exist, is a tombstone, or is hidden by a cutoff. A
// stored variant that does not match R's is always an error, never an
// absent result.
func LoadByID[R any, P schema.RecordPtr[R]](ctx context.Context, r *Resolver, root string, id tid.TID) (P, error) {
	var zero P
	if c := r.snapshotGlobalCutoff(); c != nil && id.Compare(*c) >= 0 {
		return zero, nil
	}

	coll, err := r.colls.Get(ctx, root, nil)
	if err != nil {
		return zero, err
	}
	cur, err := coll.Find(ctx, kvport.Filter{ID: &id}, nil, 0)
	if err != nil {
		return zero, dcerrors.WrapBackend(err, "recresolver: find by id")
	}
	defer cur.Close()
	env, err := cur.Next(ctx)
	if err != nil {
		return zero, dcerrors.WrapBackend(err, "recresolver: iterate find by id")
	}
	if env == nil || env.IsTombstone() {
		return zero, nil
	}

	cutoff, err := r.datasets.CutoffFor(ctx, env.DataSet)
	if err != nil {
		return zero, err
	}
	if cutoff != nil && env.ID.Compare(*cutoff) >= 0 {
		return zero, nil
	}

	rec, err := schema.DecodeRecord[R, P](env)
	if err != nil {
		return zero, &dcerrors.TypeMismatch{Key: env.Key, Wanted: P(new(R)).Variant(), Stored: env.Variant, Context: "load-by-id"}
	}
	if init, ok := any(rec).(schema.Initializable); ok {
		init.Init()
	}
	return rec, nil
}

// LoadByKey encodes key, applies the final-constraints step (lookup-list
// membership plus cutoff) against dataSet's lookup list, and returns the
// winning record: the candidate sorted first by (dataSet DESC, id DESC),
// downcast to R. If that highest-priority candidate is a tombstone, the
// key is hidden entirely -- a delete is never transparent to an older
// version underneath it, in this dataset or one it imports.
func LoadByKey[R any, P schema.RecordPtr[R]](ctx context.Context, r *Resolver, root string, key schema.Key, dataSet tid.TID) (P, error) {
	var zero P
	filter, err := FinalConstraints(ctx, r.datasets, dataSet)
	if err != nil {
		return zero, err
	}
	encoded := schema.EncodeKey(key)
	filter.Key = &encoded

	coll, err := r.colls.Get(ctx, root, nil)
	if err != nil {
		return zero, err
	}
	cur, err := coll.Find(ctx, filter, nil, 0)
	if err != nil {
		return zero, dcerrors.WrapBackend(err, "recresolver: find by key")
	}
	defer cur.Close()

	return decodeWinner[R, P](ctx, cur)
}

// decodeWinner decodes the first envelope cur yields (the highest
// priority one, by the caller's sort) or returns (nil, nil) if there is
// none or it is a tombstone.
func decodeWinner[R any, P schema.RecordPtr[R]](ctx context.Context, cur kvport.Cursor) (P, error) {
	var zero P
	env, err := cur.Next(ctx)
	if err != nil {
		return zero, dcerrors.WrapBackend(err, "recresolver: iterate find by key")
	}
	if env == nil || env.IsTombstone() {
		return zero, nil
	}
	rec, err := schema.DecodeRecord[R, P](env)
	if err != nil {
		return zero, &dcerrors.TypeMismatch{Key: env.Key, Wanted: P(new(R)).Variant(), Stored: env.Variant, Context: "load-by-key"}
	}
	if init, ok := any(rec).(schema.Initializable); ok {
		init.Init()
	}
	return rec, nil
}

// FinalConstraints builds the filter every query and
// load-by-key call applies before ordering: dataSet membership in
// dataSet's lookup list, an id<cutoff bound on dataSet's own records when
// its cutoffTime is set, and a separate id<importsCutoff bound on every
// other dataset in the list (records reached through imports) when
// dataSet's importsCutoffTime is set -- the two bounds are independent,
// since cutoffTime freezes dataSet's own history while importsCutoffTime
// freezes the state of what it imports. The caller is responsible for
// sorting results by (dataSet DESC, id DESC); backends that cannot push
// sort down still get correct results since kvport.SortEnvelopes defaults
// to exactly that order.
func FinalConstraints(ctx context.Context, resolver *dsresolver.Resolver, dataSet tid.TID) (kvport.Filter, error) {
	list, err := resolver.GetLookupList(ctx, dataSet)
	if err != nil {
		return kvport.Filter{}, err
	}
	filter := kvport.Filter{DataSetIn: list, SelfDataSet: dataSet}
	cutoff, err := resolver.CutoffFor(ctx, dataSet)
	if err != nil {
		return kvport.Filter{}, err
	}
	if cutoff != nil {
		filter.IDLessTB = cutoff
	}
	importsCutoff, err := resolver.ImportsCutoffFor(ctx, dataSet)
	if err != nil {
		return kvport.Filter{}, err
	}
	if importsCutoff != nil {
		filter.ImportsLessTB = importsCutoff
	}
	return filter, nil
}
