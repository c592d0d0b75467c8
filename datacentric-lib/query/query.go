// Package query implements the lazy, composable query object built on top
// of the record resolver's final-constraints step: where/orderBy/skip/take
// and the three terminal operations.
package query

import (
	"context"

	"github.com/4degrees/datacentric-lib/collcache"
	"github.com/4degrees/datacentric-lib/dcerrors"
	"github.com/4degrees/datacentric-lib/dsresolver"
	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/recresolver"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
)

// Predicate filters a decoded record; queries apply it client-side, after
// the backend's coarser Filter has already narrowed the candidate set by
// lookup-list membership and cutoff.
type Predicate[R any] func(*R) bool

// Query is a lazy, composable query over record root R bound to an
// initial dataset. Nothing touches the backend until a terminal operation
// runs.
type Query[R any, P schema.RecordPtr[R]] struct {
	colls    *collcache.Cache
	datasets *dsresolver.Resolver
	root     string
	from     tid.TID
	preds    []Predicate[R]
	order    []kvport.SortField
	skip     int
	take     int // 0 means unlimited
}

// New builds a Query over root bound to from. root is the record root's
// collection name (P(new(R)).Root()).
func New[R any, P schema.RecordPtr[R]](colls *collcache.Cache, datasets *dsresolver.Resolver, from tid.TID) *Query[R, P] {
	root := P(new(R)).Root()
	return &Query[R, P]{colls: colls, datasets: datasets, root: root, from: from}
}

// Where appends a client-side predicate. Queries may chain any number of
// Where calls; a record must satisfy all of them.
func (q *Query[R, P]) Where(pred Predicate[R]) *Query[R, P] {
	next := *q
	next.preds = append(append([]Predicate[R]{}, q.preds...), pred)
	return &next
}

// OrderBy appends one ordering key. field must be one of kvport.FieldKey,
// kvport.FieldDataSet or kvport.FieldID; dir is +1 ascending, -1
// descending. Calling OrderBy at all replaces the default
// (dataSet DESC, id DESC) terminal ordering.
func (q *Query[R, P]) OrderBy(field string, dir int) *Query[R, P] {
	next := *q
	next.order = append(append([]kvport.SortField{}, q.order...), kvport.SortField{Field: field, Dir: dir})
	return &next
}

// Skip sets the number of matching records to discard from the front of
// the ordered result before Take applies.
func (q *Query[R, P]) Skip(n int) *Query[R, P] {
	next := *q
	next.skip = n
	return &next
}

// Take bounds the number of records a terminal operation returns, 0
// meaning unlimited.
func (q *Query[R, P]) Take(n int) *Query[R, P] {
	next := *q
	next.take = n
	return &next
}

// ToSequence runs the query and materializes every matching logical
// record: at most one version per key, the same winner
// recresolver.LoadByKey would pick for that key (highest priority by
// (dataSet DESC, id DESC), tombstoned meaning hidden rather than
// falling through to an older version) -- never a raw multi-version
// scan. Winner selection always happens in that fixed priority order
// regardless of OrderBy, since OrderBy governs only how the deduplicated
// results are finally presented, not which version of a key is "the"
// record.
func (q *Query[R, P]) ToSequence(ctx context.Context) ([]P, error) {
	filter, err := recresolver.FinalConstraints(ctx, q.datasets, q.from)
	if err != nil {
		return nil, err
	}
	coll, err := q.colls.Get(ctx, q.root, nil)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, filter, nil, 0)
	if err != nil {
		return nil, dcerrors.WrapBackend(err, "query: find")
	}
	defer cur.Close()

	seen := make(map[string]bool)
	var winners []*schema.Envelope
	for {
		env, err := cur.Next(ctx)
		if err != nil {
			return nil, dcerrors.WrapBackend(err, "query: iterate")
		}
		if env == nil {
			break
		}
		if seen[env.Key] {
			continue
		}
		seen[env.Key] = true
		if env.IsTombstone() {
			continue
		}
		winners = append(winners, env)
	}
	kvport.SortEnvelopes(winners, q.order)

	var out []P
	skipped := 0
	for _, env := range winners {
		rec, err := schema.DecodeRecord[R, P](env)
		if err != nil {
			return nil, &dcerrors.TypeMismatch{Key: env.Key, Wanted: q.root, Stored: env.Variant, Context: "query"}
		}
		if init, ok := any(rec).(schema.Initializable); ok {
			init.Init()
		}
		matched := true
		for _, pred := range q.preds {
			if !pred(rec) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if skipped < q.skip {
			skipped++
			continue
		}
		out = append(out, rec)
		if q.take > 0 && len(out) >= q.take {
			break
		}
	}
	return out, nil
}

// FirstOrNone returns the first matching record, or (nil, nil) if none
// matches.
func (q *Query[R, P]) FirstOrNone(ctx context.Context) (P, error) {
	var zero P
	results, err := q.Take(1).ToSequence(ctx)
	if err != nil {
		return zero, err
	}
	if len(results) == 0 {
		return zero, nil
	}
	return results[0], nil
}

// Count returns the number of matching records, reading and discarding
// every one of them (the backend port has no native count operation).
func (q *Query[R, P]) Count(ctx context.Context) (int, error) {
	results, err := q.ToSequence(ctx)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}
