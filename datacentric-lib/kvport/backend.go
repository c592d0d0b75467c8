// Package kvport is the narrow port the core speaks to a backing document
// database through. Naming follows the convention used by
// erigon-lib's own kv interface:
//
//	Get:    exact match on a criterion.
//	Find:   a filtered, sortable, limitable read.
//	Root:   the record-root collection name ("table"/"bucket").
//
// No component outside this package and its two reference implementations
// (memkv, boltkv) may depend on a concrete backend; the resolver, writer
// and query packages only ever hold a Backend.
package kvport

import (
	"context"

	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
)

// SortField is one field of a sort specification, in the order it should
// be applied. Dir is +1 for ascending, -1 for descending.
type SortField struct {
	Field string
	Dir   int
}

// Sort field names understood by every backend. The core never sorts on
// anything else.
const (
	FieldKey     = "key"
	FieldDataSet = "dataSet"
	FieldID      = "id"
)

// Filter restricts a Find to the predicates the core ever issues:
// equality on id, equality on key, membership on dataSet, and a
// less-than bound on id. A zero-value field means "no constraint on this
// axis". Backends are not required to support any other shape of filter.
type Filter struct {
	ID        *tid.TID  // equality
	Key       *string   // equality
	DataSetIn []tid.TID // membership; nil/empty means unconstrained
	IDLessTB  *tid.TID  // id < IDLessTB, applies to every candidate

	// ImportsLessTB, when set, additionally bounds id < ImportsLessTB for
	// every candidate whose DataSet is not SelfDataSet -- it freezes the
	// visible state of datasets reached through imports as of the
	// resolving dataset's importsCutoffTime, without touching the
	// resolving dataset's own records.
	ImportsLessTB *tid.TID
	SelfDataSet   tid.TID
}

// IndexSpec declares a backend index: an ordered list of (field, ±1)
// pairs plus a stable name. CreateIndex is expected to be idempotent.
type IndexSpec struct {
	Name   string
	Fields []SortField
}

// KeyDataSetIDIndex is the one index every record-root collection is
// required to carry: (key ASC, dataSet DESC, id DESC).
var KeyDataSetIDIndex = IndexSpec{
	Name: "Key-DataSet-Id",
	Fields: []SortField{
		{Field: FieldKey, Dir: 1},
		{Field: FieldDataSet, Dir: -1},
		{Field: FieldID, Dir: -1},
	},
}

// Cursor streams Envelopes from a Find call. Callers must call Close once
// done, including on early return.
type Cursor interface {
	Next(ctx context.Context) (*schema.Envelope, error) // returns nil, nil at end of stream
	Close() error
}

// Collection is a single record-root's backend handle.
type Collection interface {
	// InsertOne fails if id collides with an existing document.
	InsertOne(ctx context.Context, env *schema.Envelope) error
	// InsertMany is a single backend call; ordering across the batch is
	// preserved (it is the caller's job to have already minted
	// strictly-increasing TIDs in the order given).
	InsertMany(ctx context.Context, envs []*schema.Envelope) error
	// UpsertNonTemporal replaces the current document for (key, dataSet)
	// as a unit, used only by nonTemporal datasets.
	UpsertNonTemporal(ctx context.Context, env *schema.Envelope) error
	// Find returns a cursor over documents matching filter, ordered by
	// sort, limited to limit results (0 meaning unlimited).
	Find(ctx context.Context, filter Filter, sort []SortField, limit int) (Cursor, error)
	// CreateIndex is idempotent.
	CreateIndex(ctx context.Context, spec IndexSpec) error
}

// Backend opens Collections by record-root name and can drop the whole
// database.
type Backend interface {
	GetCollection(ctx context.Context, root string) (Collection, error)
	// DropDatabase is irrecoverable.
	DropDatabase(ctx context.Context) error
}
