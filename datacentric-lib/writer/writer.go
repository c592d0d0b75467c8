// Package writer implements every mutating operation the core exposes:
// minting ids, appending records, upserting nonTemporal records, writing
// tombstones and dropping the database. It is the only component that
// calls tid.Allocator.New on the domain write path (dsresolver mints its
// own ids only for dataset-detail auto-creation).
package writer

import (
	"context"
	"fmt"

	"github.com/4degrees/datacentric-lib/collcache"
	"github.com/4degrees/datacentric-lib/dcerrors"
	"github.com/4degrees/datacentric-lib/dsresolver"
	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
)

// Writer appends and tombstones records, enforcing the read-only and
// cutoff rules attached to every write path.
type Writer struct {
	colls       *collcache.Cache
	datasets    *dsresolver.Resolver
	alloc       *tid.Allocator
	backend     kvport.Backend
	readOnly    func() bool
	nonTemporal map[string]bool // record root -> nonTemporal, populated by MarkNonTemporal
}

// New builds a Writer. readOnly reports the data-source-wide read-only
// flag; per-dataset read-only is always re-checked against the dataset
// detail at write time regardless of this flag.
func New(colls *collcache.Cache, datasets *dsresolver.Resolver, alloc *tid.Allocator, backend kvport.Backend, readOnly func() bool) *Writer {
	return &Writer{colls: colls, datasets: datasets, alloc: alloc, backend: backend, readOnly: readOnly, nonTemporal: make(map[string]bool)}
}

// MarkNonTemporal records that root's writes should upsert by (key,
// dataSet) instead of appending. The dataset record's own NonTemporal
// flag is the authority at runtime; this lets a caller short-circuit the
// dataset lookup for a record root it already knows is nonTemporal.
func (w *Writer) MarkNonTemporal(root string) {
	w.nonTemporal[root] = true
}

func (w *Writer) checkWritable(ctx context.Context, into tid.TID) error {
	if w.readOnly != nil && w.readOnly() {
		return &dcerrors.ReadOnly{DataSet: into.String()}
	}
	cutoff, err := w.datasets.CutoffFor(ctx, into)
	if err != nil {
		return err
	}
	if cutoff != nil {
		return &dcerrors.IntegrityViolation{Reason: fmt.Sprintf("dataset %s has an active cutoff; writes are refused", into)}
	}
	detail, err := w.datasets.GetDataSetDetailOrNull(ctx, into)
	if err != nil {
		return err
	}
	if detail != nil && detail.IsReadOnly() {
		return &dcerrors.ReadOnly{DataSet: into.String()}
	}
	return nil
}

// isNonTemporal asks the dataset record itself whether into is
// nonTemporal; it consults the dataset record rather than the
// caller-supplied hint map alone, since the dataset's own flag is
// authoritative.
func (w *Writer) isNonTemporal(ctx context.Context, into tid.TID) (bool, error) {
	if into.IsEmpty() {
		return false, nil
	}
	coll, err := w.colls.Get(ctx, "DataSet", nil)
	if err != nil {
		return false, err
	}
	cur, err := coll.Find(ctx, kvport.Filter{ID: &into}, nil, 0)
	if err != nil {
		return false, dcerrors.WrapBackend(err, "writer: find dataset by id")
	}
	defer cur.Close()
	env, err := cur.Next(ctx)
	if err != nil {
		return false, dcerrors.WrapBackend(err, "writer: iterate dataset by id")
	}
	if env == nil {
		return false, nil
	}
	ds, err := schema.DecodeRecord[schema.DataSet, *schema.DataSet](env)
	if err != nil {
		return false, err
	}
	return ds.NonTemporal, nil
}

// SaveOne mints a TID for rec, sets its Header, runs its Init hook if it
// implements one, and appends it into the into dataset. rec.RecordKey()
// must already be safe to encode; SaveOne rejects a key component
// containing ";" as BadInput, since that character is the key-field
// separator and would make the encoded key ambiguous to decode.
func (w *Writer) SaveOne(ctx context.Context, rec schema.Record, into tid.TID) error {
	return w.SaveMany(ctx, []schema.Record{rec}, into)
}

// SaveMany mints strictly-increasing TIDs for recs in order (a single
// allocator call per record) and appends them with one backend call.
func (w *Writer) SaveMany(ctx context.Context, recs []schema.Record, into tid.TID) error {
	if len(recs) == 0 {
		return nil
	}
	if err := w.checkWritable(ctx, into); err != nil {
		return err
	}

	nonTemporal, err := w.isNonTemporal(ctx, into)
	if err != nil {
		return err
	}

	root := recs[0].Root()
	envs := make([]*schema.Envelope, 0, len(recs))
	for _, rec := range recs {
		key := rec.RecordKey()
		for _, f := range key.Fields() {
			if containsSemicolon(f) {
				return &dcerrors.BadInput{Reason: fmt.Sprintf("key field %q contains ';'", f)}
			}
		}

		newID := w.alloc.New()
		if newID.Compare(into) <= 0 {
			return &dcerrors.IntegrityViolation{Reason: fmt.Sprintf("minted id %s is not greater than its dataset %s", newID, into)}
		}

		h := rec.HeaderPtr()
		h.ID = newID
		h.DataSet = into
		h.KeyString = schema.EncodeKey(key)
		if init, ok := rec.(schema.Initializable); ok {
			init.Init()
		}

		env, err := schema.ToEnvelope(rec)
		if err != nil {
			return err
		}
		envs = append(envs, env)
	}

	coll, err := w.colls.Get(ctx, root, nil)
	if err != nil {
		return err
	}

	if nonTemporal || w.nonTemporal[root] {
		for _, env := range envs {
			if err := coll.UpsertNonTemporal(ctx, env); err != nil {
				return dcerrors.WrapBackend(err, "writer: upsert nontemporal")
			}
		}
		return nil
	}

	if err := coll.InsertMany(ctx, envs); err != nil {
		if dcerrors.IsDuplicateKey(err) {
			return &dcerrors.IntegrityViolation{Reason: "duplicate id on insert"}
		}
		return dcerrors.WrapBackend(err, "writer: insert many")
	}
	return nil
}

func containsSemicolon(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			return true
		}
	}
	return false
}

// Delete writes a tombstone for key into in, without first reading
// whatever it shadows.
func (w *Writer) Delete(ctx context.Context, root string, key schema.Key, in tid.TID) error {
	if err := w.checkWritable(ctx, in); err != nil {
		return err
	}
	newID := w.alloc.New()
	if newID.Compare(in) <= 0 {
		return &dcerrors.IntegrityViolation{Reason: fmt.Sprintf("minted id %s is not greater than its dataset %s", newID, in)}
	}
	env := &schema.Envelope{
		ID:      newID,
		Key:     schema.EncodeKey(key),
		DataSet: in,
		Variant: schema.VariantDeleted,
	}
	coll, err := w.colls.Get(ctx, root, nil)
	if err != nil {
		return err
	}
	if err := coll.InsertOne(ctx, env); err != nil {
		return dcerrors.WrapBackend(err, "writer: insert tombstone")
	}
	return nil
}

// DeleteDatabase drops the entire backing database. Irrecoverable; always
// refused when the data source is read-only, independent of any
// particular dataset.
func (w *Writer) DeleteDatabase(ctx context.Context) error {
	if w.readOnly != nil && w.readOnly() {
		return &dcerrors.ReadOnly{DataSet: "*"}
	}
	if err := w.backend.DropDatabase(ctx); err != nil {
		return dcerrors.WrapBackend(err, "writer: drop database")
	}
	w.colls.Clear()
	return nil
}
