// Package facade binds the collection cache, dataset resolver, record
// resolver, writer and query surface to a host context, enforcing
// read-only semantics and owning every cache the core maintains.
package facade

import (
	"context"
	"fmt"

	"github.com/4degrees/datacentric-lib/collcache"
	"github.com/4degrees/datacentric-lib/dcerrors"
	"github.com/4degrees/datacentric-lib/dsresolver"
	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/query"
	"github.com/4degrees/datacentric-lib/recresolver"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
	"github.com/4degrees/datacentric-lib/writer"

	"github.com/4degrees/datacentric/dsconfig"
	"github.com/4degrees/datacentric/hostctx"
)

// commonDataSetName is the well-known dataset name getCommon() resolves
// in root.
const commonDataSetName = "Common"

const collectionCacheSize = 256

// DataSource binds every core component to a single host Context. One
// DataSource corresponds to one logical backing database.
type DataSource struct {
	host     hostctx.Context
	backend  kvport.Backend
	colls    *collcache.Cache
	datasets *dsresolver.Resolver
	records  *recresolver.Resolver
	writer   *writer.Writer
	alloc    *tid.Allocator

	readOnly bool
}

// Options configures a DataSource at construction time. When Config is
// set, its resolved extra indexes are always registered; its ReadOnly
// ORs with Options.ReadOnly (a bool has no "unset" state to defer to);
// its GlobalCutoff is used only when Options.GlobalCutoff is nil, since
// a *tid.TID can distinguish "not supplied" from any real cutoff.
type Options struct {
	ReadOnly     bool
	GlobalCutoff *tid.TID
	Config       *dsconfig.Config
}

// New binds backend to host, returning a ready-to-use DataSource. The
// five caches (collection, dataset-id, dataset-parent, dataset-detail,
// lookup-list) are created fresh and empty. If opts.Config is set, its
// extra indexes are registered on the collection cache before any
// collection is opened, per Options' doc comment for how it combines
// with the read-only flag and global cutoff.
func New(host hostctx.Context, backend kvport.Backend, alloc *tid.Allocator, opts Options) (*DataSource, error) {
	colls, err := collcache.New(backend, collectionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("facade: new collection cache: %w", err)
	}

	readOnly := opts.ReadOnly
	globalCutoff := opts.GlobalCutoff
	if opts.Config != nil {
		extra, err := opts.Config.ResolveExtraIndexes()
		if err != nil {
			return nil, fmt.Errorf("facade: resolve extra indexes: %w", err)
		}
		colls.SetExtra(extra)
		readOnly = readOnly || opts.Config.ReadOnly
		if globalCutoff == nil {
			globalCutoff, err = opts.Config.Cutoff()
			if err != nil {
				return nil, fmt.Errorf("facade: resolve config cutoff: %w", err)
			}
		}
	}

	datasets, err := dsresolver.New(colls, alloc)
	if err != nil {
		return nil, fmt.Errorf("facade: new dataset resolver: %w", err)
	}
	datasets.SetGlobalCutoff(globalCutoff)

	ds := &DataSource{
		host:     host,
		backend:  backend,
		colls:    colls,
		datasets: datasets,
		alloc:    alloc,
		readOnly: readOnly,
	}
	ds.records = recresolver.New(colls, datasets, datasets.GlobalCutoff)
	ds.writer = writer.New(colls, datasets, alloc, backend, func() bool { return ds.readOnly })
	host.Log(hostctx.LevelInfo, "data source opened", "readOnly", readOnly)
	return ds, nil
}

// SetGlobalCutoff sets (or clears, with nil) the data-source-wide cutoff.
// cutoffFor recomputes from the live value on every call, it is never
// itself cached; memoized lookup lists are dropped, since their expansion
// pruned datasets against the previous cutoff.
func (ds *DataSource) SetGlobalCutoff(c *tid.TID) {
	ds.datasets.SetGlobalCutoff(c)
}

// updateDataSetDetail writes a new dataset-detail version for dataSet,
// starting from the currently cached detail (so a prior override set by
// SetDataSetCutoff/SetDataSetReadOnly/SetDataSetImportsCutoff survives a
// later call setting a different field) and applying mutate on top. It
// clears the dataset cache afterward so the new version is visible to
// the next read in this process, not only to a different process that
// happens to call ClearDataSetCache itself.
func (ds *DataSource) updateDataSetDetail(ctx context.Context, dataSet tid.TID, mutate func(*schema.DataSetDetail)) error {
	current, err := ds.datasets.GetDataSetDetailOrNull(ctx, dataSet)
	if err != nil {
		return err
	}
	parent, ok := ds.datasets.ParentOf(dataSet)
	if !ok {
		return &dcerrors.IntegrityViolation{Reason: fmt.Sprintf("dataset %s has no known parent", dataSet)}
	}
	detail := &schema.DataSetDetail{DescribedDataSet: dataSet}
	if current != nil {
		detail.ReadOnly = current.ReadOnly
		detail.CutoffTime = current.CutoffTime
		detail.ImportsCutoffTime = current.ImportsCutoffTime
	}
	mutate(detail)
	if err := ds.writer.SaveOne(ctx, detail, parent); err != nil {
		return err
	}
	ds.datasets.ClearCache()
	return nil
}

// SetDataSetCutoff writes a new dataset-detail version for dataSet with
// cutoffTime set, into dataSet's parent (read from the resolver's parent
// cache, or from the dataset record itself on a miss).
func (ds *DataSource) SetDataSetCutoff(ctx context.Context, dataSet, cutoff tid.TID) error {
	return ds.updateDataSetDetail(ctx, dataSet, func(d *schema.DataSetDetail) {
		d.CutoffTime = &cutoff
	})
}

// SetDataSetReadOnly writes a new dataset-detail version marking dataSet
// read-only (or lifting the override, with readOnly false) -- the
// per-dataset flag writer.checkWritable consults alongside the
// data-source-wide one.
func (ds *DataSource) SetDataSetReadOnly(ctx context.Context, dataSet tid.TID, readOnly bool) error {
	return ds.updateDataSetDetail(ctx, dataSet, func(d *schema.DataSetDetail) {
		d.ReadOnly = &readOnly
	})
}

// SetDataSetImportsCutoff writes a new dataset-detail version for
// dataSet with importsCutoffTime set, freezing the visible state of
// dataSet's imports as of cutoff without touching dataSet's own records.
func (ds *DataSource) SetDataSetImportsCutoff(ctx context.Context, dataSet, cutoff tid.TID) error {
	return ds.updateDataSetDetail(ctx, dataSet, func(d *schema.DataSetDetail) {
		d.ImportsCutoffTime = &cutoff
	})
}

// IsReadOnly reports the data-source-wide read-only flag.
func (ds *DataSource) IsReadOnly() bool { return ds.readOnly }

// ClearDataSetCache drops every cache this DataSource owns, for callers
// that need to observe writes made by a different process against the
// same backend. It never affects correctness going forward, only
// latency.
func (ds *DataSource) ClearDataSetCache() {
	ds.datasets.ClearCache()
	ds.colls.Clear()
}

// GetDataSetOrNull resolves a dataset by name within parent's lookup
// list.
func (ds *DataSource) GetDataSetOrNull(ctx context.Context, name string, parent tid.TID) (*tid.TID, error) {
	return ds.datasets.GetDataSetOrNull(ctx, name, parent)
}

// GetLookupList returns the ordered dataset TIDs consulted when
// resolving within dataSet.
func (ds *DataSource) GetLookupList(ctx context.Context, dataSet tid.TID) ([]tid.TID, error) {
	return ds.datasets.GetLookupList(ctx, dataSet)
}

// CutoffFor returns the effective cutoff for dataSet.
func (ds *DataSource) CutoffFor(ctx context.Context, dataSet tid.TID) (*tid.TID, error) {
	return ds.datasets.CutoffFor(ctx, dataSet)
}

// CreateDataSet builds and saves a new dataset record named name with the
// given imports and nonTemporal flag into parent, refusing if parent has
// an active cutoff (mirroring the general write rule).
func (ds *DataSource) CreateDataSet(ctx context.Context, name string, imports []tid.TID, nonTemporal bool, parent tid.TID) (tid.TID, error) {
	// A self-import cannot occur here: every TID in imports must already
	// exist in storage (an import is always minted strictly before the
	// dataset that names it), so it is necessarily less than the id the
	// writer is about to mint for this dataset. A self-importing record
	// can only arise from a malformed store, and is caught where it
	// actually matters: lookup-list expansion.
	rec := &schema.DataSet{
		Name:        name,
		Imports:     imports,
		NonTemporal: nonTemporal,
	}
	if err := ds.writer.SaveOne(ctx, rec, parent); err != nil {
		return tid.Empty, err
	}
	ds.datasets.ClearCache()
	ds.host.Log(hostctx.LevelDebug, "dataset created", "name", name, "id", rec.ID.String(), "parent", parent.String())
	return rec.ID, nil
}

// GetCommon returns the TID of the well-known "Common" dataset in root,
// creating it if it does not yet exist.
func (ds *DataSource) GetCommon(ctx context.Context) (tid.TID, error) {
	existing, err := ds.datasets.GetDataSetOrNull(ctx, commonDataSetName, tid.Empty)
	if err != nil {
		return tid.Empty, err
	}
	if existing != nil {
		return *existing, nil
	}
	return ds.CreateDataSet(ctx, commonDataSetName, nil, false, tid.Empty)
}

// SaveOne appends rec into the into dataset.
func (ds *DataSource) SaveOne(ctx context.Context, rec schema.Record, into tid.TID) error {
	return ds.writer.SaveOne(ctx, rec, into)
}

// Default returns the host's default dataset, the target SaveDefault and
// LoadByKeyDefault resolve against for callers that don't carry a
// dataset TID of their own.
func (ds *DataSource) Default() tid.TID {
	return ds.host.DefaultDataSet()
}

// SaveDefault appends rec into the host's default dataset.
func (ds *DataSource) SaveDefault(ctx context.Context, rec schema.Record) error {
	return ds.writer.SaveOne(ctx, rec, ds.host.DefaultDataSet())
}

// SaveMany appends recs into the into dataset with a single backend call.
func (ds *DataSource) SaveMany(ctx context.Context, recs []schema.Record, into tid.TID) error {
	return ds.writer.SaveMany(ctx, recs, into)
}

// Delete writes a tombstone for key into the in dataset.
func (ds *DataSource) Delete(ctx context.Context, root string, key schema.Key, in tid.TID) error {
	return ds.writer.Delete(ctx, root, key, in)
}

// DeleteDatabase drops the entire backing database.
func (ds *DataSource) DeleteDatabase(ctx context.Context) error {
	if err := ds.writer.DeleteDatabase(ctx); err != nil {
		return err
	}
	ds.host.Log(hostctx.LevelWarn, "database dropped")
	return nil
}

// LoadByID loads the record of root collection root identified by id,
// downcast to R.
func LoadByID[R any, P schema.RecordPtr[R]](ctx context.Context, ds *DataSource, root string, id tid.TID) (P, error) {
	return recresolver.LoadByID[R, P](ctx, ds.records, root, id)
}

// LoadByKey loads the winning record for key within dataSet's lookup
// list, downcast to R.
func LoadByKey[R any, P schema.RecordPtr[R]](ctx context.Context, ds *DataSource, root string, key schema.Key, dataSet tid.TID) (P, error) {
	return recresolver.LoadByKey[R, P](ctx, ds.records, root, key, dataSet)
}

// LoadByKeyDefault loads the winning record for key from the host's
// default dataset.
func LoadByKeyDefault[R any, P schema.RecordPtr[R]](ctx context.Context, ds *DataSource, root string, key schema.Key) (P, error) {
	return recresolver.LoadByKey[R, P](ctx, ds.records, root, key, ds.host.DefaultDataSet())
}

// NewQuery starts a lazy query over record root R bound to dataset from.
func NewQuery[R any, P schema.RecordPtr[R]](ds *DataSource, from tid.TID) *query.Query[R, P] {
	return query.New[R, P](ds.colls, ds.datasets, from)
}

// Host returns the bound host Context, for callers that need the default
// dataset or logger directly.
func (ds *DataSource) Host() hostctx.Context { return ds.host }
