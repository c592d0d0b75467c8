package writer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4degrees/datacentric-lib/collcache"
	"github.com/4degrees/datacentric-lib/dsresolver"
	"github.com/4degrees/datacentric-lib/memkv"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
	"github.com/4degrees/datacentric-lib/writer"
)

type Gadget struct {
	schema.Header
	K string
}

func (g *Gadget) Root() string          { return "Gadget" }
func (g *Gadget) Variant() string       { return "Gadget" }
func (g *Gadget) RecordKey() schema.Key { return schema.SimpleKey{g.K} }

func newTestWriter(t *testing.T) (*writer.Writer, *dsresolver.Resolver, *tid.Allocator, func(bool)) {
	t.Helper()
	backend := memkv.New()
	colls, err := collcache.New(backend, 8)
	require.NoError(t, err)
	alloc := tid.NewAllocator()
	datasets, err := dsresolver.New(colls, alloc)
	require.NoError(t, err)
	readOnly := false
	w := writer.New(colls, datasets, alloc, backend, func() bool { return readOnly })
	return w, datasets, alloc, func(v bool) { readOnly = v }
}

func TestSaveOneMintsStrictlyIncreasingID(t *testing.T) {
	ctx := context.Background()
	w, _, _, _ := newTestWriter(t)
	g := &Gadget{K: "A"}
	require.NoError(t, w.SaveOne(ctx, g, tid.Empty))
	require.True(t, g.ID.Compare(tid.Empty) > 0)
	g2 := &Gadget{K: "B"}
	require.NoError(t, w.SaveOne(ctx, g2, tid.Empty))
	require.True(t, g2.ID.Compare(g.ID) > 0)
}

func TestSaveOneRejectsSemicolonInKey(t *testing.T) {
	ctx := context.Background()
	w, _, _, _ := newTestWriter(t)
	err := w.SaveOne(ctx, &Gadget{K: "a;b"}, tid.Empty)
	require.Error(t, err)
}

func TestReadOnlyFlagRefusesWrites(t *testing.T) {
	ctx := context.Background()
	w, _, _, setReadOnly := newTestWriter(t)
	setReadOnly(true)
	err := w.SaveOne(ctx, &Gadget{K: "A"}, tid.Empty)
	require.Error(t, err)
}

func TestDeleteWritesTombstoneWithoutReadingShadowed(t *testing.T) {
	ctx := context.Background()
	w, _, _, _ := newTestWriter(t)
	require.NoError(t, w.SaveOne(ctx, &Gadget{K: "A"}, tid.Empty))
	require.NoError(t, w.Delete(ctx, "Gadget", schema.SimpleKey{"A"}, tid.Empty))
}

func TestDeleteDatabaseRefusedWhenReadOnly(t *testing.T) {
	ctx := context.Background()
	w, _, _, setReadOnly := newTestWriter(t)
	setReadOnly(true)
	require.Error(t, w.DeleteDatabase(ctx))
}

func TestDeleteDatabaseDropsEverything(t *testing.T) {
	ctx := context.Background()
	w, _, _, _ := newTestWriter(t)
	require.NoError(t, w.SaveOne(ctx, &Gadget{K: "A"}, tid.Empty))
	require.NoError(t, w.DeleteDatabase(ctx))
}

func TestWriteRefusedAgainstCutDataset(t *testing.T) {
	ctx := context.Background()
	w, datasets, alloc, _ := newTestWriter(t)

	a := &schema.DataSet{Header: schema.Header{KeyString: "A"}, Name: "A"}
	require.NoError(t, w.SaveOne(ctx, a, tid.Empty))
	datasets.ClearCache()

	cutoff := alloc.New()
	detail := &schema.DataSetDetail{DescribedDataSet: a.ID, CutoffTime: &cutoff}
	require.NoError(t, w.SaveOne(ctx, detail, tid.Empty))
	datasets.ClearCache()

	err := w.SaveOne(ctx, &Gadget{K: "B"}, a.ID)
	require.Error(t, err)
}
