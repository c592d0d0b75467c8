package facade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4degrees/datacentric-lib/memkv"
	"github.com/4degrees/datacentric-lib/tid"

	"github.com/4degrees/datacentric/dsconfig"
	"github.com/4degrees/datacentric/facade"
	"github.com/4degrees/datacentric/hostctx"
)

// TestConfigSuppliesReadOnlyAndCutoffWhenOptionsUnset confirms
// facade.New falls back to a supplied dsconfig.Config for the read-only
// flag and global cutoff when Options leaves them at their zero values.
func TestConfigSuppliesReadOnlyAndCutoffWhenOptionsUnset(t *testing.T) {
	alloc := tid.NewAllocator()
	cutoff := alloc.New()
	cfg := &dsconfig.Config{ReadOnly: true, GlobalCutoff: cutoff.String()}

	ds, err := facade.New(hostctx.New(nil, tid.Empty), memkv.New(), alloc, facade.Options{Config: cfg})
	require.NoError(t, err)
	require.True(t, ds.IsReadOnly())

	got, err := ds.CutoffFor(context.Background(), tid.Empty)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, cutoff, *got)
}

// TestOptionsGlobalCutoffWinsOverConfig confirms an explicit
// Options.GlobalCutoff is used as-is rather than being replaced by
// Config's -- unlike ReadOnly, a *tid.TID has a real nil "unset" value
// distinct from any cutoff Config could supply, so there is no
// ambiguity to OR away.
func TestOptionsGlobalCutoffWinsOverConfig(t *testing.T) {
	alloc := tid.NewAllocator()
	configCutoff := alloc.New()
	explicit := alloc.New()
	cfg := &dsconfig.Config{GlobalCutoff: configCutoff.String()}

	ds, err := facade.New(hostctx.New(nil, tid.Empty), memkv.New(), alloc, facade.Options{Config: cfg, GlobalCutoff: &explicit})
	require.NoError(t, err)

	got, err := ds.CutoffFor(context.Background(), tid.Empty)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, explicit, *got)
}

// TestConfigReadOnlyOrsWithOptions confirms the data source is
// read-only if either Config or Options says so -- a bool has no
// distinguishable "unset" state, so Config.ReadOnly always contributes
// rather than being silently shadowed by Options' zero value.
func TestConfigReadOnlyOrsWithOptions(t *testing.T) {
	alloc := tid.NewAllocator()
	cfg := &dsconfig.Config{ReadOnly: true}

	ds, err := facade.New(hostctx.New(nil, tid.Empty), memkv.New(), alloc, facade.Options{Config: cfg, ReadOnly: false})
	require.NoError(t, err)
	require.True(t, ds.IsReadOnly())
}

// TestConfigMalformedIndexFailsFacadeNew confirms a bad index
// declaration is reported at construction time, not on first use.
func TestConfigMalformedIndexFailsFacadeNew(t *testing.T) {
	alloc := tid.NewAllocator()
	cfg := &dsconfig.Config{
		Indexes: []dsconfig.RootIndexes{
			{Root: "Widget", Indexes: []dsconfig.IndexDecl{{Name: "Bad", Fields: "value:sideways"}}},
		},
	}
	_, err := facade.New(hostctx.New(nil, tid.Empty), memkv.New(), alloc, facade.Options{Config: cfg})
	require.Error(t, err)
}
