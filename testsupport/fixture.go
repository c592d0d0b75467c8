// Package testsupport builds a ready-to-use facade.DataSource over an
// in-memory backend for tests, following the single-fixture-per-test
// pattern used throughout the pack's own integration test suites: one
// constructor, no package-level shared state, a fresh backend per test.
package testsupport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4degrees/datacentric-lib/memkv"
	"github.com/4degrees/datacentric-lib/tid"

	"github.com/4degrees/datacentric/facade"
	"github.com/4degrees/datacentric/hostctx"
)

// Fixture bundles a DataSource and the allocator and backend behind it,
// plus the Common dataset's TID, for scenario tests that want to start
// from a known-good store with root and Common already in place.
type Fixture struct {
	DS      *facade.DataSource
	Backend *memkv.Backend
	Alloc   *tid.Allocator
	Common  tid.TID
	Ctx     context.Context
}

// New builds a Fixture over a fresh in-memory backend, not read-only, no
// global cutoff, with the Common dataset already created under root.
func New(t *testing.T) *Fixture {
	t.Helper()
	ctx := context.Background()
	alloc := tid.NewAllocator()
	backend := memkv.New()
	host := hostctx.New(nil, tid.Empty)

	ds, err := facade.New(host, backend, alloc, facade.Options{})
	require.NoError(t, err)

	common, err := ds.GetCommon(ctx)
	require.NoError(t, err)

	return &Fixture{DS: ds, Backend: backend, Alloc: alloc, Common: common, Ctx: ctx}
}

// MakeReadOnly rebuilds f.DS as a read-only DataSource over the same
// backend and allocator, so everything written so far (including the
// Common dataset) stays visible to reads while every write path now
// refuses.
func (f *Fixture) MakeReadOnly(t *testing.T) {
	t.Helper()
	ro, err := facade.New(f.DS.Host(), f.Backend, f.Alloc, facade.Options{ReadOnly: true})
	require.NoError(t, err)
	f.DS = ro
}
