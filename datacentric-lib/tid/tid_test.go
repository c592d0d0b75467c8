package tid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyLessThanEverything(t *testing.T) {
	a := NewAllocator().New()
	require.True(t, Empty.Less(a))
	require.False(t, a.Less(Empty))
}

func TestAllocatorStrictlyIncreasing(t *testing.T) {
	a := NewAllocator()
	prev := a.New()
	for i := 0; i < 1000; i++ {
		next := a.New()
		require.True(t, prev.Less(next), "mint %d: %v should be < %v", i, prev, next)
		prev = next
	}
}

func TestAllocatorConcurrentMintsAreUnique(t *testing.T) {
	a := NewAllocator()
	const n = 500
	ids := make(chan TID, n)
	for i := 0; i < n; i++ {
		go func() { ids <- a.New() }()
	}
	seen := make(map[TID]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		require.False(t, seen[id], "duplicate TID minted: %v", id)
		seen[id] = true
	}
}

func TestMinOrNil(t *testing.T) {
	a := NewAllocator().New()
	b := NewAllocator().New()
	lo := a
	if b.Less(a) {
		lo = b
	}
	require.Equal(t, lo, *MinOrNil(&a, &b))
	require.Equal(t, &a, MinOrNil(&a, nil))
	require.Equal(t, &b, MinOrNil(nil, &b))
	require.Nil(t, MinOrNil(nil, nil))
}

func TestRoundTripBytes(t *testing.T) {
	a := NewAllocator().New()
	got, err := FromBytes(a.Bytes())
	require.NoError(t, err)
	require.Equal(t, a, got)
}
