package collcache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4degrees/datacentric-lib/memkv"
)

func TestGetOpensOnce(t *testing.T) {
	ctx := context.Background()
	c, err := New(memkv.New(), 8)
	require.NoError(t, err)

	h1, err := c.Get(ctx, "Widget", nil)
	require.NoError(t, err)
	h2, err := c.Get(ctx, "Widget", nil)
	require.NoError(t, err)
	require.Same(t, h1, h2)
}

func TestGetConcurrentSameRootReturnsOneHandle(t *testing.T) {
	ctx := context.Background()
	c, err := New(memkv.New(), 8)
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	handles := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.Get(ctx, "Widget", nil)
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		require.Same(t, handles[0], handles[i])
	}
}

func TestClearForcesRecreateIndexes(t *testing.T) {
	ctx := context.Background()
	c, err := New(memkv.New(), 8)
	require.NoError(t, err)
	_, err = c.Get(ctx, "Widget", nil)
	require.NoError(t, err)
	c.Clear()
	// CreateIndex is idempotent, so re-running it after a Clear must still
	// succeed even though the mandatory index already exists underneath.
	_, err = c.Get(ctx, "Widget", nil)
	require.NoError(t, err)
}
