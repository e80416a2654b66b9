package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presto/internal/clock"
)

func TestMemory_IncrementAndGet(t *testing.T) {
	m := NewMemory(clock.NewManual(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	v, err := m.IncrementAndGet(ctx, "k", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = m.IncrementAndGet(ctx, "k", 3)
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 4, got)

	// Absent keys read as zero.
	got, err = m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestMemory_SweepRemovesStaleEntries(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC))
	m := NewMemory(clk)
	ctx := context.Background()

	_, err := m.IncrementAndGet(ctx, "old", 1)
	require.NoError(t, err)

	clk.Advance(26 * time.Hour)
	_, err = m.IncrementAndGet(ctx, "fresh", 1)
	require.NoError(t, err)

	removed := m.Sweep(ctx, 25*time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Len())

	v, err := m.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMemory_InlineSweepPastThreshold(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC))
	m := NewMemory(clk)
	m.sweepThreshold = 10
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := m.IncrementAndGet(ctx, fmt.Sprintf("stale-%d", i), 1)
		require.NoError(t, err)
	}

	// Past the max age, the next increment sweeps the table inline.
	clk.Advance(26 * time.Hour)
	_, err := m.IncrementAndGet(ctx, "new", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_ConcurrentIncrements(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.IncrementAndGet(ctx, "shared", 1)
		}()
	}
	wg.Wait()

	v, err := m.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, workers, v)
}
