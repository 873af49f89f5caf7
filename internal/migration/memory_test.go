package migration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_LogAndUnlog(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	names, err := storage.Executed(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, storage.LogMigration(ctx, "B"))
	require.NoError(t, storage.LogMigration(ctx, "A"))
	require.NoError(t, storage.LogMigration(ctx, "B"))

	names, err = storage.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, names)

	require.NoError(t, storage.UnlogMigration(ctx, "B"))
	require.NoError(t, storage.UnlogMigration(ctx, "missing"))

	names, err = storage.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names)
}

func TestMemoryStorage_SnapshotIsIndependent(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage("A", "B")

	names, err := storage.Executed(ctx)
	require.NoError(t, err)
	names[0] = "mutated"

	names, err = storage.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestMemoryStorage_ConcurrentLogging(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	var wg sync.WaitGroup
	for _, name := range []string{"A", "B", "C", "D", "A", "B"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = storage.LogMigration(ctx, name)
		}(name)
	}
	wg.Wait()

	names, err := storage.Executed(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, names)
}
