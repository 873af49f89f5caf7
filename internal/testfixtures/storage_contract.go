package testfixtures

import (
	"context"
	"testing"

	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StorageFactory returns a fresh, empty backend for one subtest.
type StorageFactory func(t *testing.T) migration.Storage

// RunStorageContract exercises the behaviour every backend shares. Ordering of
// Executed and the handling of duplicate logging are backend policy and are
// left to each backend's own tests.
func RunStorageContract(t *testing.T, open StorageFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("starts empty", func(t *testing.T) {
		names, err := open(t).Executed(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("log then list", func(t *testing.T) {
		storage := open(t)
		require.NoError(t, storage.LogMigration(ctx, "001_a"))
		require.NoError(t, storage.LogMigration(ctx, "002_b"))

		names, err := storage.Executed(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"001_a", "002_b"}, names)
	})

	t.Run("unlog removes only that name", func(t *testing.T) {
		storage := open(t)
		for _, name := range []string{"001_a", "002_b", "003_c"} {
			require.NoError(t, storage.LogMigration(ctx, name))
		}
		require.NoError(t, storage.UnlogMigration(ctx, "002_b"))

		names, err := storage.Executed(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"001_a", "003_c"}, names)
	})

	t.Run("unlog of missing name is a no-op", func(t *testing.T) {
		storage := open(t)
		require.NoError(t, storage.LogMigration(ctx, "001_a"))
		require.NoError(t, storage.UnlogMigration(ctx, "missing"))

		names, err := storage.Executed(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"001_a"}, names)
	})

	t.Run("snapshot is not aliased", func(t *testing.T) {
		storage := open(t)
		require.NoError(t, storage.LogMigration(ctx, "001_a"))

		names, err := storage.Executed(ctx)
		require.NoError(t, err)
		names[0] = "changed"

		names, err = storage.Executed(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"001_a"}, names)
	})

	t.Run("engine round trip", func(t *testing.T) {
		storage := open(t)
		journal := NewJournal()
		engine, err := migration.New(storage, journal.Units("001_a", "002_b", "003_c"),
			migration.WithRunIDGenerator(NewIDGenerator("run").NextFunc()))
		require.NoError(t, err)

		result, err := engine.Up(ctx, migration.UpOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"001_a", "002_b", "003_c"}, result.Migrations)

		result, err = engine.Down(ctx, migration.DownOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"003_c"}, result.Migrations)

		pending, err := engine.Pending(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"003_c"}, pending)

		journal.Reset()
		_, err = engine.Up(ctx, migration.UpOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"003_c"}, journal.Names(migration.DirectionUp))
	})
}
