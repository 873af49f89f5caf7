package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/example/migration-orchestrator/internal/testfixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ContractJSON(t *testing.T) {
	testfixtures.RunStorageContract(t, func(t *testing.T) migration.Storage {
		store, err := New(filepath.Join(t.TempDir(), "executed.json"))
		require.NoError(t, err)
		return store
	})
}

func TestStore_ContractYAML(t *testing.T) {
	testfixtures.RunStorageContract(t, func(t *testing.T) migration.Storage {
		store, err := New(filepath.Join(t.TempDir(), "executed.yaml"))
		require.NoError(t, err)
		return store
	})
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "executed.json")

	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.LogMigration(ctx, "002_b"))
	require.NoError(t, first.LogMigration(ctx, "001_a"))
	require.NoError(t, first.LogMigration(ctx, "002_b"))

	second, err := New(path)
	require.NoError(t, err)
	names, err := second.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_b", "001_a"}, names)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `["002_b", "001_a"]`, string(data))
}

func TestStore_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executed.yml")
	require.NoError(t, os.WriteFile(path, []byte("- 001_a\n- 002_b\n"), 0o644))

	store, err := New(path)
	require.NoError(t, err)
	names, err := store.Executed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a", "002_b"}, names)
}

func TestStore_EmptyAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	store, err := New(empty)
	require.NoError(t, err)
	names, err := store.Executed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	store, err = New(corrupt)
	require.NoError(t, err)
	_, err = store.Executed(context.Background())
	assert.Error(t, err)

	_, err = New(" ")
	assert.Error(t, err)
}
