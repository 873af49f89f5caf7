package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/example/migration-orchestrator/internal/testfixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(testfixtures.OpenSQLite(t), DialectSQLite, opts...)
	require.NoError(t, err)
	return store
}

func TestStore_Contract(t *testing.T) {
	testfixtures.RunStorageContract(t, func(t *testing.T) migration.Storage {
		return newSQLiteStore(t)
	})
}

func TestStore_ExecutedOrderedByName(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	for _, name := range []string{"003_c", "001_a", "002_b"} {
		require.NoError(t, store.LogMigration(ctx, name))
	}

	names, err := store.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a", "002_b", "003_c"}, names)
}

func TestStore_RejectsDuplicateLog(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.LogMigration(ctx, "001_a"))
	err := store.LogMigration(ctx, "001_a")
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrAlreadyLogged)

	names, err := store.Executed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a"}, names)
}

func TestStore_History(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	appliedAt := time.Date(2024, time.March, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, store.LogRecord(ctx, migration.Record{
		Name:      "001_a",
		AppliedAt: appliedAt,
		Duration:  1500 * time.Millisecond,
		Checksum:  "abc123",
		RunID:     "run-1",
	}))

	records, err := store.History(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "001_a", records[0].Name)
	assert.True(t, appliedAt.Equal(records[0].AppliedAt))
	assert.Equal(t, 1500*time.Millisecond, records[0].Duration)
	assert.Equal(t, "abc123", records[0].Checksum)
	assert.Equal(t, "run-1", records[0].RunID)
}

func TestStore_CustomTable(t *testing.T) {
	ctx := context.Background()
	db := testfixtures.OpenSQLite(t)
	store, err := New(db, DialectSQLite, WithTable("app_migrations"))
	require.NoError(t, err)
	require.NoError(t, store.LogMigration(ctx, "001_a"))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM app_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
	assert.Equal(t, "app_migrations", store.Table())
}

func TestStore_RejectsUnsafeTableName(t *testing.T) {
	_, err := New(testfixtures.OpenSQLite(t), DialectSQLite, WithTable("x; DROP TABLE users"))
	assert.Error(t, err)

	_, err = New(nil, DialectSQLite)
	assert.Error(t, err)
}

func TestStore_SQLiteLock(t *testing.T) {
	ctx := context.Background()
	db := testfixtures.OpenSQLite(t)
	first, err := New(db, DialectSQLite)
	require.NoError(t, err)
	second, err := New(db, DialectSQLite)
	require.NoError(t, err)

	require.NoError(t, first.Lock(ctx))
	err = second.Lock(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrLocked)

	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, second.Lock(ctx))
	require.NoError(t, second.Unlock(ctx))
}

func TestStore_SQLiteLockTakesOverExpiredRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())

	crashed, err := Open(ctx, DefaultConfig("sqlite", path))
	require.NoError(t, err)
	first, err := New(crashed, DialectSQLite, WithClock(clock.NowFunc()))
	require.NoError(t, err)
	require.NoError(t, first.Lock(ctx))
	require.NoError(t, crashed.Close())

	db, err := Open(ctx, DefaultConfig("sqlite", path))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	second, err := New(db, DialectSQLite, WithClock(clock.NowFunc()))
	require.NoError(t, err)

	clock.Advance(DefaultLockTTL - time.Minute)
	err = second.Lock(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, migration.ErrLocked)

	clock.Advance(2 * time.Minute)
	require.NoError(t, second.Lock(ctx))

	third, err := New(db, DialectSQLite, WithClock(clock.NowFunc()))
	require.NoError(t, err)
	assert.ErrorIs(t, third.Lock(ctx), migration.ErrLocked)

	require.NoError(t, second.Unlock(ctx))
	require.NoError(t, third.Lock(ctx))
	require.NoError(t, third.Unlock(ctx))
}

func TestStore_SQLiteLockCustomTTL(t *testing.T) {
	ctx := context.Background()
	db := testfixtures.OpenSQLite(t)
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())

	first, err := New(db, DialectSQLite, WithClock(clock.NowFunc()), WithLockTTL(time.Minute))
	require.NoError(t, err)
	second, err := New(db, DialectSQLite, WithClock(clock.NowFunc()), WithLockTTL(time.Minute))
	require.NoError(t, err)

	require.NoError(t, first.Lock(ctx))
	assert.ErrorIs(t, second.Lock(ctx), migration.ErrLocked)

	clock.Advance(61 * time.Second)
	require.NoError(t, second.Lock(ctx))
}

func TestStore_EngineWithSQLHandle(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	units := []migration.Unit{{
		Name:     "001_widgets",
		Checksum: "sum",
		Up: func(ctx context.Context, ec migration.ExecutionContext) error {
			_, err := ec.Handle.(*sql.DB).ExecContext(ctx, `CREATE TABLE widgets (id INTEGER PRIMARY KEY)`)
			return err
		},
		Down: func(ctx context.Context, ec migration.ExecutionContext) error {
			_, err := ec.Handle.(*sql.DB).ExecContext(ctx, `DROP TABLE widgets`)
			return err
		},
	}}
	engine, err := migration.New(store, units, migration.WithHandle(store.DB()))
	require.NoError(t, err)

	result, err := engine.Up(ctx, migration.UpOptions{})
	require.NoError(t, err)

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.History, 1)
	assert.Equal(t, result.RunID, status.History[0].RunID)
	assert.Equal(t, "sum", status.History[0].Checksum)

	_, err = engine.Down(ctx, migration.DownOptions{})
	require.NoError(t, err)
	names, err := store.Executed(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	db, err := Open(ctx, DefaultConfig("sqlite", path))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.FileExists(t, path)
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig("sqlite", "state.db")
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "oracle" }},
		{"empty dsn", func(c *Config) { c.DSN = "" }},
		{"negative busy timeout", func(c *Config) { c.BusyTimeout = -time.Second }},
		{"bad journal mode", func(c *Config) { c.JournalMode = "FAST" }},
		{"bad synchronous", func(c *Config) { c.Synchronous = "SOMETIMES" }},
		{"negative pool", func(c *Config) { c.MaxOpenConns = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDialectFor(t *testing.T) {
	for driver, want := range map[string]Dialect{
		"sqlite":   DialectSQLite,
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
	} {
		got, err := DialectFor(driver)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := DialectFor("mysql")
	assert.Error(t, err)

	assert.Equal(t, 4, DefaultConfig("pgx", "postgres://localhost/db").MaxOpenConns)
}

func TestPostgresQueriesUseNumberedPlaceholders(t *testing.T) {
	q, err := newQueries(DialectPostgres, "schema_migrations")
	require.NoError(t, err)
	assert.Contains(t, q.insert, "$5")
	assert.Contains(t, q.deleteByName, "$1")
	assert.Empty(t, q.createLockTable)
	assert.NotEqual(t, lockID("a"), lockID("b"))
	assert.GreaterOrEqual(t, lockID("schema_migrations"), int64(0))
}
