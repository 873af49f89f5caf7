// Package sqlstore records executed migrations in a SQL table. It speaks the
// SQLite and Postgres dialects and keeps an audit row per migration.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/migration-orchestrator/internal/migration"
)

// DefaultTable is the table used when no other is configured.
const DefaultTable = "schema_migrations"

// DefaultLockTTL is how long a SQLite lock row is honoured before another
// run may take it over.
const DefaultLockTTL = 30 * time.Minute

// Store implements migration.HistoryStorage and migration.Locker on a *sql.DB.
//
// Unlike the in-memory backend, logging a name that is already recorded fails
// with migration.ErrAlreadyLogged because the name is the table's primary key.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	q       queries
	now     func() time.Time
	lockTTL time.Duration

	mu      sync.Mutex
	ready   bool
	session *sessionLock
}

var (
	_ migration.HistoryStorage = (*Store)(nil)
	_ migration.Locker         = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithTable overrides DefaultTable. The lock table is named after it.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// WithClock injects the time source used for lock rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLockTTL overrides DefaultLockTTL. It has no effect on Postgres, whose
// advisory lock ends with the session that holds it.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// New returns a Store for db. Tables are created on first use.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is nil")
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		table:   DefaultTable,
		now:     time.Now,
		lockTTL: DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	q, err := newQueries(dialect, s.table)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	s.q = q
	return s, nil
}

// DB returns the underlying handle, suitable for migration.WithHandle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Table returns the name of the tracking table.
func (s *Store) Table() string {
	return s.table
}

// EnsureSchema creates the tracking tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx)
}

func (s *Store) ensureLocked(ctx context.Context) error {
	if s.ready {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.q.createTable); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	if s.q.createLockTable != "" {
		if _, err := s.db.ExecContext(ctx, s.q.createLockTable); err != nil {
			return fmt.Errorf("create %s_lock table: %w", s.table, err)
		}
	}
	s.ready = true
	return nil
}

// LogMigration records name with no audit detail beyond the current time.
func (s *Store) LogMigration(ctx context.Context, name string) error {
	return s.LogRecord(ctx, migration.Record{Name: name, AppliedAt: s.now()})
}

// LogRecord inserts a row for record.Name. It returns migration.ErrAlreadyLogged
// when the name is already present.
func (s *Store) LogRecord(ctx context.Context, record migration.Record) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	appliedAt := record.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.q.exists, record.Name).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", migration.ErrAlreadyLogged, record.Name)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check %s: %w", record.Name, err)
	}

	if _, err := tx.ExecContext(ctx, s.q.insert,
		record.Name,
		appliedAt.UTC().Format(time.RFC3339Nano),
		record.Duration.Milliseconds(),
		record.Checksum,
		record.RunID,
	); err != nil {
		return fmt.Errorf("record %s: %w", record.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record %s: %w", record.Name, err)
	}
	return nil
}

// UnlogMigration deletes the row for name. A missing row is not an error.
func (s *Store) UnlogMigration(ctx context.Context, name string) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.deleteByName, name); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Executed returns recorded names ordered by name.
func (s *Store) Executed(ctx context.Context) ([]string, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q.listNames)
	if err != nil {
		return nil, fmt.Errorf("list executed migrations: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan executed migration: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executed migrations: %w", err)
	}
	return names, nil
}

// History returns the audit rows ordered by name.
func (s *Store) History(ctx context.Context) ([]migration.Record, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.q.listRecords)
	if err != nil {
		return nil, fmt.Errorf("list migration history: %w", err)
	}
	defer rows.Close()

	var records []migration.Record
	for rows.Next() {
		var (
			record     migration.Record
			appliedAt  string
			durationMs int64
		)
		if err := rows.Scan(&record.Name, &appliedAt, &durationMs, &record.Checksum, &record.RunID); err != nil {
			return nil, fmt.Errorf("scan migration history: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parse applied_at of %s: %w", record.Name, err)
		}
		record.AppliedAt = parsed
		record.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration history: %w", err)
	}
	return records, nil
}
