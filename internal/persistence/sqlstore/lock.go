package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/example/migration-orchestrator/internal/logging"
	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/pressly/goose/v3/lock"
)

// sessionLock is a Postgres advisory lock pinned to one connection.
type sessionLock struct {
	conn   *sql.Conn
	locker lock.SessionLocker
}

// lockTimeFormat is fixed width so locked_at values compare as text.
const lockTimeFormat = "2006-01-02T15:04:05.000000000Z"

// Lock excludes concurrent runs against the same table. Postgres takes a
// session advisory lock keyed on the table name. SQLite inserts the single row
// of the lock table and fails with migration.ErrLocked when it already exists;
// a row older than the lock TTL is left by a run that died and is replaced.
func (s *Store) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(ctx); err != nil {
		return err
	}

	if s.dialect == DialectPostgres {
		return s.lockSession(ctx)
	}

	now := s.now().UTC()
	stale, err := s.db.ExecContext(ctx, s.q.clearStaleLock, now.Add(-s.lockTTL).Format(lockTimeFormat))
	if err != nil {
		return fmt.Errorf("clear stale lock: %w", err)
	}
	if n, err := stale.RowsAffected(); err == nil && n > 0 {
		if logger := logging.FromContext(ctx); logger != nil {
			logger.Warn("took over stale migration lock", "table", s.table+"_lock", "ttl", s.lockTTL)
		}
	}

	res, err := s.db.ExecContext(ctx, s.q.acquireLock, now.Format(lockTimeFormat))
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s_lock row is held", migration.ErrLocked, s.table)
	}
	return nil
}

// Unlock releases the lock taken by Lock.
func (s *Store) Unlock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dialect == DialectPostgres {
		return s.unlockSession(ctx)
	}

	if _, err := s.db.ExecContext(ctx, s.q.releaseLock); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *Store) lockSession(ctx context.Context) error {
	if s.session != nil {
		return fmt.Errorf("%w: lock already held by this store", migration.ErrLocked)
	}

	locker, err := lock.NewPostgresSessionLocker(lock.WithLockID(lockID(s.table)))
	if err != nil {
		return fmt.Errorf("create session locker: %w", err)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve lock connection: %w", err)
	}
	if err := locker.SessionLock(ctx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", migration.ErrLocked, err)
	}

	s.session = &sessionLock{conn: conn, locker: locker}
	return nil
}

func (s *Store) unlockSession(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	session := s.session
	s.session = nil
	defer session.conn.Close()

	if err := session.locker.SessionUnlock(ctx, session.conn); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	return nil
}

// lockID derives a stable advisory lock key from the table name.
func lockID(table string) int64 {
	h := fnv.New64a()
	h.Write([]byte(table))
	return int64(h.Sum64() &^ (1 << 63))
}
