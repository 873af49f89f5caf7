package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect identifies the SQL flavour spoken by the database.
type Dialect string

const (
	// DialectSQLite is spoken by modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres is spoken by lib/pq and pgx.
	DialectPostgres Dialect = "postgres"
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "pgx", "postgresql":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// queries holds the statements for one dialect and table.
type queries struct {
	createTable     string
	createLockTable string
	insert          string
	deleteByName    string
	exists          string
	listNames       string
	listRecords     string
	clearStaleLock  string
	acquireLock     string
	releaseLock     string
}

func newQueries(dialect Dialect, table string) (queries, error) {
	if !identifier.MatchString(table) {
		return queries{}, fmt.Errorf("invalid table name %q", table)
	}
	lockTable := table + "_lock"

	q := queries{
		listNames:   fmt.Sprintf(`SELECT name FROM %s ORDER BY name ASC`, table),
		listRecords: fmt.Sprintf(`SELECT name, applied_at, execution_time_ms, checksum, run_id FROM %s ORDER BY name ASC`, table),
	}

	switch dialect {
	case DialectSQLite:
		q.createTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT ''
		)`, table)
		q.createLockTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			locked_at TEXT NOT NULL
		)`, lockTable)
		q.insert = fmt.Sprintf(`INSERT INTO %s (name, applied_at, execution_time_ms, checksum, run_id) VALUES (?, ?, ?, ?, ?)`, table)
		q.deleteByName = fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, table)
		q.exists = fmt.Sprintf(`SELECT 1 FROM %s WHERE name = ? LIMIT 1`, table)
		q.clearStaleLock = fmt.Sprintf(`DELETE FROM %s WHERE id = 1 AND locked_at < ?`, lockTable)
		q.acquireLock = fmt.Sprintf(`INSERT INTO %s (id, locked_at) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`, lockTable)
		q.releaseLock = fmt.Sprintf(`DELETE FROM %s WHERE id = 1`, lockTable)
	case DialectPostgres:
		q.createTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			execution_time_ms BIGINT NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT ''
		)`, table)
		q.insert = fmt.Sprintf(`INSERT INTO %s (name, applied_at, execution_time_ms, checksum, run_id) VALUES ($1, $2, $3, $4, $5)`, table)
		q.deleteByName = fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, table)
		q.exists = fmt.Sprintf(`SELECT 1 FROM %s WHERE name = $1 LIMIT 1`, table)
	default:
		return queries{}, fmt.Errorf("unsupported dialect %q", dialect)
	}

	return q, nil
}
