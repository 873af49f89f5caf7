package testfixtures

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/migration-orchestrator/internal/migration"
	_ "modernc.org/sqlite"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ErrInjected is the failure produced by units configured to fail.
var ErrInjected = errors.New("injected failure")

// Call records one invocation of a fixture unit.
type Call struct {
	Name      string
	Direction migration.Direction
	RunID     string
}

// Journal records the order in which fixture units run.
type Journal struct {
	mu    sync.Mutex
	calls []Call
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Calls returns every recorded invocation.
func (j *Journal) Calls() []Call {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Call(nil), j.calls...)
}

// Names returns the names recorded for the given direction, in order.
func (j *Journal) Names(direction migration.Direction) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var names []string
	for _, call := range j.calls {
		if call.Direction == direction {
			names = append(names, call.Name)
		}
	}
	return names
}

// Reset clears the journal.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.calls = nil
	j.mu.Unlock()
}

func (j *Journal) record(ec migration.ExecutionContext) {
	j.mu.Lock()
	j.calls = append(j.calls, Call{Name: ec.Name, Direction: ec.Direction, RunID: ec.RunID})
	j.mu.Unlock()
}

// UnitOption configures a fixture unit.
type UnitOption func(*unitFixture)

type unitFixture struct {
	failUp    error
	failDown  error
	noDown    bool
	checksum  string
	upHook    func(ctx context.Context, ec migration.ExecutionContext) error
	failTimes int
}

// FailUp makes the unit's up operation return err. A nil err uses ErrInjected.
func FailUp(err error) UnitOption {
	return func(f *unitFixture) {
		if err == nil {
			err = ErrInjected
		}
		f.failUp = err
	}
}

// FailUpOnce makes the unit's up operation fail on its first invocation only.
func FailUpOnce() UnitOption {
	return func(f *unitFixture) {
		f.failUp = ErrInjected
		f.failTimes = 1
	}
}

// FailDown makes the unit's down operation return err. A nil err uses ErrInjected.
func FailDown(err error) UnitOption {
	return func(f *unitFixture) {
		if err == nil {
			err = ErrInjected
		}
		f.failDown = err
	}
}

// WithoutDown leaves the unit without a down operation.
func WithoutDown() UnitOption {
	return func(f *unitFixture) {
		f.noDown = true
	}
}

// WithChecksum sets the unit checksum.
func WithChecksum(checksum string) UnitOption {
	return func(f *unitFixture) {
		f.checksum = checksum
	}
}

// OnUp runs hook inside the up operation after it is journaled.
func OnUp(hook func(ctx context.Context, ec migration.ExecutionContext) error) UnitOption {
	return func(f *unitFixture) {
		f.upHook = hook
	}
}

// Unit builds a unit whose operations record themselves in the journal.
func (j *Journal) Unit(name string, opts ...UnitOption) migration.Unit {
	f := &unitFixture{}
	for _, opt := range opts {
		opt(f)
	}

	var mu sync.Mutex
	upCalls := 0
	unit := migration.Unit{
		Name:     name,
		Checksum: f.checksum,
		Up: func(ctx context.Context, ec migration.ExecutionContext) error {
			j.record(ec)
			if f.upHook != nil {
				if err := f.upHook(ctx, ec); err != nil {
					return err
				}
			}
			mu.Lock()
			upCalls++
			calls := upCalls
			mu.Unlock()
			if f.failUp != nil && (f.failTimes == 0 || calls <= f.failTimes) {
				return f.failUp
			}
			return nil
		},
	}
	if !f.noDown {
		unit.Down = func(ctx context.Context, ec migration.ExecutionContext) error {
			j.record(ec)
			return f.failDown
		}
	}
	return unit
}

// Units builds one journaled unit per name with default behaviour.
func (j *Journal) Units(names ...string) []migration.Unit {
	units := make([]migration.Unit, 0, len(names))
	for _, name := range names {
		units = append(units, j.Unit(name))
	}
	return units
}

// OpenSQLite opens a SQLite database in a temporary directory and closes it
// when the test finishes.
func OpenSQLite(tb testing.TB) *sql.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "migrations.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	tb.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
