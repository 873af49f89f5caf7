package migration

import (
	"context"
	"fmt"
	"reflect"
)

// Storage records which units have been executed.
type Storage interface {
	// LogMigration records that name has been executed
	LogMigration(ctx context.Context, name string) error

	// UnlogMigration removes name from the executed set
	UnlogMigration(ctx context.Context, name string) error

	// Executed returns a fresh snapshot of the executed names
	Executed(ctx context.Context) ([]string, error)
}

// HistoryStorage is implemented by backends that keep audit detail per unit.
// The engine calls LogRecord in place of LogMigration when it is available.
type HistoryStorage interface {
	Storage

	// LogRecord records an executed unit together with its audit detail
	LogRecord(ctx context.Context, record Record) error

	// History returns the audit records of executed units
	History(ctx context.Context) ([]Record, error)
}

// Locker is implemented by backends that can exclude concurrent runs. The
// engine holds the lock for the whole run.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

type migrationLogger interface {
	LogMigration(ctx context.Context, name string) error
}

type migrationUnlogger interface {
	UnlogMigration(ctx context.Context, name string) error
}

type executedLister interface {
	Executed(ctx context.Context) ([]string, error)
}

// AsStorage checks a dynamically supplied value against the Storage contract.
// It is meant for plugin boundaries where the backend's type is not known at
// compile time; the error names every missing operation.
func AsStorage(v any) (Storage, error) {
	if isNil(v) {
		return nil, &ConfigError{Op: "storage", Err: fmt.Errorf("%w: storage is nil", ErrInvalidStorage)}
	}
	if storage, ok := v.(Storage); ok {
		return storage, nil
	}

	var missing []string
	if _, ok := v.(migrationLogger); !ok {
		missing = append(missing, "LogMigration")
	}
	if _, ok := v.(migrationUnlogger); !ok {
		missing = append(missing, "UnlogMigration")
	}
	if _, ok := v.(executedLister); !ok {
		missing = append(missing, "Executed")
	}
	return nil, &ConfigError{
		Op:    "storage",
		Names: missing,
		Err:   fmt.Errorf("%w: %T is missing operations", ErrInvalidStorage, v),
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
