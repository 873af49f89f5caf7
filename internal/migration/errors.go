package migration

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure scenarios the engine distinguishes.
var (
	// ErrDuplicateName indicates that two units share a name.
	ErrDuplicateName = errors.New("duplicate migration name")

	// ErrInvalidUnit indicates that a unit is malformed (empty name, no up operation).
	ErrInvalidUnit = errors.New("invalid migration unit")

	// ErrInvalidStorage indicates that a storage backend does not satisfy the contract.
	ErrInvalidStorage = errors.New("invalid migration storage")

	// ErrInvalidOptions indicates contradictory or out-of-range run options.
	ErrInvalidOptions = errors.New("invalid run options")

	// ErrMissingDown indicates a rollback request for a unit without a down operation.
	ErrMissingDown = errors.New("migration has no down operation")

	// ErrMigrationNotFound indicates that a requested unit is unknown or not eligible.
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrUnknownExecuted indicates that storage records a name no unit carries.
	ErrUnknownExecuted = errors.New("executed migration is not among known migrations")

	// ErrMigrationFailed indicates that a unit's operation failed mid-run.
	ErrMigrationFailed = errors.New("migration execution failed")

	// ErrLocked indicates that another run holds the backend's run lock.
	ErrLocked = errors.New("migration storage is locked")

	// ErrAlreadyLogged is returned by backends that reject logging a name twice.
	ErrAlreadyLogged = errors.New("migration already logged")

	// ErrInvalidTransition indicates an illegal run state change.
	ErrInvalidTransition = errors.New("invalid run state transition")
)

// ConfigError reports a configuration problem detected before any unit runs.
type ConfigError struct {
	Op    string   // Operation being performed (resolve, up, down, storage)
	Names []string // Units involved, if any
	Err   error    // Underlying error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if len(e.Names) > 0 {
		return fmt.Sprintf("migration configuration (%s): %v: %s", e.Op, e.Err, strings.Join(e.Names, ", "))
	}
	return fmt.Sprintf("migration configuration (%s): %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConsistencyError reports drift between the known units and the store.
type ConsistencyError struct {
	Unknown []string // Executed names absent from the plan
}

// Error implements the error interface
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnknownExecuted, strings.Join(e.Unknown, ", "))
}

// Is matches ErrUnknownExecuted.
func (e *ConsistencyError) Is(target error) bool {
	return target == ErrUnknownExecuted
}

// MigrationError wraps the failure of a single unit during a run.
type MigrationError struct {
	Name      string    // Unit that failed
	Direction Direction // Direction of the run
	Op        string    // "run" when the operation failed, "log" when recording it failed
	Err       error     // Underlying error
}

// Error implements the error interface
func (e *MigrationError) Error() string {
	if e.Op == "log" {
		return fmt.Sprintf("migration %s (%s) applied but could not be recorded: %v", e.Name, e.Direction, e.Err)
	}
	return fmt.Sprintf("migration %s (%s) failed: %v", e.Name, e.Direction, e.Err)
}

// Unwrap returns the underlying error
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Is matches ErrMigrationFailed in addition to the wrapped cause.
func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationFailed
}

// StorageError wraps a backend failure outside of unit execution.
type StorageError struct {
	Op  string // Storage operation (executed, lock, unlock, history)
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	return fmt.Sprintf("migration storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Kind maps an error to a stable logging label.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var cfgErr *ConfigError
	var consistencyErr *ConsistencyError
	var migrationErr *MigrationError
	var storageErr *StorageError
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &consistencyErr):
		return "consistency"
	case errors.As(err, &migrationErr):
		return "execution"
	case errors.As(err, &storageErr):
		return "storage"
	}
	return "unexpected"
}
