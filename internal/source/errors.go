package source

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMigrationFile indicates that a migration file is malformed.
	ErrInvalidMigrationFile = errors.New("invalid migration file")

	// ErrUnsupportedHandle indicates that the execution handle cannot run SQL.
	ErrUnsupportedHandle = errors.New("execution handle cannot run SQL")

	// ErrConfusingOrdering indicates that a new file would sort before existing ones.
	ErrConfusingOrdering = errors.New("new migration would sort before existing migrations")

	// ErrFileExists indicates that Create would overwrite a file.
	ErrFileExists = errors.New("migration file already exists")
)

// FileError ties a failure to the file it came from.
type FileError struct {
	Path string // Path of the file inside the source filesystem
	Op   string // Operation being performed (read, parse, pair)
	Err  error  // Underlying error
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("migration file %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Err
}
