// Package migration orchestrates versioned schema changes against a pluggable
// storage backend that remembers which changes have already been applied.
//
// The package provides:
//
//   - A three-operation Storage contract plus an in-memory reference backend
//   - A resolver that validates unit names and orders them deterministically
//   - An Engine that computes the pending set and runs units strictly in order
//   - A typed error taxonomy separating configuration, consistency and
//     execution failures
//
// Units are applied one at a time. Each success is recorded in storage before
// the next unit starts, so a failed run leaves every earlier unit committed and
// a later run resumes at the unit that failed.
//
// Example usage:
//
//	engine, err := migration.New(storage, units, migration.WithLogger(logger))
//	if err != nil {
//		log.Fatalf("invalid migration set: %v", err)
//	}
//	if _, err := engine.Up(ctx, migration.UpOptions{}); err != nil {
//		log.Fatalf("migration failed: %v", err)
//	}
package migration
