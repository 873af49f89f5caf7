package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/migration-orchestrator/internal/migration"
)

// Execer runs a statement. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TxBeginner starts a transaction. *sql.DB and *sql.Conn satisfy it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// statements returns an operation that executes stmts against the handle in
// the execution context, inside one transaction unless noTransaction is set.
func statements(stmts []string, noTransaction bool) migration.Operation {
	return func(ctx context.Context, ec migration.ExecutionContext) error {
		if noTransaction {
			execer, ok := ec.Handle.(Execer)
			if !ok {
				return fmt.Errorf("%w: %T does not implement ExecContext", ErrUnsupportedHandle, ec.Handle)
			}
			return execAll(ctx, ec, execer, stmts)
		}

		beginner, ok := ec.Handle.(TxBeginner)
		if !ok {
			return fmt.Errorf("%w: %T does not implement BeginTx; mark the file NO TRANSACTION to run without one", ErrUnsupportedHandle, ec.Handle)
		}

		tx, err := beginner.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := execAll(ctx, ec, tx, stmts); err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && ec.Logger != nil {
				ec.Logger.Warn("rollback failed", "error", rollbackErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
}

func execAll(ctx context.Context, ec migration.ExecutionContext, execer Execer, stmts []string) error {
	for i, stmt := range stmts {
		if ec.Logger != nil {
			ec.Logger.Debug("executing statement", "statement", i+1, "of", len(stmts))
		}
		if _, err := execer.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w", i+1, err)
		}
	}
	return nil
}
