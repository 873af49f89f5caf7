package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/migration-orchestrator/internal/logging"
)

// Engine computes pending units against a storage backend and runs them in
// plan order. An Engine may serve many runs, but runs against the same
// backend must not overlap unless the backend implements Locker.
type Engine struct {
	storage     Storage
	plan        *Plan
	logger      *slog.Logger
	handle      any
	ordering    Ordering
	now         func() time.Time
	newRunID    func() string
	observers   []Observer
	unitTimeout time.Duration
}

// New validates storage and resolves units. Any configuration error is
// returned here, before a run can start.
func New(storage Storage, units []Unit, opts ...Option) (*Engine, error) {
	e := &Engine{
		ordering: LexicalOrder{},
		now:      time.Now,
		newRunID: defaultRunID,
	}
	for _, opt := range opts {
		opt(e)
	}

	checked, err := AsStorage(storage)
	if err != nil {
		return nil, err
	}
	e.storage = checked

	plan, err := Resolve(units, e.ordering)
	if err != nil {
		return nil, err
	}
	e.plan = plan

	return e, nil
}

// Plan returns the resolved plan.
func (e *Engine) Plan() *Plan {
	return e.plan
}

// Up applies pending units in plan order.
func (e *Engine) Up(ctx context.Context, opts UpOptions) (Result, error) {
	return e.run(ctx, DirectionUp, opts.validate(), func(_, pending []Unit) ([]Unit, error) {
		return selectUp(pending, opts)
	})
}

// Down reverts executed units in reverse plan order.
func (e *Engine) Down(ctx context.Context, opts DownOptions) (Result, error) {
	return e.run(ctx, DirectionDown, opts.validate(), func(executed, _ []Unit) ([]Unit, error) {
		return selectDown(executed, opts, e.plan)
	})
}

// Executed returns the names of known units recorded as executed, in plan order.
func (e *Engine) Executed(ctx context.Context) ([]string, error) {
	status, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.Executed, nil
}

// Pending returns the names of known units not yet executed, in plan order.
func (e *Engine) Pending(ctx context.Context) ([]string, error) {
	status, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.Pending, nil
}

// Status reports executed, pending and unknown names. Unlike a run, drift
// between plan and store is reported in the result instead of failing.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	snapshot, err := e.storage.Executed(ctx)
	if err != nil {
		return Status{}, &StorageError{Op: "executed", Err: err}
	}

	executed, pending, unknown := e.plan.split(snapshot)
	status := Status{
		Executed: unitNames(executed),
		Pending:  unitNames(pending),
		Unknown:  unknown,
	}

	if history, ok := e.storage.(HistoryStorage); ok {
		records, err := history.History(ctx)
		if err != nil {
			return Status{}, &StorageError{Op: "history", Err: err}
		}
		status.History = records
	}

	return status, nil
}

type selector func(executed, pending []Unit) ([]Unit, error)

func (e *Engine) run(ctx context.Context, direction Direction, optErr error, selectUnits selector) (Result, error) {
	result := Result{
		RunID:     e.newRunID(),
		Direction: direction,
		State:     StateInitializing,
		Started:   e.now(),
	}
	state := &runState{current: StateInitializing}
	logger := e.loggerFor(ctx).With("run_id", result.RunID, "direction", string(direction))

	finish := func(err error) (Result, error) {
		next := StateCompleted
		if err != nil {
			next = StateFailed
		}
		if tErr := state.to(next); tErr != nil && err == nil {
			err = tErr
		}
		result.State = state.current
		result.Err = err
		result.Finished = e.now()

		if err != nil {
			logger.Error("run failed",
				"event", "failed",
				"error", err,
				"error_kind", Kind(err),
				"failed_migration", result.Failed,
				"completed", len(result.Migrations),
			)
		} else {
			logger.Info("run complete",
				"event", "complete",
				"completed", len(result.Migrations),
				"duration_seconds", result.Duration().Seconds(),
			)
		}
		for _, observer := range e.observers {
			observer.RunFinished(result)
		}
		return result, err
	}

	if optErr != nil {
		return finish(optErr)
	}

	if locker, ok := e.storage.(Locker); ok {
		if err := locker.Lock(ctx); err != nil {
			return finish(&StorageError{Op: "lock", Err: err})
		}
		defer func() {
			if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release migration lock", "error", err)
			}
		}()
	}

	if err := state.to(StateComputingPending); err != nil {
		return finish(err)
	}

	snapshot, err := e.storage.Executed(ctx)
	if err != nil {
		return finish(&StorageError{Op: "executed", Err: err})
	}

	executed, pending, unknown := e.plan.split(snapshot)
	if len(unknown) > 0 {
		return finish(&ConsistencyError{Unknown: unknown})
	}

	selected, err := selectUnits(executed, pending)
	if err != nil {
		return finish(err)
	}

	if len(selected) == 0 {
		logger.Info("no migrations to run", "executed", len(executed))
		return finish(nil)
	}

	if err := state.to(StateExecuting); err != nil {
		return finish(err)
	}
	logger.Info("starting migration run", "count", len(selected), "migrations", unitNames(selected))

	ec := ExecutionContext{
		Handle:    e.handle,
		Logger:    logger,
		RunID:     result.RunID,
		Direction: direction,
	}
	for _, unit := range selected {
		if err := e.apply(ctx, ec, unit); err != nil {
			result.Failed = unit.Name
			return finish(err)
		}
		result.Migrations = append(result.Migrations, unit.Name)
	}

	return finish(nil)
}

// apply runs a single unit and commits its storage record.
func (e *Engine) apply(ctx context.Context, ec ExecutionContext, unit Unit) error {
	direction := ec.Direction
	unitEC := ec.forUnit(unit.Name)
	logger := unitEC.Logger

	startEvent, doneEvent := "migrating", "migrated"
	if direction == DirectionDown {
		startEvent, doneEvent = "reverting", "reverted"
	}

	started := e.now()
	logger.Info("migration start", "event", startEvent)

	err := e.invoke(ctx, unit.operation(direction), unitEC)
	if err != nil {
		err = &MigrationError{Name: unit.Name, Direction: direction, Op: "run", Err: err}
	} else if recordErr := e.record(ctx, unit, direction, started, ec.RunID); recordErr != nil {
		err = &MigrationError{Name: unit.Name, Direction: direction, Op: "log", Err: recordErr}
	}

	elapsed := e.now().Sub(started)
	for _, observer := range e.observers {
		observer.UnitFinished(UnitEvent{
			RunID:     ec.RunID,
			Name:      unit.Name,
			Direction: direction,
			Duration:  elapsed,
			Err:       err,
		})
	}

	if err != nil {
		logger.Error("migration failure",
			"event", "failed",
			"error", err,
			"duration_seconds", elapsed.Seconds(),
		)
		return err
	}

	logger.Info("migration success", "event", doneEvent, "duration_seconds", elapsed.Seconds())
	return nil
}

// invoke calls op, bounding it with the unit timeout and turning a panic
// into an error.
func (e *Engine) invoke(ctx context.Context, op Operation, ec ExecutionContext) (err error) {
	if e.unitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.unitTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	return op(ctx, ec)
}

func (e *Engine) record(ctx context.Context, unit Unit, direction Direction, started time.Time, runID string) error {
	if direction == DirectionDown {
		return e.storage.UnlogMigration(ctx, unit.Name)
	}

	if history, ok := e.storage.(HistoryStorage); ok {
		return history.LogRecord(ctx, Record{
			Name:      unit.Name,
			AppliedAt: started,
			Duration:  e.now().Sub(started),
			Checksum:  unit.Checksum,
			RunID:     runID,
		})
	}
	return e.storage.LogMigration(ctx, unit.Name)
}

func (e *Engine) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func selectUp(pending []Unit, opts UpOptions) ([]Unit, error) {
	if opts.To != "" {
		for i, unit := range pending {
			if unit.Name == opts.To {
				return pending[:i+1], nil
			}
		}
		return nil, &ConfigError{
			Op:    "up",
			Names: []string{opts.To},
			Err:   fmt.Errorf("%w: target is not pending", ErrMigrationNotFound),
		}
	}
	if opts.Step > 0 && opts.Step < len(pending) {
		return pending[:opts.Step], nil
	}
	return pending, nil
}

func selectDown(executed []Unit, opts DownOptions, plan *Plan) ([]Unit, error) {
	reversed := make([]Unit, len(executed))
	for i, unit := range executed {
		reversed[len(executed)-1-i] = unit
	}

	var selected []Unit
	switch {
	case len(opts.Names) > 0:
		wanted := make(map[string]bool, len(opts.Names))
		for _, name := range opts.Names {
			wanted[name] = true
		}
		for _, unit := range reversed {
			if wanted[unit.Name] {
				selected = append(selected, unit)
				delete(wanted, unit.Name)
			}
		}
		if len(wanted) > 0 {
			var missing []string
			for _, name := range opts.Names {
				if wanted[name] {
					missing = append(missing, name)
					delete(wanted, name)
				}
			}
			reason := "not executed"
			for _, name := range missing {
				if plan.Index(name) < 0 {
					reason = "not known or not executed"
					break
				}
			}
			return nil, &ConfigError{Op: "down", Names: missing, Err: fmt.Errorf("%w: %s", ErrMigrationNotFound, reason)}
		}
	case opts.All:
		selected = reversed
	case opts.To != "":
		i := -1
		for j, unit := range reversed {
			if unit.Name == opts.To {
				i = j
				break
			}
		}
		if i < 0 {
			return nil, &ConfigError{
				Op:    "down",
				Names: []string{opts.To},
				Err:   fmt.Errorf("%w: target is not executed", ErrMigrationNotFound),
			}
		}
		selected = reversed[:i+1]
	default:
		step := opts.Step
		if step == 0 {
			step = 1
		}
		if step > len(reversed) {
			step = len(reversed)
		}
		selected = reversed[:step]
	}

	var irreversible []string
	for _, unit := range selected {
		if !unit.Reversible() {
			irreversible = append(irreversible, unit.Name)
		}
	}
	if len(irreversible) > 0 {
		return nil, &ConfigError{Op: "down", Names: irreversible, Err: ErrMissingDown}
	}

	return selected, nil
}
