package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Direction identifies whether a run applies or reverts units.
type Direction string

const (
	// DirectionUp applies pending units.
	DirectionUp Direction = "up"
	// DirectionDown reverts executed units.
	DirectionDown Direction = "down"
)

// Operation performs one half of a schema change. It receives the run's
// execution context by value.
type Operation func(ctx context.Context, ec ExecutionContext) error

// Unit is a single named schema change.
type Unit struct {
	Name     string    // Unique name, used as sort key and storage identity
	Up       Operation // Forward change, required
	Down     Operation // Reverse change, nil when rollback is unsupported
	Source   string    // Where the unit was loaded from, if anywhere
	Checksum string    // Content hash recorded by history-keeping backends
}

// Reversible reports whether the unit can be rolled back.
func (u Unit) Reversible() bool {
	return u.Down != nil
}

func (u Unit) operation(direction Direction) Operation {
	if direction == DirectionDown {
		return u.Down
	}
	return u.Up
}

// ExecutionContext carries per-run dependencies into unit operations. The
// engine hands each unit its own copy.
type ExecutionContext struct {
	Handle    any          // Backend query/command handle supplied by the embedder
	Logger    *slog.Logger // Logger scoped to the run and the unit
	RunID     string       // Identifier shared by every unit in the run
	Direction Direction    // Direction of the run
	Name      string       // Name of the unit being executed
}

// forUnit derives the context handed to a single unit.
func (ec ExecutionContext) forUnit(name string) ExecutionContext {
	ec.Name = name
	if ec.Logger != nil {
		ec.Logger = ec.Logger.With("migration", name)
	}
	return ec
}

// Record is the audit detail kept by backends that implement HistoryStorage.
type Record struct {
	Name      string
	AppliedAt time.Time
	Duration  time.Duration
	Checksum  string
	RunID     string
}

// UpOptions narrows a forward run. The zero value applies every pending unit.
type UpOptions struct {
	To   string // Apply pending units up to and including this name
	Step int    // Apply at most this many pending units
}

func (o UpOptions) validate() error {
	if o.Step < 0 {
		return &ConfigError{Op: "up", Err: fmt.Errorf("%w: step cannot be negative", ErrInvalidOptions)}
	}
	if o.To != "" && o.Step > 0 {
		return &ConfigError{Op: "up", Err: fmt.Errorf("%w: to and step are mutually exclusive", ErrInvalidOptions)}
	}
	return nil
}

// DownOptions selects the executed units a reverse run reverts. The zero value
// reverts the most recently applied unit.
type DownOptions struct {
	To    string   // Revert executed units down to and including this name
	Step  int      // Revert this many executed units
	All   bool     // Revert every executed unit
	Names []string // Revert exactly these executed units
}

func (o DownOptions) validate() error {
	if o.Step < 0 {
		return &ConfigError{Op: "down", Err: fmt.Errorf("%w: step cannot be negative", ErrInvalidOptions)}
	}
	set := 0
	if o.To != "" {
		set++
	}
	if o.Step > 0 {
		set++
	}
	if o.All {
		set++
	}
	if len(o.Names) > 0 {
		set++
	}
	if set > 1 {
		return &ConfigError{Op: "down", Err: fmt.Errorf("%w: to, step, all and names are mutually exclusive", ErrInvalidOptions)}
	}
	return nil
}

// Result describes the outcome of a run.
type Result struct {
	RunID      string
	Direction  Direction
	State      State
	Migrations []string // Units completed by this run, in execution order
	Failed     string   // Unit that failed, if any
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Duration returns how long the run took.
func (r Result) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Status is a read-only view of where the store stands relative to the plan.
type Status struct {
	Executed []string // Known units recorded as executed, in plan order
	Pending  []string // Known units not yet executed, in plan order
	Unknown  []string // Executed names with no matching unit
	History  []Record // Audit records, when the backend keeps them
}

// Current returns the last executed unit in plan order, or "" when none.
func (s Status) Current() string {
	if len(s.Executed) == 0 {
		return ""
	}
	return s.Executed[len(s.Executed)-1]
}
