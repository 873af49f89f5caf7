package migration

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the base logger. A logger attached to the run's context via
// logging.ContextWithLogger takes precedence.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHandle sets the backend handle passed to every unit in ExecutionContext.
func WithHandle(handle any) Option {
	return func(e *Engine) {
		e.handle = handle
	}
}

// WithOrdering replaces the default lexical ordering.
func WithOrdering(ordering Ordering) Option {
	return func(e *Engine) {
		if ordering != nil {
			e.ordering = ordering
		}
	}
}

// WithClock injects the time source used for durations and audit records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRunIDGenerator injects the generator for run identifiers.
func WithRunIDGenerator(generate func() string) Option {
	return func(e *Engine) {
		if generate != nil {
			e.newRunID = generate
		}
	}
}

// WithObserver registers an observer notified of unit and run outcomes.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observers = append(e.observers, observer)
		}
	}
}

// WithUnitTimeout bounds each unit operation. Zero means no bound.
func WithUnitTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.unitTimeout = timeout
		}
	}
}

func defaultRunID() string {
	return uuid.NewString()
}
