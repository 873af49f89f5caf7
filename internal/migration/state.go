package migration

import "fmt"

// State is the phase a run is in.
type State int

const (
	StateInitializing State = iota
	StateComputingPending
	StateExecuting
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateInitializing:     "INITIALIZING",
	StateComputingPending: "COMPUTING_PENDING",
	StateExecuting:        "EXECUTING",
	StateCompleted:        "COMPLETED",
	StateFailed:           "FAILED",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal successors of each state. FAILED is reachable
// before EXECUTING for configuration and consistency errors; COMPLETED is
// reachable from COMPUTING_PENDING when nothing is pending.
var transitions = map[State][]State{
	StateInitializing:     {StateComputingPending, StateFailed},
	StateComputingPending: {StateExecuting, StateCompleted, StateFailed},
	StateExecuting:        {StateCompleted, StateFailed},
}

// runState tracks the state machine of a single run.
type runState struct {
	current State
}

func (r *runState) to(next State) error {
	for _, allowed := range transitions[r.current] {
		if allowed == next {
			r.current = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.current, next)
}
