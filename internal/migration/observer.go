package migration

import "time"

// UnitEvent describes the outcome of one unit within a run.
type UnitEvent struct {
	RunID     string
	Name      string
	Direction Direction
	Duration  time.Duration
	Err       error
}

// Observer receives engine events synchronously, in execution order.
type Observer interface {
	UnitFinished(event UnitEvent)
	RunFinished(result Result)
}
