package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle of one scheduled firing.
type State string

const (
	// StatePending means the occurrence is armed and waiting for its instant.
	StatePending State = "pending"
	// StateLocked means the execution lock has been acquired.
	StateLocked State = "locked"
	// StateFiring means the alarm action is executing.
	StateFiring State = "firing"
	// StateCompleted means the execution finished successfully.
	StateCompleted State = "completed"
	// StateSkipped means the occurrence was cancelled before or during
	// execution, e.g. the alarm was disabled mid-flight.
	StateSkipped State = "skipped"
	// StateFailed means execution failed terminally: device error or lock
	// retries exhausted.
	StateFailed State = "failed"
)

// Terminal reports whether the state is an end state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateSkipped || s == StateFailed
}

// Occurrence is one concrete scheduled firing of an alarm at an instant.
// It is derived, agent-local state: never persisted, replaced whenever the
// alarm set changes.
type Occurrence struct {
	// ID uniquely identifies this firing.
	ID uuid.UUID
	// AlarmID is the alarm this firing belongs to.
	AlarmID string
	// FireAt is the absolute instant the alarm should trigger.
	FireAt time.Time
	// State is the current lifecycle state.
	State State
}
