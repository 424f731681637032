package sim

import (
	"errors"
	"fmt"
)

// Structural and state errors are caller mistakes. They are reported
// synchronously at the call site and are never retried by the engine.
var (
	// ErrNotInitialized indicates an operation that requires an
	// initialized engine was called before Initialize.
	ErrNotInitialized = errors.New("engine is not initialized")

	// ErrAlreadyInitialized indicates Initialize was called twice.
	// Callers must build a new engine and replication pair instead.
	ErrAlreadyInitialized = errors.New("engine is already initialized")

	// ErrIllegalState indicates a control operation that is not legal
	// in the current run state.
	ErrIllegalState = errors.New("operation not allowed in current run state")

	// ErrInvalidSchedule indicates a negative delay or an execution
	// time earlier than the current simulated time.
	ErrInvalidSchedule = errors.New("cannot schedule an action in the past")

	// ErrAlreadyEnded indicates the replication has reached its
	// terminal state and no further scheduling is permitted.
	ErrAlreadyEnded = errors.New("replication has already ended")

	// ErrEmptyList is returned by PopFirst and PeekFirst on an event
	// list that holds no live actions. The run loop interprets it as
	// "no more events"; it is never surfaced to engine callers.
	ErrEmptyList = errors.New("event list is empty")

	// ErrReentrantSchedule indicates a scheduling call made from
	// within a notification handler. Handlers observe the run loop;
	// they must not feed events back into it.
	ErrReentrantSchedule = errors.New(
		"cannot schedule from within a notification handler")
)

// A ModelExecutionError wraps a failure raised by a scheduled action.
// The run loop halts on it, leaving the engine STOPPED with the event
// list intact for post-mortem inspection.
type ModelExecutionError struct {
	// Time is the simulated time of the failing action, in the time
	// representation's native numeric unit.
	Time float64

	// EventID identifies the failing action.
	EventID string

	// Err is the failure raised by the action, or a wrapped panic
	// value if the action panicked.
	Err error
}

func (e *ModelExecutionError) Error() string {
	return fmt.Sprintf("model execution failed at time %v (event %s): %v",
		e.Time, e.EventID, e.Err)
}

func (e *ModelExecutionError) Unwrap() error {
	return e.Err
}
