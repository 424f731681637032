package sim

import (
	"sync/atomic"

	"github.com/dsolab/devsim/sim/id"
)

// Priorities order actions scheduled at the same simulated time. A
// higher value fires earlier. Model code typically uses values between
// MinPriority and MaxPriority; values outside the range are legal.
const (
	MinPriority    = 1
	NormalPriority = 5
	MaxPriority    = 10
)

// internalPriority orders the engine's own bookkeeping actions (end of
// run, warmup) before any same-time model action.
const internalPriority = MaxPriority + 1

// An Action is the zero-argument callback carried by a scheduled event.
// A non-nil error halts the run loop with a ModelExecutionError.
type Action func() error

// A SimEvent is a scheduled action: an immutable record of an absolute
// execution time, a priority, and an executable callback. The sequence
// number is assigned by the event list on insertion and breaks ties
// between events with equal time and priority, so that earlier-created
// events fire first.
type SimEvent[T TimeValue[T]] struct {
	id       string
	time     T
	priority int
	seq      int64
	action   Action

	cancelled atomic.Bool
}

// NewSimEvent creates an event that executes action at time t.
func NewSimEvent[T TimeValue[T]](
	t T,
	priority int,
	action Action,
) *SimEvent[T] {
	return &SimEvent[T]{
		id:       id.Generate(),
		time:     t,
		priority: priority,
		action:   action,
	}
}

// ID returns the unique ID of the event.
func (e *SimEvent[T]) ID() string {
	return e.id
}

// Time returns the absolute execution time of the event.
func (e *SimEvent[T]) Time() T {
	return e.time
}

// Priority returns the priority of the event.
func (e *SimEvent[T]) Priority() int {
	return e.priority
}

// Sequence returns the insertion sequence number. It is zero until the
// event is stored on an event list.
func (e *SimEvent[T]) Sequence() int64 {
	return e.seq
}

// Cancel marks the event so that its action will never execute. Cancel
// is idempotent: cancelling twice, or cancelling an event that already
// fired, is a no-op. It is safe to call from any goroutine, including
// from within another action's execution.
func (e *SimEvent[T]) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether the event has been cancelled.
func (e *SimEvent[T]) Cancelled() bool {
	return e.cancelled.Load()
}
