package sim

// A TimeTeller can be used to get the current simulated time.
type TimeTeller[T TimeValue[T]] interface {
	Now() T
}

// A Scheduler is the scheduling surface the engine exposes to model
// code. All scheduling calls return a cancellable handle to the stored
// event.
type Scheduler[T TimeValue[T]] interface {
	TimeTeller[T]

	// ScheduleAt schedules action at absolute time t.
	ScheduleAt(t T, priority int, action Action) (*SimEvent[T], error)

	// ScheduleAfter schedules action a non-negative delay after the
	// current simulated time.
	ScheduleAfter(delay T, priority int, action Action) (*SimEvent[T], error)

	// ScheduleNow schedules action at the current simulated time.
	ScheduleNow(priority int, action Action) (*SimEvent[T], error)

	// Cancel marks a previously scheduled event so that it will never
	// execute. Cancelling a fired or already cancelled event is a
	// no-op.
	Cancel(e *SimEvent[T])
}

// A Model is the user-defined simulation model. The engine invokes
// ConstructModel exactly once, during Initialize, with the clock set to
// the replication's start time; the model schedules its first actions
// there. The model has no other obligations to the kernel.
type Model[T TimeValue[T]] interface {
	ConstructModel(s Scheduler[T]) error
}

// A Run describes the time frame of one replication: where the clock
// starts, when the warmup period has passed, and when the run ends.
// EndTime returns the never sentinel for an open-ended run.
type Run[T TimeValue[T]] interface {
	StartTime() T
	WarmupTime() T
	EndTime() T
}
