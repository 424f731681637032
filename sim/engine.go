// Package sim is a discrete-event simulation kernel: actions scheduled
// on a priority-ordered event list, a generic simulated clock, and an
// engine that drives one replication of a model.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// RunState indicates the precise state of the engine's run loop. It is
// owned exclusively by the engine and changes only through the engine's
// control operations.
type RunState int

const (
	// StateNotInitialized means the engine has been created but not
	// yet initialized with a model and a replication.
	StateNotInitialized RunState = iota

	// StateInitialized means the engine has been bound to a model and
	// a replication but has not been started yet.
	StateInitialized

	// StateStarting means a start has been requested but the run loop
	// has not picked it up yet.
	StateStarting

	// StateRunning means the run loop is executing events.
	StateRunning

	// StateStopping means a stop has been requested but the run loop
	// is still finishing the in-flight event.
	StateStopping

	// StateStopped means the run loop is suspended and can be resumed
	// with Start, RunUpTo, or Step.
	StateStopped

	// StateEnded means the replication has ended. The state is
	// terminal: the engine cannot be restarted or reused.
	StateEnded
)

var runStateNames = map[RunState]string{
	StateNotInitialized: "NOT_INITIALIZED",
	StateInitialized:    "INITIALIZED",
	StateStarting:       "STARTING",
	StateRunning:        "RUNNING",
	StateStopping:       "STOPPING",
	StateStopped:        "STOPPED",
	StateEnded:          "ENDED",
}

func (s RunState) String() string {
	if name, ok := runStateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("RunState(%d)", int(s))
}

// pausePriority orders a run-up-to-including boundary after every
// same-time model action.
const pausePriority = math.MinInt32

// An Engine owns one event list and one simulated clock and drives a
// single replication of a model: it pops the minimum action, advances
// the clock exactly to that action's time, executes the action, and
// publishes notifications, until the replication ends or a stop is
// requested.
//
// The run loop executes on exactly one goroutine at a time, either the
// caller's own (Run, Step) or a background goroutine (Start, RunUpTo).
// Only Stop, Step, and read-only queries may be invoked from outside
// the loop while it is running; scheduling calls made from within an
// executing action are the expected path.
//
// The event list and clock are never shared across engines: each
// replication gets its own engine, which eliminates cross-run
// interference by construction.
type Engine[T TimeValue[T]] struct {
	Producer[T]

	name string
	id   string

	list  EventList[T]
	model Model[T]
	run   Run[T]

	// runMu serializes run loop segments so events never execute
	// concurrently with each other.
	runMu sync.Mutex

	mu          sync.Mutex
	cond        *sync.Cond
	state       RunState
	now         T
	runUntil    T
	runErr      error
	replStarted bool
	endReached  bool
	pauseEvent  *SimEvent[T]

	initialActions []Action

	stopRequested atomic.Bool

	// inNotify counts nested notification deliveries, so a handler
	// that triggers a further publication (Stop publishes a state
	// change) stays guarded until the outermost delivery returns.
	inNotify atomic.Int32
}

// NewEngine creates an engine around the given event list. A nil list
// selects the heap-backed default.
func NewEngine[T TimeValue[T]](name string, list EventList[T]) *Engine[T] {
	if list == nil {
		list = NewEventListHeap[T]()
	}

	e := &Engine[T]{
		name: name,
		id:   xid.New().String(),
		list: list,
	}
	e.cond = sync.NewCond(&e.mu)

	return e
}

// Name returns the name of the engine.
func (e *Engine[T]) Name() string {
	return e.name
}

// ID returns the unique ID of the engine.
func (e *Engine[T]) ID() string {
	return e.id
}

// Now returns the current simulated time. Before Initialize it returns
// the zero value of the time representation.
func (e *Engine[T]) Now() T {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.now
}

// NowFloat returns the current simulated time in the representation's
// native numeric unit.
func (e *Engine[T]) NowFloat() float64 {
	return e.Now().Float()
}

// State returns the current run state.
func (e *Engine[T]) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Pending returns the number of live events on the event list.
func (e *Engine[T]) Pending() int {
	return e.list.Len()
}

// List returns the event list used by this engine.
func (e *Engine[T]) List() EventList[T] {
	return e.list
}

// AddInitialAction registers an action to run at the end of Initialize,
// after the model's construction hook. It allows scheduling work to be
// set up before the engine is initialized. Once the engine is
// initialized the call is rejected.
func (e *Engine[T]) AddInitialAction(a Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateNotInitialized {
		return fmt.Errorf("cannot add initial action: %w", ErrIllegalState)
	}

	e.initialActions = append(e.initialActions, a)

	return nil
}

// Initialize binds a fresh clock and the event list to the given
// replication's start time and invokes the model's construction hook.
// Re-initializing an already initialized engine fails with
// ErrAlreadyInitialized; callers must build a new engine and
// replication pair instead.
func (e *Engine[T]) Initialize(model Model[T], run Run[T]) error {
	if model == nil || run == nil {
		return errors.New("model and run must not be nil")
	}

	e.mu.Lock()
	if e.state != StateNotInitialized {
		e.mu.Unlock()

		return fmt.Errorf("engine %s: %w", e.name, ErrAlreadyInitialized)
	}

	e.model = model
	e.run = run
	e.now = run.StartTime()
	e.runUntil = run.EndTime()
	e.mu.Unlock()

	e.list.Clear()
	e.transition(StateInitialized)

	if err := e.scheduleInternalEvents(run); err != nil {
		return err
	}

	if err := model.ConstructModel(e); err != nil {
		return fmt.Errorf("constructing model: %w", err)
	}

	for _, a := range e.initialActions {
		if err := a(); err != nil {
			return fmt.Errorf("running initial action: %w", err)
		}
	}

	return nil
}

// scheduleInternalEvents places the end-of-run and warmup bookkeeping
// events. Both carry a priority above the model range, so at their time
// they fire before any same-time model action: an action scheduled
// exactly at the end time never executes.
func (e *Engine[T]) scheduleInternalEvents(run Run[T]) error {
	if end := run.EndTime(); !end.IsNever() {
		evt := NewSimEvent(end, internalPriority, e.endRunAction)
		if err := e.list.Add(evt); err != nil {
			return fmt.Errorf("scheduling end of run: %w", err)
		}
	}

	if warmup := run.WarmupTime(); !warmup.IsNever() {
		evt := NewSimEvent(warmup, internalPriority, e.warmupAction)
		if err := e.list.Add(evt); err != nil {
			return fmt.Errorf("scheduling warmup: %w", err)
		}
	}

	return nil
}

func (e *Engine[T]) endRunAction() error {
	e.mu.Lock()
	e.endReached = true
	e.mu.Unlock()

	return nil
}

func (e *Engine[T]) warmupAction() error {
	e.mu.Lock()
	t := e.now
	e.mu.Unlock()

	e.notifyAt(KindWarmup, t, nil)

	return nil
}

// ScheduleAt schedules action at absolute time t.
func (e *Engine[T]) ScheduleAt(
	t T,
	priority int,
	action Action,
) (*SimEvent[T], error) {
	if e.inNotify.Load() > 0 {
		return nil, ErrReentrantSchedule
	}

	e.mu.Lock()
	state := e.state
	now := e.now
	e.mu.Unlock()

	switch state {
	case StateNotInitialized:
		return nil, fmt.Errorf("cannot schedule: %w", ErrNotInitialized)
	case StateEnded:
		return nil, fmt.Errorf("cannot schedule: %w", ErrAlreadyEnded)
	case StateStopped:
		return nil, fmt.Errorf(
			"cannot schedule on a stopped engine: %w", ErrIllegalState)
	}

	if t.Less(now) {
		return nil, fmt.Errorf("time %v is before current time %v: %w",
			t, now, ErrInvalidSchedule)
	}

	evt := NewSimEvent(t, priority, action)
	if err := e.list.Add(evt); err != nil {
		return nil, err
	}

	return evt, nil
}

// ScheduleAfter schedules action a non-negative delay after the current
// simulated time.
func (e *Engine[T]) ScheduleAfter(
	delay T,
	priority int,
	action Action,
) (*SimEvent[T], error) {
	var zero T
	if delay.Less(zero) {
		return nil, fmt.Errorf("negative delay %v: %w",
			delay, ErrInvalidSchedule)
	}

	return e.ScheduleAt(e.Now().Add(delay), priority, action)
}

// ScheduleNow schedules action at the current simulated time.
func (e *Engine[T]) ScheduleNow(
	priority int,
	action Action,
) (*SimEvent[T], error) {
	return e.ScheduleAt(e.Now(), priority, action)
}

// Cancel marks a previously scheduled event so that it never executes.
// Cancelling a fired or already cancelled event is a no-op.
func (e *Engine[T]) Cancel(evt *SimEvent[T]) {
	if evt != nil {
		evt.Cancel()
	}
}

// Start begins or resumes the run loop on a background goroutine and
// returns immediately. The loop runs until the replication ends or Stop
// is called; Wait blocks until then and reports the loop's error.
func (e *Engine[T]) Start() error {
	if err := e.prepareStart(); err != nil {
		return err
	}

	go e.runSegment()

	return nil
}

// Run drives the replication synchronously: it starts the run loop and
// blocks until it suspends or the replication ends.
func (e *Engine[T]) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	return e.Wait()
}

// RunUpTo starts the run loop and suspends it when the clock reaches t,
// with events scheduled exactly at t left unexecuted. The engine stops
// rather than ends, so it can be resumed.
func (e *Engine[T]) RunUpTo(t T) error {
	return e.startUpTo(t, false)
}

// RunUpToIncluding behaves like RunUpTo but executes the events
// scheduled exactly at t before suspending.
func (e *Engine[T]) RunUpToIncluding(t T) error {
	return e.startUpTo(t, true)
}

func (e *Engine[T]) startUpTo(t T, including bool) error {
	if t.Less(e.Now()) {
		return fmt.Errorf("run-up-to time %v is before current time: %w",
			t, ErrInvalidSchedule)
	}

	if err := e.prepareStart(); err != nil {
		return err
	}

	prio := internalPriority
	if including {
		prio = pausePriority
	}

	evt := NewSimEvent(t, prio, e.pauseAction)
	if err := e.list.Add(evt); err != nil {
		e.transition(StateStopped)

		return fmt.Errorf("run-up-to time: %w", err)
	}

	e.mu.Lock()
	e.pauseEvent = evt
	e.runUntil = t
	e.mu.Unlock()

	go e.runSegment()

	return nil
}

func (e *Engine[T]) pauseAction() error {
	e.mu.Lock()
	e.pauseEvent = nil
	e.mu.Unlock()

	e.stopRequested.Store(true)

	return nil
}

// prepareStart validates the control state and moves the engine to
// STARTING. A pause boundary left over from an interrupted run-up-to
// segment is cancelled, so a full Start does not stop at a stale time.
func (e *Engine[T]) prepareStart() error {
	e.mu.Lock()

	from := e.state
	switch from {
	case StateInitialized, StateStopped:
	case StateNotInitialized:
		e.mu.Unlock()

		return fmt.Errorf("cannot start: %w", ErrNotInitialized)
	case StateEnded:
		e.mu.Unlock()

		return fmt.Errorf("cannot start: %w", ErrAlreadyEnded)
	default:
		e.mu.Unlock()

		return fmt.Errorf("cannot start while %s: %w", from, ErrIllegalState)
	}
	e.state = StateStarting
	e.runErr = nil
	stale := e.pauseEvent
	e.pauseEvent = nil
	e.runUntil = e.run.EndTime()
	e.cond.Broadcast()
	e.mu.Unlock()

	if stale != nil {
		stale.Cancel()
	}

	e.stopRequested.Store(false)
	e.notify(KindStateChanged, StateChange{From: from, To: StateStarting})

	return nil
}

// Stop requests the run loop to suspend. The loop finishes the
// in-flight event first; the engine is STOPPED once it acknowledges.
// Wait can be used to block until then.
func (e *Engine[T]) Stop() error {
	e.mu.Lock()
	if e.state != StateStarting && e.state != StateRunning {
		defer e.mu.Unlock()

		return fmt.Errorf("cannot stop while %s: %w", e.state, ErrIllegalState)
	}

	from := e.state
	e.state = StateStopping
	e.cond.Broadcast()
	e.mu.Unlock()

	e.stopRequested.Store(true)
	e.notify(KindStateChanged, StateChange{From: from, To: StateStopping})

	return nil
}

// Step executes exactly one pending event and re-suspends. It is legal
// only while the loop is suspended (INITIALIZED or STOPPED). A failure
// raised by the executed action is returned as a ModelExecutionError.
func (e *Engine[T]) Step() error {
	e.mu.Lock()
	st := e.state
	switch st {
	case StateInitialized, StateStopped:
	case StateNotInitialized:
		e.mu.Unlock()

		return fmt.Errorf("cannot step: %w", ErrNotInitialized)
	case StateEnded:
		e.mu.Unlock()

		return fmt.Errorf("cannot step: %w", ErrAlreadyEnded)
	default:
		e.mu.Unlock()

		return fmt.Errorf("cannot step while %s: %w", st, ErrIllegalState)
	}
	e.mu.Unlock()

	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.markReplicationStarted()
	e.transition(StateRunning)

	err := e.executeOne()

	e.mu.Lock()
	ended := e.endReached
	e.mu.Unlock()

	switch {
	case errors.Is(err, ErrEmptyList):
		e.jumpToRunUntil()
		e.finishEnded()

		return nil
	case err != nil:
		e.failStopped(err)

		return err
	case ended:
		e.finishEnded()

		return nil
	default:
		e.transition(StateStopped)

		return nil
	}
}

// Wait blocks until the run loop is suspended or the replication has
// ended, and returns the error that halted the loop, if any.
func (e *Engine[T]) Wait() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for e.state == StateStarting ||
		e.state == StateRunning ||
		e.state == StateStopping {
		e.cond.Wait()
	}

	return e.runErr
}

// runSegment is the run loop body for one start-to-suspend segment.
func (e *Engine[T]) runSegment() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.stopRequested.Load() {
		e.transition(StateStopped)

		return
	}

	e.markReplicationStarted()
	e.transition(StateRunning)
	e.notify(KindRunStarted, nil)

	for {
		if e.stopRequested.Load() {
			e.transition(StateStopped)

			return
		}

		err := e.executeOne()

		switch {
		case errors.Is(err, ErrEmptyList):
			e.jumpToRunUntil()
			e.finishEnded()

			return
		case err != nil:
			e.failStopped(err)

			return
		}

		e.mu.Lock()
		ended := e.endReached
		e.mu.Unlock()

		if ended {
			e.finishEnded()

			return
		}
	}
}

// executeOne pops the minimum action, advances the clock to its time,
// and executes it.
func (e *Engine[T]) executeOne() error {
	evt, err := e.list.PopFirst()
	if err != nil {
		return err
	}

	t := evt.Time()

	e.mu.Lock()
	moved := e.now.Less(t)
	if moved {
		e.now = t
	}
	e.mu.Unlock()

	if moved {
		e.notifyAt(KindTimeAdvanced, t, nil)
	}

	return e.invoke(evt)
}

// invoke runs the event's action, converting returned errors and
// recovered panics into ModelExecutionError values.
func (e *Engine[T]) invoke(evt *SimEvent[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ModelExecutionError{
				Time:    evt.Time().Float(),
				EventID: evt.ID(),
				Err:     fmt.Errorf("action panicked: %v", r),
			}
		}
	}()

	if aerr := evt.action(); aerr != nil {
		return &ModelExecutionError{
			Time:    evt.Time().Float(),
			EventID: evt.ID(),
			Err:     aerr,
		}
	}

	return nil
}

func (e *Engine[T]) markReplicationStarted() {
	e.mu.Lock()
	first := !e.replStarted
	e.replStarted = true
	t := e.now
	e.mu.Unlock()

	if first {
		e.notifyAt(KindReplicationStarted, t, nil)
	}
}

// jumpToRunUntil advances the clock to the run-until boundary when the
// event list is exhausted before reaching it.
func (e *Engine[T]) jumpToRunUntil() {
	e.mu.Lock()
	target := e.runUntil
	moved := !target.IsNever() && e.now.Less(target)
	if moved {
		e.now = target
	}
	e.mu.Unlock()

	if moved {
		e.notifyAt(KindTimeAdvanced, target, nil)
	}
}

// finishEnded moves the engine to the terminal state. The event list is
// cleared: no further scheduling is permitted.
func (e *Engine[T]) finishEnded() {
	e.list.Clear()
	e.transition(StateEnded)

	e.mu.Lock()
	t := e.now
	e.mu.Unlock()

	e.notifyAt(KindRunEnded, t, nil)
	e.notifyAt(KindReplicationEnded, t, nil)
}

// failStopped records the model failure and suspends the loop, leaving
// the event list intact for post-mortem inspection.
func (e *Engine[T]) failStopped(err error) {
	e.mu.Lock()
	e.runErr = err
	t := e.now
	e.mu.Unlock()

	e.notifyAt(KindModelError, t, ModelFailure{Err: err})
	e.transition(StateStopped)
}

// transition moves the engine to the given state and publishes the
// change.
func (e *Engine[T]) transition(to RunState) {
	e.mu.Lock()
	from := e.state
	e.state = to
	t := e.now
	e.cond.Broadcast()
	e.mu.Unlock()

	if from != to {
		e.notifyAt(KindStateChanged, t, StateChange{From: from, To: to})
	}
}

func (e *Engine[T]) notify(kind *NotificationKind, detail any) {
	e.mu.Lock()
	t := e.now
	e.mu.Unlock()

	e.notifyAt(kind, t, detail)
}

// notifyAt publishes a notification. Scheduling calls made while the
// notification is being delivered are rejected with
// ErrReentrantSchedule.
func (e *Engine[T]) notifyAt(kind *NotificationKind, t T, detail any) {
	e.inNotify.Add(1)
	e.fire(Notification[T]{Kind: kind, Time: t, Detail: detail})
	e.inNotify.Add(-1)
}
