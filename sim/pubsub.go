package sim

import "sync"

// A NotificationKind identifies one type of engine notification.
type NotificationKind struct {
	Name string
}

// Notification kinds published by the engine. Delivery is synchronous
// and in order with respect to the run loop: a listener's handler
// completes before the loop proceeds, so statistics collectors see
// every time advance exactly once, in time order.
var (
	// KindTimeAdvanced is published when the clock moves forward to
	// the time of the action about to execute.
	KindTimeAdvanced = &NotificationKind{Name: "TimeAdvanced"}

	// KindStateChanged is published on every run state transition.
	// Detail carries a StateChange.
	KindStateChanged = &NotificationKind{Name: "StateChanged"}

	// KindRunStarted is published each time the run loop starts or
	// resumes executing a segment.
	KindRunStarted = &NotificationKind{Name: "RunStarted"}

	// KindRunEnded is published when the replication reaches its
	// terminal state.
	KindRunEnded = &NotificationKind{Name: "RunEnded"}

	// KindWarmup is published when the warmup period of the
	// replication has passed. Statistics collectors reset on it.
	KindWarmup = &NotificationKind{Name: "Warmup"}

	// KindReplicationStarted is published once, when the run loop
	// first starts executing the replication.
	KindReplicationStarted = &NotificationKind{Name: "ReplicationStarted"}

	// KindReplicationEnded is published once, together with
	// KindRunEnded, when the replication ends.
	KindReplicationEnded = &NotificationKind{Name: "ReplicationEnded"}

	// KindModelError is published when a scheduled action fails.
	// Detail carries a ModelFailure.
	KindModelError = &NotificationKind{Name: "ModelError"}
)

// A Notification is a time-stamped, typed message from the engine.
type Notification[T TimeValue[T]] struct {
	Kind *NotificationKind

	// Time is the simulated time at which the notification was
	// published.
	Time T

	// Detail carries kind-specific payload: a StateChange for
	// KindStateChanged, a ModelFailure for KindModelError, nil
	// otherwise.
	Detail any
}

// A StateChange is the detail of a KindStateChanged notification.
type StateChange struct {
	From RunState
	To   RunState
}

// A ModelFailure is the detail of a KindModelError notification.
type ModelFailure struct {
	Err error
}

// A Listener consumes notifications from a Producer.
type Listener[T TimeValue[T]] interface {
	Notify(n Notification[T])
}

// A Producer publishes typed notifications to subscribed listeners.
// Subscription and unsubscription are the only mutations supported from
// outside the run loop.
type Producer[T TimeValue[T]] struct {
	mu        sync.Mutex
	listeners map[*NotificationKind][]Listener[T]
	all       []Listener[T]
}

// Subscribe registers a listener for one notification kind.
func (p *Producer[T]) Subscribe(kind *NotificationKind, l Listener[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.listeners == nil {
		p.listeners = make(map[*NotificationKind][]Listener[T])
	}

	p.listeners[kind] = append(p.listeners[kind], l)
}

// SubscribeAll registers a listener for every notification kind.
func (p *Producer[T]) SubscribeAll(l Listener[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.all = append(p.all, l)
}

// Unsubscribe removes a listener previously registered for kind.
func (p *Producer[T]) Unsubscribe(kind *NotificationKind, l Listener[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listeners[kind] = removeListener(p.listeners[kind], l)
}

// UnsubscribeAll removes a listener registered with SubscribeAll.
func (p *Producer[T]) UnsubscribeAll(l Listener[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.all = removeListener(p.all, l)
}

// HasListeners reports whether any listener is subscribed.
func (p *Producer[T]) HasListeners() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.all) > 0 {
		return true
	}

	for _, ls := range p.listeners {
		if len(ls) > 0 {
			return true
		}
	}

	return false
}

// fire delivers the notification synchronously to all subscribers of
// its kind, in subscription order.
func (p *Producer[T]) fire(n Notification[T]) {
	p.mu.Lock()
	targets := make([]Listener[T], 0, len(p.all)+len(p.listeners[n.Kind]))
	targets = append(targets, p.all...)
	targets = append(targets, p.listeners[n.Kind]...)
	p.mu.Unlock()

	for _, l := range targets {
		l.Notify(n)
	}
}

func removeListener[T TimeValue[T]](
	ls []Listener[T],
	target Listener[T],
) []Listener[T] {
	for i, l := range ls {
		if l == target {
			return append(ls[:i:i], ls[i+1:]...)
		}
	}

	return ls
}
