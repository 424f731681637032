package sim

import (
	"container/heap"
	"fmt"
	"sync"
)

// An EventList is a priority-ordered container of scheduled actions,
// keyed by (time asc, priority desc, sequence asc). Higher priority and
// earlier insertion both mean "fires sooner" at equal time, so events
// with the default priority pop in FIFO order.
type EventList[T TimeValue[T]] interface {
	// Add stores an event and assigns its sequence number. It fails
	// with ErrInvalidSchedule if the event time is strictly earlier
	// than the time of the last popped event.
	Add(e *SimEvent[T]) error

	// PeekFirst returns the first live event without removing it, or
	// ErrEmptyList if no live event remains.
	PeekFirst() (*SimEvent[T], error)

	// PopFirst removes and returns the first live event, or
	// ErrEmptyList if no live event remains. Cancelled events are
	// discarded silently on the way.
	PopFirst() (*SimEvent[T], error)

	// Remove eagerly deletes the event from the list and reports
	// whether it was present.
	Remove(e *SimEvent[T]) bool

	// Contains reports whether the event is stored on the list.
	Contains(e *SimEvent[T]) bool

	// Len returns the number of live events on the list.
	Len() int

	// Clear removes all events from the list.
	Clear()
}

// NewEventListHeap creates an empty heap-backed event list.
func NewEventListHeap[T TimeValue[T]]() *EventListHeap[T] {
	l := &EventListHeap[T]{}
	heap.Init(&l.events)

	return l
}

// EventListHeap is a thread safe event list backed by a binary heap.
// Events disappear only from the "front" of the list during a run, a
// pattern heaps handle well without rebalancing.
//
// Cancellation is mark-and-skip: a cancelled event stays on the heap
// until it surfaces at the top, where PopFirst and PeekFirst discard it.
type EventListHeap[T TimeValue[T]] struct {
	mu sync.Mutex

	events  eventHeap[T]
	nextSeq int64

	lastPopped T
	hasPopped  bool
}

// Add stores an event on the list.
func (l *EventListHeap[T]) Add(e *SimEvent[T]) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hasPopped && e.time.Less(l.lastPopped) {
		return fmt.Errorf("event time %v precedes last popped time %v: %w",
			e.time, l.lastPopped, ErrInvalidSchedule)
	}

	l.nextSeq++
	e.seq = l.nextSeq

	heap.Push(&l.events, e)

	return nil
}

// PeekFirst returns the first live event without removing it. Cancelled
// events found at the top of the heap are pruned.
func (l *EventListHeap[T]) PeekFirst() (*SimEvent[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.pruneCancelled()
	if e == nil {
		return nil, ErrEmptyList
	}

	return e, nil
}

// PopFirst removes and returns the first live event.
func (l *EventListHeap[T]) PopFirst() (*SimEvent[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.pruneCancelled()
	if e == nil {
		return nil, ErrEmptyList
	}

	heap.Pop(&l.events)
	l.lastPopped = e.time
	l.hasPopped = true

	return e, nil
}

// pruneCancelled discards cancelled events from the top of the heap and
// returns the first live event, or nil when none remains. Caller must
// hold l.mu.
func (l *EventListHeap[T]) pruneCancelled() *SimEvent[T] {
	for l.events.Len() > 0 {
		e := l.events[0]
		if !e.Cancelled() {
			return e
		}

		heap.Pop(&l.events)
	}

	return nil
}

// Remove eagerly deletes the event from the list.
func (l *EventListHeap[T]) Remove(e *SimEvent[T]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, stored := range l.events {
		if stored == e {
			heap.Remove(&l.events, i)

			return true
		}
	}

	return false
}

// Contains reports whether the event is stored on the list.
func (l *EventListHeap[T]) Contains(e *SimEvent[T]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, stored := range l.events {
		if stored == e {
			return true
		}
	}

	return false
}

// Len returns the number of live events on the list. Events cancelled
// after insertion stop counting as live.
func (l *EventListHeap[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.events {
		if !e.Cancelled() {
			n++
		}
	}

	return n
}

// Clear removes all events from the list. The past-time guard is reset
// as well, so a cleared list accepts any execution time again.
func (l *EventListHeap[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = l.events[:0]
	l.hasPopped = false
}

type eventHeap[T TimeValue[T]] []*SimEvent[T]

func (h eventHeap[T]) Len() int {
	return len(h)
}

// Less implements the (time asc, priority desc, sequence asc) order.
func (h eventHeap[T]) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time.Less(h[j].time)
	}

	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	return h[i].seq < h[j].seq
}

func (h eventHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap[T]) Push(x any) {
	*h = append(*h, x.(*SimEvent[T]))
}

func (h *eventHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}
