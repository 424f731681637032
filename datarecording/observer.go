package datarecording

import (
	"github.com/dsolab/devsim/experiment"
	"github.com/dsolab/devsim/sim"
)

// notificationTable is the table that run observations are written to.
const notificationTable = "notifications"

// A NotificationEntry is one recorded notification row.
type NotificationEntry struct {
	ReplicationID string
	Replication   int
	Seed          int64
	Time          float64
	Kind          string
	Detail        string
}

// A ReplicationObserver records every notification of every replication
// of an experiment into a Recorder, tagged with the replication it
// belongs to. It implements experiment.Observer.
type ReplicationObserver[T sim.TimeValue[T]] struct {
	recorder Recorder

	current *experiment.Replication[T]
}

// NewReplicationObserver creates an observer writing into recorder.
func NewReplicationObserver[T sim.TimeValue[T]](
	recorder Recorder,
) (*ReplicationObserver[T], error) {
	err := recorder.CreateTable(notificationTable, NotificationEntry{})
	if err != nil {
		return nil, err
	}

	return &ReplicationObserver[T]{recorder: recorder}, nil
}

// Reset binds the observer to the upcoming replication.
func (o *ReplicationObserver[T]) Reset(r *experiment.Replication[T]) {
	o.current = r
}

// Notify records one notification.
func (o *ReplicationObserver[T]) Notify(n sim.Notification[T]) {
	if o.current == nil {
		return
	}

	entry := NotificationEntry{
		ReplicationID: o.current.ID(),
		Replication:   o.current.Number(),
		Seed:          o.current.Seed(),
		Time:          n.Time.Float(),
		Kind:          n.Kind.Name,
	}

	switch d := n.Detail.(type) {
	case sim.StateChange:
		entry.Detail = d.From.String() + " -> " + d.To.String()
	case sim.ModelFailure:
		entry.Detail = d.Err.Error()
	}

	// A full recorder buffer is flushed inside InsertData; a write
	// failure there must not tear down the run loop.
	_ = o.recorder.InsertData(notificationTable, entry)
}
