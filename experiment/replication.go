package experiment

import (
	"github.com/rs/xid"

	"github.com/dsolab/devsim/sim"
)

// A Replication is one independent, seeded execution of a model: it
// carries the shared RunControl plus the seed that makes this trial
// distinct. A Replication owns exactly one engine lifetime; it is
// created before a run and discarded after, never reused, so reruns
// always start from a clean event list and clock.
//
// The kernel does not generate randomness itself; the seed is an opaque
// value handed to the model.
type Replication[T sim.TimeValue[T]] struct {
	id      string
	number  int
	control *RunControl[T]
	seed    int64
}

// NewReplication creates replication number n of an experiment.
func NewReplication[T sim.TimeValue[T]](
	n int,
	control *RunControl[T],
	seed int64,
) *Replication[T] {
	return &Replication[T]{
		id:      xid.New().String(),
		number:  n,
		control: control,
		seed:    seed,
	}
}

// NewSingleReplication creates a stand-alone replication, useful for
// demonstrations, tests, and models where stochasticity does not play a
// major role.
func NewSingleReplication[T sim.TimeValue[T]](
	name string,
	startTime, warmup, runLength T,
	seed int64,
) (*Replication[T], error) {
	control, err := NewRunControl(name, startTime, warmup, runLength)
	if err != nil {
		return nil, err
	}

	return NewReplication(0, control, seed), nil
}

// ID returns the unique ID of the replication.
func (r *Replication[T]) ID() string {
	return r.id
}

// Number returns the index of the replication within its experiment.
func (r *Replication[T]) Number() int {
	return r.number
}

// Control returns the RunControl shared by the experiment.
func (r *Replication[T]) Control() *RunControl[T] {
	return r.control
}

// Seed returns the random seed of this replication.
func (r *Replication[T]) Seed() int64 {
	return r.seed
}

// StartTime implements sim.Run.
func (r *Replication[T]) StartTime() T {
	return r.control.StartTime()
}

// WarmupTime implements sim.Run.
func (r *Replication[T]) WarmupTime() T {
	return r.control.WarmupTime()
}

// EndTime implements sim.Run.
func (r *Replication[T]) EndTime() T {
	return r.control.EndTime()
}
