// Package experiment sets up and carries out simulation experiments: a
// RunControl fixes the time frame of a model run, a Replication is one
// independently seeded execution of the model over that time frame, and
// an Experiment sequences multiple replications with a fresh engine
// per replication so no state leaks between runs.
package experiment

import (
	"fmt"

	"github.com/dsolab/devsim/sim"
)

// A RunControl holds the start time, warmup period, and run length of a
// model run. Multiple replications of the same experiment share one
// RunControl; only their seeds differ.
type RunControl[T sim.TimeValue[T]] struct {
	name      string
	startTime T
	warmup    T
	runLength T
}

// NewRunControl creates a RunControl. The warmup period and run length
// are relative to the start time. A never run length produces an
// open-ended run that only ends when the event list is exhausted.
func NewRunControl[T sim.TimeValue[T]](
	name string,
	startTime, warmup, runLength T,
) (*RunControl[T], error) {
	var zero T

	if warmup.Less(zero) {
		return nil, fmt.Errorf("warmup period %v must not be negative", warmup)
	}

	if runLength.Less(zero) {
		return nil, fmt.Errorf("run length %v must not be negative", runLength)
	}

	if !runLength.IsNever() && runLength.Less(warmup) {
		return nil, fmt.Errorf("warmup period %v exceeds run length %v",
			warmup, runLength)
	}

	return &RunControl[T]{
		name:      name,
		startTime: startTime,
		warmup:    warmup,
		runLength: runLength,
	}, nil
}

// Name returns the identifying name of the RunControl.
func (rc *RunControl[T]) Name() string {
	return rc.name
}

// StartTime returns the absolute start time of the run.
func (rc *RunControl[T]) StartTime() T {
	return rc.startTime
}

// WarmupPeriod returns the warmup period relative to the start time.
func (rc *RunControl[T]) WarmupPeriod() T {
	return rc.warmup
}

// RunLength returns the run length relative to the start time.
func (rc *RunControl[T]) RunLength() T {
	return rc.runLength
}

// WarmupTime returns the absolute time at which the warmup period has
// passed.
func (rc *RunControl[T]) WarmupTime() T {
	return rc.startTime.Add(rc.warmup)
}

// EndTime returns the absolute time at which the run ends, or the never
// sentinel for an open-ended run.
func (rc *RunControl[T]) EndTime() T {
	return rc.startTime.Add(rc.runLength)
}
