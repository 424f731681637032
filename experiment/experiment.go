package experiment

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dsolab/devsim/sim"
)

// An Observer consumes the notifications of every replication in an
// experiment, typically to collect statistics. Reset is called before
// each replication starts and must be idempotent, so observations never
// leak from one replication into the next.
type Observer[T sim.TimeValue[T]] interface {
	sim.Listener[T]

	Reset(r *Replication[T])
}

// A ModelFactory builds a fresh model instance for one replication. The
// replication carries the seed the model should draw its random streams
// from.
type ModelFactory[T sim.TimeValue[T]] func(r *Replication[T]) sim.Model[T]

// A Result summarizes one completed replication.
type Result struct {
	ReplicationID string
	Number        int
	Seed          int64

	// EndTime is the simulated time at which the replication ended,
	// in the time representation's native numeric unit.
	EndTime float64

	// Err is the ModelExecutionError that halted the replication, or
	// nil if it ran to completion.
	Err error
}

// An Experiment sequences multiple replications of the same model. Each
// replication runs on a fresh engine that is discarded afterwards, and
// observers are reset in between, so replications differ only in their
// seeds.
type Experiment[T sim.TimeValue[T]] struct {
	name         string
	control      *RunControl[T]
	replications int
	baseSeed     int64

	continueOnError bool

	newModel   ModelFactory[T]
	observers  []Observer[T]
	engineHook func(e *sim.Engine[T])

	log *logrus.Entry
}

// New creates an experiment that runs the model produced by newModel
// for the given number of replications.
func New[T sim.TimeValue[T]](
	name string,
	control *RunControl[T],
	replications int,
	baseSeed int64,
	newModel ModelFactory[T],
) *Experiment[T] {
	return &Experiment[T]{
		name:         name,
		control:      control,
		replications: replications,
		baseSeed:     baseSeed,
		newModel:     newModel,
		log:          logrus.WithField("experiment", name),
	}
}

// WithContinueOnError makes the experiment record a failing replication
// and continue with the next one, instead of aborting.
func (x *Experiment[T]) WithContinueOnError() *Experiment[T] {
	x.continueOnError = true

	return x
}

// WithEngineHook registers a function that is called with the fresh
// engine of each replication before it is initialized. It is meant for
// wiring the engine to external tooling such as a monitoring server.
func (x *Experiment[T]) WithEngineHook(
	hook func(e *sim.Engine[T]),
) *Experiment[T] {
	x.engineHook = hook

	return x
}

// AddObserver subscribes an observer to every replication of the
// experiment.
func (x *Experiment[T]) AddObserver(o Observer[T]) {
	x.observers = append(x.observers, o)
}

// Run executes all replications in order and returns their results. A
// replication halted by a ModelExecutionError is recorded in its
// result; unless the experiment was configured to continue on error,
// Run stops there and returns the error.
func (x *Experiment[T]) Run() ([]Result, error) {
	results := make([]Result, 0, x.replications)

	for n := 0; n < x.replications; n++ {
		repl := NewReplication(n, x.control, deriveSeed(x.baseSeed, n))

		log := x.log.WithFields(logrus.Fields{
			"replication": n,
			"seed":        repl.Seed(),
		})
		log.Info("starting replication")

		result, err := x.runReplication(repl)
		results = append(results, result)

		if err != nil {
			var mee *sim.ModelExecutionError
			if errors.As(err, &mee) && x.continueOnError {
				log.WithError(err).Warn("replication failed, continuing")

				continue
			}

			log.WithError(err).Error("replication failed")

			return results, err
		}

		log.WithField("endTime", result.EndTime).Info("replication ended")
	}

	return results, nil
}

// runReplication drives one replication on a fresh engine in
// synchronous mode: initialize, run, collect, discard.
func (x *Experiment[T]) runReplication(repl *Replication[T]) (Result, error) {
	result := Result{
		ReplicationID: repl.ID(),
		Number:        repl.Number(),
		Seed:          repl.Seed(),
	}

	engineName := fmt.Sprintf("%s-%d", x.name, repl.Number())
	engine := sim.NewEngine[T](engineName, nil)

	if x.engineHook != nil {
		x.engineHook(engine)
	}

	for _, o := range x.observers {
		o.Reset(repl)
		engine.SubscribeAll(o)
	}

	model := x.newModel(repl)
	if err := engine.Initialize(model, repl); err != nil {
		result.Err = err

		return result, fmt.Errorf("replication %d: %w", repl.Number(), err)
	}

	err := engine.Run()
	result.EndTime = engine.NowFloat()

	if err != nil {
		result.Err = err

		return result, err
	}

	return result, nil
}

// deriveSeed spreads the experiment's base seed into one independent
// seed per replication (splitmix64 finalizer).
func deriveSeed(base int64, n int) int64 {
	z := uint64(base) + uint64(n+1)*0x9E3779B97F4A7C15
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31

	return int64(z)
}
