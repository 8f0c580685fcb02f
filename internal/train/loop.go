// Package train runs the supervised training loop over pre-built batches.
package train

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/born-ml/digits/internal/batch"
)

var (
	// ErrBusy is returned when Run is called while a run is in progress.
	ErrBusy = errors.New("training loop is already running")

	// ErrFailed is returned when Run is called on a loop whose earlier run failed.
	ErrFailed = errors.New("training loop failed earlier and cannot be resumed")
)

// Model is the boundary between the loop and the compute backend.
type Model interface {
	// TrainStep runs forward, loss, backward and one parameter update on b,
	// returning the batch loss.
	TrainStep(b *batch.Batch) (float32, error)

	// Predict returns one probability row per sample in b.
	Predict(b *batch.Batch) ([][]float32, error)
}

// State of a Loop.
type State int

// Loop states.
const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Step describes one finished training step.
type Step struct {
	Epoch    int // Starting from 0, incremented by every completed Run.
	Index    int // Batch index within the epoch.
	Total    int // Number of batches in the epoch.
	Loss     float32
	Duration time.Duration
}

// OnStepFn is called after every training step.
type OnStepFn func(loop *Loop, step Step) error

// OnEndFn is called after a completed pass over all batches.
type OnEndFn func(loop *Loop) error

type hookWithName[F any] struct {
	name string
	fn   F
}

// Loop trains a Model one batch at a time, calling registered hooks after
// every step. It moves Idle -> Running -> Completed, or to Failed when a step
// or hook returns an error. Run may be called again from Completed to train
// another epoch.
type Loop struct {
	model Model

	mu    sync.Mutex
	state State
	epoch int

	losses    []float64
	durations []time.Duration

	onStep []hookWithName[OnStepFn]
	onEnd  []hookWithName[OnEndFn]
}

// NewLoop creates an idle loop for model.
func NewLoop(model Model) *Loop {
	return &Loop{model: model}
}

// OnStep registers a hook called after each step, in registration order.
func (loop *Loop) OnStep(name string, fn OnStepFn) {
	loop.onStep = append(loop.onStep, hookWithName[OnStepFn]{name, fn})
}

// OnEnd registers a hook called after each completed pass.
func (loop *Loop) OnEnd(name string, fn OnEndFn) {
	loop.onEnd = append(loop.onEnd, hookWithName[OnEndFn]{name, fn})
}

// State returns the current state.
func (loop *Loop) State() State {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	return loop.state
}

// Epoch returns the number of completed passes.
func (loop *Loop) Epoch() int {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	return loop.epoch
}

func (loop *Loop) begin() error {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	switch loop.state {
	case Running:
		return ErrBusy
	case Failed:
		return ErrFailed
	}
	loop.state = Running
	return nil
}

func (loop *Loop) finish(err error) {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	if err != nil {
		loop.state = Failed
		return
	}
	loop.state = Completed
	loop.epoch++
}

// Run trains on every batch in order. The first error from the model, a
// hook or ctx aborts the run, moves the loop to Failed and is returned.
// Nothing is retried.
func (loop *Loop) Run(ctx context.Context, batches []*batch.Batch) (err error) {
	if err := loop.begin(); err != nil {
		return err
	}
	defer func() { loop.finish(err) }()

	epoch := loop.Epoch()
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "epoch %d interrupted before batch %d", epoch, i)
		}
		start := time.Now()
		loss, err := loop.model.TrainStep(b)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d, batch %d/%d", epoch, i, len(batches))
		}
		step := Step{
			Epoch:    epoch,
			Index:    i,
			Total:    len(batches),
			Loss:     loss,
			Duration: time.Since(start),
		}
		loop.record(step)
		klog.V(2).Infof("train: epoch %d batch %d/%d loss=%.4f (%s)", epoch, i+1, len(batches), loss, step.Duration)
		for _, hook := range loop.onStep {
			if err := hook.fn(loop, step); err != nil {
				return errors.WithMessagef(err, "OnStep(%q) after batch %d", hook.name, i)
			}
		}
	}
	for _, hook := range loop.onEnd {
		if err := hook.fn(loop); err != nil {
			return errors.WithMessagef(err, "OnEnd(%q)", hook.name)
		}
	}
	return nil
}

func (loop *Loop) record(step Step) {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	loop.losses = append(loop.losses, float64(step.Loss))
	loop.durations = append(loop.durations, step.Duration)
}

// Stats summarises all steps run so far.
type Stats struct {
	Steps          int
	MeanLoss       float64
	StdDevLoss     float64
	LastLoss       float64
	MedianDuration time.Duration
}

// Stats returns statistics over every step of every run.
func (loop *Loop) Stats() Stats {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	s := Stats{Steps: len(loop.losses)}
	if s.Steps == 0 {
		return s
	}
	s.MeanLoss, s.StdDevLoss = stat.MeanStdDev(loop.losses, nil)
	if s.Steps == 1 {
		s.StdDevLoss = 0
	}
	s.LastLoss = loop.losses[s.Steps-1]
	durations := slices.Clone(loop.durations)
	slices.Sort(durations)
	s.MedianDuration = durations[len(durations)/2]
	return s
}
