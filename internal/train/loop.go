// Package train runs the training loop: sample a batch, evaluate the loss
// and gradient, let the optimizer step, apply the new parameters and record
// the loss, until the run converges, exhausts its budget or is interrupted.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/secantfit/internal/data"
	"github.com/cwbudde/secantfit/internal/opt"
)

// State is the state of a training run.
type State string

const (
	StateRunning     State = "running"
	StateConverged   State = "converged"
	StateMaxIters    State = "max_iters_reached"
	StateInterrupted State = "interrupted"
	StateFailed      State = "failed"
)

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s != StateRunning
}

// GradientOracle is the model contract the loop depends on.
type GradientOracle interface {
	NParams() int
	Parameters() []float64
	SetParameters(params []float64) error
	Evaluate(params []float64, batch data.Batch) (float64, []float64, error)
	Loss(params []float64, batch data.Batch) (float64, error)
}

// BatchSource yields training batches.
type BatchSource interface {
	Next() data.Batch
}

// Config controls a training run.
type Config struct {
	// MaxIters is the iteration budget.
	MaxIters int `json:"maxIters"`

	// Convergence configures early stopping on small loss changes.
	Convergence ConvergenceConfig `json:"convergence"`

	// MaxLineSearchFailures is the number of consecutive failed line searches
	// tolerated before the run is aborted.
	MaxLineSearchFailures int `json:"maxLineSearchFailures"`

	// LogEvery logs progress every N iterations (0 disables).
	LogEvery int `json:"logEvery"`
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		MaxIters:              1000,
		Convergence:           DefaultConvergenceConfig(),
		MaxLineSearchFailures: 10,
		LogEvery:              100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxIters <= 0 {
		return fmt.Errorf("maxIters must be positive, got %d", c.MaxIters)
	}
	if c.Convergence.Tolerance < 0 || math.IsNaN(c.Convergence.Tolerance) {
		return fmt.Errorf("convergence tolerance must not be negative, got %g", c.Convergence.Tolerance)
	}
	if c.MaxLineSearchFailures < 0 {
		return fmt.Errorf("maxLineSearchFailures must not be negative, got %d", c.MaxLineSearchFailures)
	}
	return nil
}

// StepInfo describes one completed iteration.
type StepInfo struct {
	Iteration        int
	Loss             float64
	Params           []float64
	LineSearchFailed bool
}

// Result holds the outcome of a training run. Params and LossHistory always
// reflect the last fully applied iteration.
type Result struct {
	State              State         `json:"state"`
	Params             []float64     `json:"params"`
	LossHistory        []float64     `json:"lossHistory"`
	Iterations         int           `json:"iterations"`
	InitialLoss        float64       `json:"initialLoss"`
	FinalLoss          float64       `json:"finalLoss"`
	LineSearchFailures int           `json:"lineSearchFailures"`
	Stats              opt.Stats     `json:"stats"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Loop runs training iterations.
type Loop struct {
	cfg       Config
	observers []func(StepInfo)
}

// NewLoop creates a training loop.
func NewLoop(cfg Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loop{cfg: cfg}, nil
}

// OnStep registers fn to be called after every applied iteration. Observers
// run on the training goroutine and must not retain StepInfo.Params.
func (l *Loop) OnStep(fn func(StepInfo)) {
	l.observers = append(l.observers, fn)
}

// Run trains model with optimizer o on batches from src until a terminal
// state is reached. Cancelling ctx interrupts the run between iterations and
// returns a nil error with State == StateInterrupted.
//
// Fatal per-step errors (invalid descent direction, numerical instability,
// model errors, too many failed line searches) end the run with
// StateFailed; the returned Result still holds the last valid parameters.
func (l *Loop) Run(ctx context.Context, model GradientOracle, src BatchSource, o opt.Optimizer) (*Result, error) {
	start := time.Now()
	res := &Result{
		State:  StateRunning,
		Params: model.Parameters(),
	}
	tracker := NewConvergenceTracker(l.cfg.Convergence)
	failures := 0

	finish := func(state State) {
		res.State = state
		res.Stats = o.Stats()
		res.Elapsed = time.Since(start)
		if n := len(res.LossHistory); n > 0 {
			res.InitialLoss = res.LossHistory[0]
			res.FinalLoss = res.LossHistory[n-1]
		}
	}
	fail := func(err error) (*Result, error) {
		finish(StateFailed)
		slog.Error("Training failed", "iteration", res.Iterations, "error", err)
		return res, fmt.Errorf("iteration %d: %w", res.Iterations, err)
	}

	slog.Info("Starting training", "optimizer", o.Kind(), "nparams", model.NParams(), "max_iters", l.cfg.MaxIters)

	for res.Iterations < l.cfg.MaxIters {
		select {
		case <-ctx.Done():
			finish(StateInterrupted)
			slog.Info("Training interrupted", "iteration", res.Iterations)
			return res, nil
		default:
		}

		batch := src.Next()
		params := res.Params

		loss, grad, err := model.Evaluate(params, batch)
		if err != nil {
			return fail(fmt.Errorf("evaluate: %w", err))
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return fail(fmt.Errorf("loss is %g: %w", loss, opt.ErrNumericalInstability))
		}

		objective := func(x []float64) float64 {
			v, err := model.Loss(x, batch)
			if err != nil {
				return math.NaN()
			}
			return v
		}

		lineSearchFailed := false
		next, err := o.Step(params, grad, objective)
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, opt.ErrLineSearchFailed):
			lineSearchFailed = true
			failures++
			res.LineSearchFailures++
			slog.Warn("Line search failed, keeping parameters",
				"iteration", res.Iterations,
				"consecutive", failures,
				"error", err,
			)
			if failures > l.cfg.MaxLineSearchFailures {
				return fail(err)
			}
			next = params
		default:
			return fail(err)
		}

		if err := model.SetParameters(next); err != nil {
			return fail(fmt.Errorf("apply parameters: %w", err))
		}
		res.Params = next
		res.LossHistory = append(res.LossHistory, loss)
		res.Iterations++

		info := StepInfo{
			Iteration:        res.Iterations,
			Loss:             loss,
			Params:           next,
			LineSearchFailed: lineSearchFailed,
		}
		for _, fn := range l.observers {
			fn(info)
		}

		if l.cfg.LogEvery > 0 && res.Iterations%l.cfg.LogEvery == 0 {
			slog.Info("Training progress", "iteration", res.Iterations, "loss", loss)
		}

		if tracker.Update(loss) {
			finish(StateConverged)
			slog.Info("Training converged", "iterations", res.Iterations, "loss", loss)
			return res, nil
		}
	}

	finish(StateMaxIters)
	slog.Info("Training complete", "iterations", res.Iterations, "loss", res.FinalLoss, "best_loss", tracker.BestLoss(), "elapsed", res.Elapsed)
	return res, nil
}
