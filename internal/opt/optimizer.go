// Package opt implements the unconstrained optimizers used to train the
// network: Armijo steepest descent, BFGS, inverse BFGS, Barzilai-Borwein
// spectral steps and a fixed-rate gradient step.
//
// An Optimizer consumes the current parameter vector and its gradient and
// returns a new parameter vector. Strategies that backtrack also take the
// objective restricted to the current batch. Each Optimizer exclusively owns
// its state (Hessian approximation, previous iterate) and is not safe for
// concurrent use.
//
//	o, err := opt.New(opt.KindBFGS, opt.DefaultConfig(opt.KindBFGS, n))
//	if err != nil {
//		return err
//	}
//	for i := 0; i < steps; i++ {
//		loss, grad := evaluate(x)
//		if x, err = o.Step(x, grad, objective); err != nil {
//			return err
//		}
//	}
package opt

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Objective evaluates the function being minimized at x. It must not retain
// or modify x.
type Objective func(x []float64) float64

// Optimizer defines a parameter update rule.
type Optimizer interface {
	// Step returns the parameters after one update from x with gradient grad.
	// x and grad are not modified. f may be nil for strategies that do not
	// backtrack.
	Step(x, grad []float64, f Objective) ([]float64, error)

	// Kind returns the update rule.
	Kind() Kind

	// Stats returns counters accumulated since construction.
	Stats() Stats
}

// Stats counts what happened inside an optimizer.
type Stats struct {
	// Steps is the number of completed calls to Step.
	Steps int `json:"steps"`
	// CurvatureSkips counts secant pairs rejected by the curvature guard.
	CurvatureSkips int `json:"curvatureSkips"`
	// Resets counts Hessian approximations reset to identity.
	Resets int `json:"resets"`
	// Shrinks is the total number of line search shrinks.
	Shrinks int `json:"shrinks"`
	// Fallbacks counts Barzilai-Borwein steps that used the fixed fallback size.
	Fallbacks int `json:"fallbacks"`
	// LastStep is the last accepted step length (t or α).
	LastStep float64 `json:"lastStep"`
}

// New constructs the optimizer selected by kind. The configuration is
// validated once here; an error matching ErrInvalidConfiguration is returned
// before any step can run.
func New(kind Kind, cfg Config) (Optimizer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(kind); err != nil {
		return nil, err
	}

	switch kind {
	case KindDescent:
		return newDescent(cfg), nil
	case KindBFGS:
		return newBFGS(cfg), nil
	case KindInverseBFGS:
		return newInverseBFGS(cfg), nil
	case KindBarzilaiBorwein:
		return newBarzilaiBorwein(cfg), nil
	case KindFixed:
		return newFixed(cfg), nil
	}
	return nil, configError("kind", kind, "unknown optimizer")
}

// MustNew is like New but panics on an invalid configuration.
func MustNew(kind Kind, cfg Config) Optimizer {
	o, err := New(kind, cfg)
	if err != nil {
		panic(err)
	}
	return o
}

// checkInputs verifies dimensions and finiteness of a step's inputs.
func checkInputs(n int, x, grad []float64) error {
	if len(x) != n {
		return errors.Errorf("parameter length %d does not match nparams %d", len(x), n)
	}
	if len(grad) != n {
		return errors.Errorf("gradient length %d does not match nparams %d", len(grad), n)
	}
	if !allFinite(x) {
		return errors.Wrap(ErrNumericalInstability, "parameters are not finite")
	}
	if !allFinite(grad) {
		return errors.Wrap(ErrNumericalInstability, "gradient is not finite")
	}
	return nil
}

// checkResult verifies the updated parameters.
func checkResult(next []float64) error {
	if !allFinite(next) {
		return errors.Wrap(ErrNumericalInstability, "updated parameters are not finite")
	}
	return nil
}

// stationary reports whether the gradient is numerically zero.
func stationary(grad []float64, tol float64) bool {
	return floats.Norm(grad, math.Inf(1)) <= tol
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}

// negated returns -v in a new slice.
func negated(v []float64) []float64 {
	d := clone(v)
	floats.Scale(-1, d)
	return d
}
