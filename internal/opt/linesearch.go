package opt

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// LineSearch is an Armijo backtracking line search.
//
// Starting from a step length t it accepts the first t with
//
//	f(x + t·d) ≤ f(x) + γ·t·⟨g, d⟩
//
// shrinking t ← β·t otherwise. Trial points with a non-finite objective are
// treated as violating the condition.
type LineSearch struct {
	Gamma     float64
	Beta      float64
	MaxShrink int

	shrinks int
	trial   []float64
}

// NewLineSearch creates a line search with sufficient-decrease constant gamma,
// shrink factor beta and at most maxShrink shrinks.
func NewLineSearch(gamma, beta float64, maxShrink int) *LineSearch {
	return &LineSearch{Gamma: gamma, Beta: beta, MaxShrink: maxShrink}
}

// Search runs the backtracking procedure from the unit step.
func (ls *LineSearch) Search(f Objective, x, grad, dir []float64) (float64, error) {
	return ls.SearchFrom(1, f, x, grad, dir)
}

// SearchFrom runs the backtracking procedure from step length t0.
func (ls *LineSearch) SearchFrom(t0 float64, f Objective, x, grad, dir []float64) (float64, error) {
	ls.shrinks = 0
	if len(x) != len(grad) || len(x) != len(dir) {
		panic("opt: line search dimension mismatch")
	}

	slope := floats.Dot(grad, dir)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, errors.Wrap(ErrNumericalInstability, "directional derivative is not finite")
	}
	if slope >= 0 {
		// Line search is impossible when the directional derivative is ≥ 0.
		return 0, errors.Wrapf(ErrInvalidDescentDirection, "⟨grad, direction⟩ = %g", slope)
	}
	if !(t0 > 0) || math.IsInf(t0, 0) {
		return 0, errors.Wrapf(ErrNumericalInstability, "initial step length %g", t0)
	}

	f0 := f(x)
	if math.IsNaN(f0) || math.IsInf(f0, 0) {
		return 0, errors.Wrap(ErrNumericalInstability, "objective is not finite at the starting point")
	}

	if cap(ls.trial) < len(x) {
		ls.trial = make([]float64, len(x))
	}
	trial := ls.trial[:len(x)]

	t := t0
	for {
		floats.AddScaledTo(trial, x, t, dir)
		ft := f(trial)
		if !math.IsNaN(ft) && !math.IsInf(ft, 0) && ft <= f0+ls.Gamma*t*slope {
			return t, nil
		}
		if ls.shrinks >= ls.MaxShrink {
			return 0, errors.Wrapf(ErrLineSearchFailed, "no sufficient decrease after %d shrinks (t=%g)", ls.shrinks, t)
		}
		t *= ls.Beta
		ls.shrinks++
	}
}

// Shrinks returns the number of shrinks performed by the last search.
func (ls *LineSearch) Shrinks() int {
	return ls.shrinks
}
