package opt

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BarzilaiBorwein takes spectral gradient steps x₊ = x − α·g with α derived
// from the last secant pair:
//
//	v1: α = (ΔxᵀΔx)/(ΔxᵀΔg)
//	v2: α = (ΔxᵀΔg)/(ΔgᵀΔg)
//
// No line search is performed after the first step, so the objective may
// increase locally. When |ΔxᵀΔg| ≤ ε or α is not a positive finite number the
// step falls back to α = gamma.
//
// The alternating strategy uses v1 on even secant iterations and v2 on odd
// ones, counting from the first call that has a previous point. Config.AltStartShort
// swaps the parity.
type BarzilaiBorwein struct {
	cfg    Config
	pair   secantPair
	search *LineSearch
	iter   int
	stats  Stats
}

func newBarzilaiBorwein(cfg Config) *BarzilaiBorwein {
	return &BarzilaiBorwein{
		cfg:    cfg,
		search: NewLineSearch(cfg.Gamma, cfg.Beta, cfg.MaxShrink),
	}
}

func (o *BarzilaiBorwein) Kind() Kind   { return KindBarzilaiBorwein }
func (o *BarzilaiBorwein) Stats() Stats { return o.stats }

// Step computes the spectral step. The first call has no secant pair and
// takes an Armijo steepest descent step along −g using f; without f it uses
// α = gamma.
func (o *BarzilaiBorwein) Step(x, grad []float64, f Objective) ([]float64, error) {
	if err := checkInputs(o.cfg.NParams, x, grad); err != nil {
		return nil, err
	}
	if stationary(grad, o.cfg.GradTol) {
		o.stats.Steps++
		return clone(x), nil
	}

	if !o.pair.started() && f != nil {
		next, t, err := armijoStep(o.search, f, x, grad, negated(grad))
		o.stats.Shrinks += o.search.Shrinks()
		if err != nil {
			return nil, err
		}
		o.pair.remember(x, grad)
		o.stats.Steps++
		o.stats.LastStep = t
		return next, nil
	}

	iter, stats := o.iter, o.stats
	alpha := o.cfg.Gamma
	if dx, dg, ok := o.pair.diff(x, grad); ok {
		alpha = o.stepSize(dx, dg)
		o.iter++
	} else {
		o.stats.Fallbacks++
	}

	next := make([]float64, len(x))
	floats.AddScaledTo(next, x, -alpha, grad)
	if err := checkResult(next); err != nil {
		o.iter, o.stats = iter, stats
		return nil, err
	}
	o.pair.remember(x, grad)
	o.stats.Steps++
	o.stats.LastStep = alpha
	return next, nil
}

// stepSize returns the spectral step length for the current iteration.
func (o *BarzilaiBorwein) stepSize(dx, dg *mat.VecDense) float64 {
	sy := mat.Dot(dx, dg)
	if math.Abs(sy) <= o.cfg.Epsilon {
		return o.fallback("ΔxᵀΔg below epsilon", sy)
	}

	var alpha float64
	if o.useLong() {
		alpha = mat.Dot(dx, dx) / sy
	} else {
		alpha = sy / mat.Dot(dg, dg)
	}
	if !(alpha > 0) || math.IsInf(alpha, 0) {
		return o.fallback("step size not positive and finite", alpha)
	}
	return alpha
}

// useLong reports whether the v1 formula applies to the current iteration.
func (o *BarzilaiBorwein) useLong() bool {
	switch o.cfg.Strategy {
	case StrategyLong:
		return true
	case StrategyShort:
		return false
	}
	even := o.iter%2 == 0
	return even != o.cfg.AltStartShort
}

func (o *BarzilaiBorwein) fallback(reason string, value float64) float64 {
	o.stats.Fallbacks++
	slog.Debug("Barzilai-Borwein fallback step", "reason", reason, "value", value, "alpha", o.cfg.Gamma)
	return o.cfg.Gamma
}
