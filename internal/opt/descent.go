package opt

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// DescentMethod is steepest descent with an Armijo backtracking step.
// It keeps no state between steps apart from its counters.
type DescentMethod struct {
	cfg    Config
	search *LineSearch
	stats  Stats
}

func newDescent(cfg Config) *DescentMethod {
	return &DescentMethod{
		cfg:    cfg,
		search: NewLineSearch(cfg.Gamma, cfg.Beta, cfg.MaxShrink),
	}
}

func (o *DescentMethod) Kind() Kind   { return KindDescent }
func (o *DescentMethod) Stats() Stats { return o.stats }

// Step moves along -grad by an Armijo step length.
func (o *DescentMethod) Step(x, grad []float64, f Objective) ([]float64, error) {
	if err := checkInputs(o.cfg.NParams, x, grad); err != nil {
		return nil, err
	}
	if stationary(grad, o.cfg.GradTol) {
		o.stats.Steps++
		return clone(x), nil
	}
	next, t, err := armijoStep(o.search, f, x, grad, negated(grad))
	o.stats.Shrinks += o.search.Shrinks()
	if err != nil {
		return nil, err
	}
	o.stats.Steps++
	o.stats.LastStep = t
	return next, nil
}

// armijoStep returns x + t·dir with t from the line search.
func armijoStep(ls *LineSearch, f Objective, x, grad, dir []float64) ([]float64, float64, error) {
	if f == nil {
		return nil, 0, errors.New("line search requires an objective")
	}
	t, err := ls.Search(f, x, grad, dir)
	if err != nil {
		return nil, 0, err
	}
	next := make([]float64, len(x))
	floats.AddScaledTo(next, x, t, dir)
	if err := checkResult(next); err != nil {
		return nil, 0, err
	}
	return next, t, nil
}

// FixedStep is plain gradient descent with a constant learning rate, the
// update the network applies when no optimizer is selected.
type FixedStep struct {
	cfg   Config
	stats Stats
}

func newFixed(cfg Config) *FixedStep {
	return &FixedStep{cfg: cfg}
}

func (o *FixedStep) Kind() Kind   { return KindFixed }
func (o *FixedStep) Stats() Stats { return o.stats }

// Step returns x - lr·grad. The objective is ignored.
func (o *FixedStep) Step(x, grad []float64, _ Objective) ([]float64, error) {
	if err := checkInputs(o.cfg.NParams, x, grad); err != nil {
		return nil, err
	}
	next := make([]float64, len(x))
	floats.AddScaledTo(next, x, -o.cfg.LearningRate, grad)
	if err := checkResult(next); err != nil {
		return nil, err
	}
	o.stats.Steps++
	o.stats.LastStep = o.cfg.LearningRate
	return next, nil
}
