package opt

import (
	"log/slog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BFGS maintains a direct approximation H of the Hessian:
//
//	H₊ = H − (H Δx Δxᵀ H)/(Δxᵀ H Δx) + (Δg Δgᵀ)/(Δgᵀ Δx)
//
// and obtains the search direction by solving H d = −g.
//
// The update is skipped when Δgᵀ Δx ≤ ε (curvature condition violated) so H
// stays symmetric positive definite. If the Cholesky factorization of H fails
// anyway, H is reset to identity.
type BFGS struct {
	cfg    Config
	h      *mat.SymDense
	pair   secantPair
	search *LineSearch
	chol   mat.Cholesky
	dir    []float64
	stats  Stats
}

func newBFGS(cfg Config) *BFGS {
	return &BFGS{
		cfg:    cfg,
		h:      identity(cfg.NParams),
		search: NewLineSearch(cfg.Gamma, cfg.Beta, cfg.MaxShrink),
		dir:    make([]float64, cfg.NParams),
	}
}

func (o *BFGS) Kind() Kind   { return KindBFGS }
func (o *BFGS) Stats() Stats { return o.stats }

// Hessian returns a copy of the current Hessian approximation.
func (o *BFGS) Hessian() *mat.SymDense {
	return mat.NewSymDense(o.cfg.NParams, append([]float64(nil), o.h.RawSymmetric().Data...))
}

// Step updates H from the secant pair, solves for the direction and
// backtracks along it. The first call has no secant pair and takes a
// steepest descent step (H = I).
//
// The secant pair is consumed even when the line search fails, so a retry
// from the same parameters does not apply the same update twice. A step
// rejected with ErrNumericalInstability leaves H and the pair as they were.
func (o *BFGS) Step(x, grad []float64, f Objective) ([]float64, error) {
	if err := checkInputs(o.cfg.NParams, x, grad); err != nil {
		return nil, err
	}
	if stationary(grad, o.cfg.GradTol) {
		o.stats.Steps++
		return clone(x), nil
	}

	saved := saveState(o.h, &o.pair, o.stats)
	if dx, dg, ok := o.pair.diff(x, grad); ok {
		o.update(dx, dg)
	}
	o.pair.remember(x, grad)

	o.direction(grad)
	next, t, err := armijoStep(o.search, f, x, grad, o.dir)
	if errors.Is(err, ErrNumericalInstability) {
		saved.restore(o.h, &o.pair, &o.stats)
	}
	o.stats.Shrinks += o.search.Shrinks()
	if err != nil {
		return nil, err
	}
	o.stats.Steps++
	o.stats.LastStep = t
	return next, nil
}

func (o *BFGS) update(dx, dg *mat.VecDense) {
	curvature := mat.Dot(dg, dx)
	if curvature <= o.cfg.Epsilon {
		o.stats.CurvatureSkips++
		slog.Debug("Curvature condition violated, keeping Hessian", "optimizer", KindBFGS, "curvature", curvature)
		return
	}

	hs := mat.NewVecDense(o.cfg.NParams, nil)
	hs.MulVec(o.h, dx)
	sHs := mat.Dot(dx, hs)
	if sHs <= o.cfg.Epsilon {
		o.stats.CurvatureSkips++
		slog.Debug("Degenerate ΔxᵀHΔx, keeping Hessian", "optimizer", KindBFGS, "sHs", sHs)
		return
	}

	o.h.SymRankOne(o.h, -1/sHs, hs)
	o.h.SymRankOne(o.h, 1/curvature, dg)
}

// direction solves H d = −g into o.dir.
func (o *BFGS) direction(grad []float64) {
	n := o.cfg.NParams
	rhs := mat.NewVecDense(n, negated(grad))
	d := mat.NewVecDense(n, o.dir)

	if o.chol.Factorize(o.h) {
		if err := o.chol.SolveVecTo(d, rhs); err == nil && allFinite(o.dir) && floats.Dot(grad, o.dir) < 0 {
			return
		}
	}

	o.stats.Resets++
	slog.Debug("Hessian approximation not positive definite, resetting", "optimizer", KindBFGS)
	setIdentity(o.h)
	copy(o.dir, rhs.RawVector().Data)
}

// InverseBFGS maintains the inverse Hessian approximation directly:
//
//	H⁻¹₊ = (I − ρ Δx Δgᵀ) H⁻¹ (I − ρ Δg Δxᵀ) + ρ Δx Δxᵀ,  ρ = 1/(Δgᵀ Δx)
//
// so the direction d = −H⁻¹ g needs only a matrix-vector product.
type InverseBFGS struct {
	cfg    Config
	hinv   *mat.SymDense
	pair   secantPair
	search *LineSearch
	dir    []float64
	stats  Stats
}

func newInverseBFGS(cfg Config) *InverseBFGS {
	return &InverseBFGS{
		cfg:    cfg,
		hinv:   identity(cfg.NParams),
		search: NewLineSearch(cfg.Gamma, cfg.Beta, cfg.MaxShrink),
		dir:    make([]float64, cfg.NParams),
	}
}

func (o *InverseBFGS) Kind() Kind   { return KindInverseBFGS }
func (o *InverseBFGS) Stats() Stats { return o.stats }

// InverseHessian returns a copy of the current inverse Hessian approximation.
func (o *InverseBFGS) InverseHessian() *mat.SymDense {
	return mat.NewSymDense(o.cfg.NParams, append([]float64(nil), o.hinv.RawSymmetric().Data...))
}

// Step follows the same protocol as BFGS.Step.
func (o *InverseBFGS) Step(x, grad []float64, f Objective) ([]float64, error) {
	if err := checkInputs(o.cfg.NParams, x, grad); err != nil {
		return nil, err
	}
	if stationary(grad, o.cfg.GradTol) {
		o.stats.Steps++
		return clone(x), nil
	}

	saved := saveState(o.hinv, &o.pair, o.stats)
	if dx, dg, ok := o.pair.diff(x, grad); ok {
		o.update(dx, dg)
	}
	o.pair.remember(x, grad)

	o.direction(grad)
	next, t, err := armijoStep(o.search, f, x, grad, o.dir)
	if errors.Is(err, ErrNumericalInstability) {
		saved.restore(o.hinv, &o.pair, &o.stats)
	}
	o.stats.Shrinks += o.search.Shrinks()
	if err != nil {
		return nil, err
	}
	o.stats.Steps++
	o.stats.LastStep = t
	return next, nil
}

func (o *InverseBFGS) update(dx, dg *mat.VecDense) {
	curvature := mat.Dot(dg, dx)
	if curvature <= o.cfg.Epsilon {
		o.stats.CurvatureSkips++
		slog.Debug("Curvature condition violated, keeping inverse Hessian", "optimizer", KindInverseBFGS, "curvature", curvature)
		return
	}
	rho := 1 / curvature

	hy := mat.NewVecDense(o.cfg.NParams, nil)
	hy.MulVec(o.hinv, dg)
	yHy := mat.Dot(dg, hy)

	// Expanded form of the product update; H⁻¹ is symmetric so
	// Δx Δgᵀ H⁻¹ = Δx (H⁻¹ Δg)ᵀ.
	o.hinv.RankTwo(o.hinv, -rho, dx, hy)
	o.hinv.SymRankOne(o.hinv, rho*rho*yHy+rho, dx)
}

// direction computes d = −H⁻¹ g into o.dir.
func (o *InverseBFGS) direction(grad []float64) {
	n := o.cfg.NParams
	d := mat.NewVecDense(n, o.dir)
	d.MulVec(o.hinv, mat.NewVecDense(n, grad))
	d.ScaleVec(-1, d)
	if allFinite(o.dir) && floats.Dot(grad, o.dir) < 0 {
		return
	}

	o.stats.Resets++
	slog.Debug("Inverse Hessian approximation lost descent, resetting", "optimizer", KindInverseBFGS)
	setIdentity(o.hinv)
	copy(o.dir, grad)
	floats.Scale(-1, o.dir)
}
