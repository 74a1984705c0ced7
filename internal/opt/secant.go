package opt

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// secantPair remembers the previous iterate and gradient so that the next
// call can form Δx = x_k − x_{k−1} and Δg = g_k − g_{k−1}.
type secantPair struct {
	xPrev []float64
	gPrev []float64
}

// diff returns the secant pair for (x, grad). ok is false on the first call.
func (p *secantPair) diff(x, grad []float64) (dx, dg *mat.VecDense, ok bool) {
	if p.xPrev == nil {
		return nil, nil, false
	}
	n := len(x)
	sx := make([]float64, n)
	sg := make([]float64, n)
	floats.SubTo(sx, x, p.xPrev)
	floats.SubTo(sg, grad, p.gPrev)
	return mat.NewVecDense(n, sx), mat.NewVecDense(n, sg), true
}

// remember stores copies of x and grad for the next call.
func (p *secantPair) remember(x, grad []float64) {
	if p.xPrev == nil {
		p.xPrev = make([]float64, len(x))
		p.gPrev = make([]float64, len(grad))
	}
	copy(p.xPrev, x)
	copy(p.gPrev, grad)
}

// save returns an independent copy of the pair.
func (p *secantPair) save() secantPair {
	return secantPair{xPrev: clone(p.xPrev), gPrev: clone(p.gPrev)}
}

func (p *secantPair) started() bool {
	return p.xPrev != nil
}

func identity(n int) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	setIdentity(m)
	return m
}

func setIdentity(m *mat.SymDense) {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				m.SetSym(i, j, 1)
			} else {
				m.SetSym(i, j, 0)
			}
		}
	}
}

// quasiNewtonState is a copy of a secant method's state taken before a step,
// restored when the step is rejected as numerically unstable.
type quasiNewtonState struct {
	m     []float64
	pair  secantPair
	stats Stats
}

func saveState(m *mat.SymDense, pair *secantPair, stats Stats) quasiNewtonState {
	return quasiNewtonState{
		m:     clone(m.RawSymmetric().Data),
		pair:  pair.save(),
		stats: stats,
	}
}

func (s quasiNewtonState) restore(m *mat.SymDense, pair *secantPair, stats *Stats) {
	copy(m.RawSymmetric().Data, s.m)
	*pair = s.pair
	*stats = s.stats
}
