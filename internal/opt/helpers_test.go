package opt

import "gonum.org/v1/gonum/floats"

// quadratic is f(x) = ½ xᵀ diag(a) x.
type quadratic struct {
	a []float64
}

func (q quadratic) value(x []float64) float64 {
	var sum float64
	for i, v := range x {
		sum += 0.5 * q.a[i] * v * v
	}
	return sum
}

func (q quadratic) grad(x []float64) []float64 {
	g := make([]float64, len(x))
	floats.MulTo(g, q.a, x)
	return g
}

// shifted is f(x, y) = (x−3)² + (y+2)².
func shifted(x []float64) float64 {
	dx, dy := x[0]-3, x[1]+2
	return dx*dx + dy*dy
}

func shiftedGrad(x []float64) []float64 {
	return []float64{2 * (x[0] - 3), 2 * (x[1] + 2)}
}
