// Package model implements the network trained by the optimizers: a fully
// connected multilayer perceptron whose weights live in one flat parameter
// vector, together with its gradient oracle.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/secantfit/internal/data"
	"gonum.org/v1/gonum/mat"
)

// MLP is a fully connected network with sigmoid activations on every layer.
//
// Evaluate and Loss are pure functions of the parameters passed in; the
// stored parameters are only read by Forward-based helpers such as Predict.
type MLP struct {
	widths []int
	loss   Loss
	layers []layer
	params []float64
}

// NewMLP creates a network with the given layer widths and zero parameters.
func NewMLP(widths []int, loss Loss) (*MLP, error) {
	if loss == nil {
		return nil, fmt.Errorf("loss is required")
	}
	layers, n, err := newLayout(widths)
	if err != nil {
		return nil, err
	}
	return &MLP{
		widths: append([]int(nil), widths...),
		loss:   loss,
		layers: layers,
		params: make([]float64, n),
	}, nil
}

// NParams returns the length of the parameter vector.
func (m *MLP) NParams() int { return len(m.params) }

// Widths returns the layer widths.
func (m *MLP) Widths() []int { return append([]int(nil), m.widths...) }

// Inputs returns the input width.
func (m *MLP) Inputs() int { return m.widths[0] }

// Outputs returns the output width.
func (m *MLP) Outputs() int { return m.widths[len(m.widths)-1] }

// Parameters returns a copy of the current parameters.
func (m *MLP) Parameters() []float64 {
	return append([]float64(nil), m.params...)
}

// SetParameters replaces the parameters with a copy of p.
func (m *MLP) SetParameters(p []float64) error {
	if len(p) != len(m.params) {
		return fmt.Errorf("parameter length %d does not match nparams %d", len(p), len(m.params))
	}
	copy(m.params, p)
	return nil
}

// Init draws weights uniformly from ±sqrt(6/(in+out)) and zeroes the biases.
func (m *MLP) Init(rng *rand.Rand) {
	for _, l := range m.layers {
		r := math.Sqrt(6 / float64(l.in+l.out))
		w := m.params[l.offset : l.offset+l.out*l.in]
		for i := range w {
			w[i] = (2*rng.Float64() - 1) * r
		}
		b := l.bias(m.params)
		for i := range b {
			b[i] = 0
		}
	}
}

// Forward returns the network output for input x under params.
func (m *MLP) Forward(params, x []float64) []float64 {
	acts := m.forward(params, x)
	return acts[len(acts)-1]
}

// forward returns the activations of every layer, input first.
func (m *MLP) forward(params, x []float64) [][]float64 {
	acts := make([][]float64, len(m.layers)+1)
	acts[0] = x
	for i, l := range m.layers {
		z := mat.NewVecDense(l.out, nil)
		z.MulVec(l.weights(params), mat.NewVecDense(l.in, acts[i]))

		a := z.RawVector().Data
		b := l.bias(params)
		for j := range a {
			a[j] = sigmoid(a[j] + b[j])
		}
		acts[i+1] = a
	}
	return acts
}

// Predict returns the index of the largest output for x.
func (m *MLP) Predict(x []float64) int {
	out := m.Forward(m.params, x)
	best := 0
	for i, v := range out {
		if v > out[best] {
			best = i
		}
	}
	return best
}

// Accuracy returns the fraction of samples whose predicted class matches the
// largest target entry.
func (m *MLP) Accuracy(d data.Dataset) float64 {
	if d.Len() == 0 {
		return 0
	}
	correct := 0
	for i, x := range d.Inputs {
		if m.Predict(x) == argmax(d.Targets[i]) {
			correct++
		}
	}
	return float64(correct) / float64(d.Len())
}

// Loss evaluates the batch loss under params without computing a gradient.
func (m *MLP) Loss(params []float64, b data.Batch) (float64, error) {
	if err := m.check(params, b); err != nil {
		return 0, err
	}
	preds := make([][]float64, b.Len())
	for i, x := range b.Inputs {
		preds[i] = m.Forward(params, x)
	}
	return m.loss.Reduce(preds, b.Targets), nil
}

// Evaluate returns the batch loss and its gradient with respect to params.
// It is deterministic and does not modify the stored parameters.
func (m *MLP) Evaluate(params []float64, b data.Batch) (float64, []float64, error) {
	if err := m.check(params, b); err != nil {
		return 0, nil, err
	}

	grad := make([]float64, len(params))
	preds := make([][]float64, b.Len())
	last := len(m.layers) - 1

	for s, x := range b.Inputs {
		acts := m.forward(params, x)
		preds[s] = acts[last+1]

		delta := make([]float64, m.layers[last].out)
		m.loss.Backward(preds[s], b.Targets[s], delta)

		for i := last; i >= 0; i-- {
			l := m.layers[i]
			out := acts[i+1]
			for j := range delta {
				delta[j] *= out[j] * (1 - out[j])
			}

			dv := mat.NewVecDense(l.out, delta)
			av := mat.NewVecDense(l.in, acts[i])
			gw := l.weights(grad)
			gw.RankOne(gw, 1, dv, av)
			gb := l.bias(grad)
			for j, d := range delta {
				gb[j] += d
			}

			if i > 0 {
				prev := mat.NewVecDense(l.in, nil)
				prev.MulVec(l.weights(params).T(), dv)
				delta = prev.RawVector().Data
			}
		}
	}

	scale := 1 / float64(b.Len())
	for i := range grad {
		grad[i] *= scale
	}
	return m.loss.Reduce(preds, b.Targets), grad, nil
}

func (m *MLP) check(params []float64, b data.Batch) error {
	if len(params) != len(m.params) {
		return fmt.Errorf("parameter length %d does not match nparams %d", len(params), len(m.params))
	}
	if b.Len() == 0 {
		return fmt.Errorf("batch is empty")
	}
	return b.Validate(m.Inputs(), m.Outputs())
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
