package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// layer locates one dense layer inside the flat parameter vector. The weight
// matrix is stored row-major (out × in) and followed by the out biases.
type layer struct {
	in, out int
	offset  int
}

func (l layer) size() int {
	return l.out*l.in + l.out
}

// weights views the layer's weight matrix inside params without copying.
func (l layer) weights(params []float64) *mat.Dense {
	return mat.NewDense(l.out, l.in, params[l.offset:l.offset+l.out*l.in])
}

// bias views the layer's bias vector inside params without copying.
func (l layer) bias(params []float64) []float64 {
	start := l.offset + l.out*l.in
	return params[start : start+l.out]
}

// newLayout computes the layers for the given widths, e.g. [2, 8, 8, 2].
func newLayout(widths []int) ([]layer, int, error) {
	if len(widths) < 2 {
		return nil, 0, fmt.Errorf("need at least input and output widths, got %v", widths)
	}
	for i, w := range widths {
		if w <= 0 {
			return nil, 0, fmt.Errorf("width %d at position %d must be positive", w, i)
		}
	}

	layers := make([]layer, len(widths)-1)
	offset := 0
	for i := range layers {
		layers[i] = layer{in: widths[i], out: widths[i+1], offset: offset}
		offset += layers[i].size()
	}
	return layers, offset, nil
}

// ParamCount returns the number of parameters of a network with the given
// widths, or 0 if the widths are invalid.
func ParamCount(widths []int) int {
	_, n, err := newLayout(widths)
	if err != nil {
		return 0
	}
	return n
}
