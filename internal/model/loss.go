package model

// Loss reduces network outputs against targets to a scalar and provides the
// per-sample derivative used by backpropagation.
type Loss interface {
	// Reduce computes the loss over a batch.
	Reduce(predictions, targets [][]float64) float64

	// Backward writes ∂ℓ/∂prediction of the unnormalized per-sample loss to
	// dst. Reduce divides the per-sample sum by the batch size; callers
	// apply the same scaling to the gradient.
	Backward(prediction, target, dst []float64)
}

// L2Loss is half the mean squared Euclidean distance:
//
//	ℓ = 1/(2N) Σᵢ ‖pᵢ − tᵢ‖²
type L2Loss struct{}

// Reduce computes the batch loss.
func (L2Loss) Reduce(predictions, targets [][]float64) float64 {
	if len(predictions) != len(targets) {
		panic("prediction and target counts must match")
	}
	if len(predictions) == 0 {
		return 0
	}

	var sum float64
	for i, p := range predictions {
		t := targets[i]
		for j := range p {
			d := p[j] - t[j]
			sum += d * d
		}
	}
	return sum / float64(2*len(predictions))
}

// Backward writes p − t to dst.
func (L2Loss) Backward(prediction, target, dst []float64) {
	for j := range prediction {
		dst[j] = prediction[j] - target[j]
	}
}
