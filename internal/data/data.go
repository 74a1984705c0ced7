// Package data holds the labeled 2-D training set and the batch sampler.
package data

import (
	"fmt"
	"math/rand"
)

// Dataset is a set of labeled samples. Inputs[i] and Targets[i] belong to the
// same sample; targets are one-hot class encodings.
type Dataset struct {
	Inputs  [][]float64 `json:"inputs"`
	Targets [][]float64 `json:"targets"`
}

// Batch is a subset of a Dataset.
type Batch = Dataset

// Len returns the number of samples.
func (d Dataset) Len() int {
	return len(d.Inputs)
}

// Validate checks that inputs and targets are paired and have consistent
// widths.
func (d Dataset) Validate(inputs, outputs int) error {
	if len(d.Inputs) == 0 {
		return fmt.Errorf("dataset is empty")
	}
	if len(d.Inputs) != len(d.Targets) {
		return fmt.Errorf("dataset has %d inputs but %d targets", len(d.Inputs), len(d.Targets))
	}
	for i := range d.Inputs {
		if len(d.Inputs[i]) != inputs {
			return fmt.Errorf("sample %d has %d inputs, want %d", i, len(d.Inputs[i]), inputs)
		}
		if len(d.Targets[i]) != outputs {
			return fmt.Errorf("sample %d has %d targets, want %d", i, len(d.Targets[i]), outputs)
		}
	}
	return nil
}

// Subset returns the samples at the given indices. The rows are shared with d.
func (d Dataset) Subset(indices []int) Batch {
	b := Batch{
		Inputs:  make([][]float64, len(indices)),
		Targets: make([][]float64, len(indices)),
	}
	for i, idx := range indices {
		b.Inputs[i] = d.Inputs[idx]
		b.Targets[i] = d.Targets[idx]
	}
	return b
}

// Default returns the built-in training set: ten points in the unit square,
// the first five labeled class 0 and the last five class 1.
func Default() Dataset {
	xs := []float64{0.1, 0.8, 0.6, 0.2, 0.4, 0.2, 0.4, 0.6, 0.7, 0.8}
	ys := []float64{0.3, 0.2, 0.5, 0.6, 0.8, 0.8, 0.4, 0.4, 0.8, 0.4}

	d := Dataset{
		Inputs:  make([][]float64, len(xs)),
		Targets: make([][]float64, len(xs)),
	}
	for i := range xs {
		d.Inputs[i] = []float64{xs[i], ys[i]}
		if i < 5 {
			d.Targets[i] = []float64{1, 0}
		} else {
			d.Targets[i] = []float64{0, 1}
		}
	}
	return d
}

// Sampler draws batches without replacement from a dataset.
type Sampler struct {
	data Dataset
	size int
	rng  *rand.Rand
}

// NewSampler creates a sampler drawing batches of the given size. The size
// must not exceed the dataset length.
func NewSampler(d Dataset, size int, seed int64) (*Sampler, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}
	if size > d.Len() {
		return nil, fmt.Errorf("batch size %d exceeds dataset size %d", size, d.Len())
	}
	return &Sampler{
		data: d,
		size: size,
		rng:  rand.New(rand.NewSource(seed)),
	}, nil
}

// Next returns a batch of distinct samples.
func (s *Sampler) Next() Batch {
	return s.data.Subset(s.rng.Perm(s.data.Len())[:s.size])
}

// Size returns the batch size.
func (s *Sampler) Size() int {
	return s.size
}
