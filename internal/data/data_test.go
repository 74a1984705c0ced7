package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDataset(t *testing.T) {
	d := Default()
	require.NoError(t, d.Validate(2, 2))
	assert.Equal(t, 10, d.Len())
	assert.Equal(t, []float64{0.1, 0.3}, d.Inputs[0])
	assert.Equal(t, []float64{1, 0}, d.Targets[4])
	assert.Equal(t, []float64{0, 1}, d.Targets[5])
}

func TestDatasetValidate(t *testing.T) {
	tests := []struct {
		name string
		data Dataset
	}{
		{"empty", Dataset{}},
		{"unpaired", Dataset{Inputs: [][]float64{{1, 2}}, Targets: nil}},
		{"wrong input width", Dataset{Inputs: [][]float64{{1}}, Targets: [][]float64{{1, 0}}}},
		{"wrong target width", Dataset{Inputs: [][]float64{{1, 2}}, Targets: [][]float64{{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.data.Validate(2, 2))
		})
	}
}

func TestSampler_DrawsWithoutReplacement(t *testing.T) {
	d := Default()
	s, err := NewSampler(d, 6, 5000)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		b := s.Next()
		require.Equal(t, 6, b.Len())

		seen := map[[2]float64]bool{}
		for _, in := range b.Inputs {
			key := [2]float64{in[0], in[1]}
			assert.False(t, seen[key], "sample drawn twice in one batch")
			seen[key] = true
		}
	}
}

func TestSampler_Deterministic(t *testing.T) {
	a, err := NewSampler(Default(), 3, 42)
	require.NoError(t, err)
	b, err := NewSampler(Default(), 3, 42)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestNewSampler_InvalidSize(t *testing.T) {
	_, err := NewSampler(Default(), 0, 1)
	assert.Error(t, err)
	_, err = NewSampler(Default(), 11, 1)
	assert.Error(t, err)
}
