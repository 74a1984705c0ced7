package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// Searcher is a derivative-free global search over a box. It is used to pick
// starting parameters before gradient-based training.
type Searcher interface {
	// Search minimizes eval over [lower, upper]^dim and returns the best
	// point and its value.
	Search(eval func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error)
}

// MayflyAdapter wraps the external Mayfly library to conform to Searcher.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a Mayfly searcher. popSize must be at least 20.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Search runs Mayfly with scalar bounds shared by every dimension.
func (m *MayflyAdapter) Search(eval func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error) {
	if dim <= 0 {
		return nil, 0, configError("dim", dim, "must be positive")
	}
	if lower >= upper {
		return nil, 0, configError("bounds", fmt.Sprintf("[%g, %g]", lower, upper), "lower must be below upper")
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower
	config.UpperBound = upper
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly search failed: %w", err)
	}

	best := append([]float64(nil), result.GlobalBest.Position...)
	return best, result.GlobalBest.Cost, nil
}
