package train

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/secantfit/internal/data"
	"github.com/cwbudde/secantfit/internal/opt"
)

// WarmStartResult holds the output of a warm-start search.
type WarmStartResult struct {
	InitialLoss float64
	BestLoss    float64
	Applied     bool
}

// WarmStart runs a derivative-free global search over the parameter box
// [-radius, radius]^n on the full dataset d and installs the best point into
// the model only if it beats the current parameters.
func WarmStart(s opt.Searcher, model GradientOracle, d data.Dataset, radius float64) (*WarmStartResult, error) {
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("warm start radius must be positive and finite, got %g", radius)
	}

	initialLoss, err := model.Loss(model.Parameters(), d)
	if err != nil {
		return nil, fmt.Errorf("warm start: %w", err)
	}

	eval := func(x []float64) float64 {
		v, err := model.Loss(x, d)
		if err != nil || math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	slog.Info("Starting warm start search", "nparams", model.NParams(), "radius", radius, "initial_loss", initialLoss)

	best, bestLoss, err := s.Search(eval, -radius, radius, model.NParams())
	if err != nil {
		return nil, fmt.Errorf("warm start search: %w", err)
	}

	res := &WarmStartResult{InitialLoss: initialLoss, BestLoss: bestLoss}
	if len(best) == model.NParams() && bestLoss < initialLoss {
		if err := model.SetParameters(best); err != nil {
			return nil, fmt.Errorf("warm start: %w", err)
		}
		res.Applied = true
	}

	slog.Info("Warm start complete", "initial_loss", initialLoss, "best_loss", bestLoss, "applied", res.Applied)
	return res, nil
}
