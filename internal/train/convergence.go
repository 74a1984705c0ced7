package train

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines when a run counts as converged.
type ConvergenceConfig struct {
	// Tolerance is the absolute loss change below which a step counts as
	// stale. Zero disables convergence detection.
	Tolerance float64 `json:"tolerance"`

	// Patience is the number of consecutive stale steps required to stop.
	Patience int `json:"patience"`
}

// DefaultConvergenceConfig stops on the first step with |Δloss| < 1e-9.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Tolerance: 1e-9,
		Patience:  1,
	}
}

// DisabledConvergenceConfig runs until the iteration budget is exhausted.
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{}
}

// Enabled reports whether convergence detection is active.
func (c ConvergenceConfig) Enabled() bool {
	return c.Tolerance > 0
}

// ConvergenceTracker watches successive losses and detects when training has converged
type ConvergenceTracker struct {
	config     ConvergenceConfig
	last       float64
	seen       int
	bestLoss   float64
	staleCount int
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	if config.Patience < 1 {
		config.Patience = 1
	}
	return &ConvergenceTracker{
		config:   config,
		bestLoss: math.Inf(1),
	}
}

// Update records a new loss value and returns true if convergence is detected
func (c *ConvergenceTracker) Update(loss float64) bool {
	prev := c.last
	c.last = loss
	c.seen++
	if loss < c.bestLoss {
		c.bestLoss = loss
	}

	if !c.config.Enabled() || c.seen == 1 {
		return false
	}

	change := math.Abs(loss - prev)
	if change >= c.config.Tolerance {
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("Loss change below tolerance",
		"loss", loss,
		"change", change,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)

	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected - stopping",
			"stale_count", c.staleCount,
			"best_loss", c.bestLoss,
		)
		return true
	}
	return false
}

// BestLoss returns the lowest loss seen so far
func (c *ConvergenceTracker) BestLoss() float64 {
	return c.bestLoss
}
