package opt

import (
	"math"
	"strings"
)

// Kind selects the update rule of an Optimizer.
type Kind string

const (
	KindDescent         Kind = "armijo"
	KindBFGS            Kind = "bfgs"
	KindInverseBFGS     Kind = "ibfgs"
	KindBarzilaiBorwein Kind = "bb"
	KindFixed           Kind = "backprop"
)

// Strategy selects the Barzilai-Borwein step size formula.
type Strategy string

const (
	// StrategyLong is α = (ΔxᵀΔx)/(ΔxᵀΔg).
	StrategyLong Strategy = "v1"
	// StrategyShort is α = (ΔxᵀΔg)/(ΔgᵀΔg).
	StrategyShort Strategy = "v2"
	// StrategyAlternate switches between v1 and v2 on successive iterations.
	StrategyAlternate Strategy = "alt"
)

const (
	defaultMaxShrink = 50
	defaultEpsilon   = 1e-10
	defaultGradTol   = 1e-10
)

// Config holds the construction-time parameters shared by all optimizers.
// Fields that a given Kind does not use are ignored by Validate.
type Config struct {
	// NParams is the length of the parameter vector. Must be positive and
	// match the model.
	NParams int

	// Gamma is the Armijo sufficient-decrease constant, in (0,1).
	Gamma float64

	// Beta is the backtracking shrink factor (eta for the BFGS family), in (0,1).
	Beta float64

	// Strategy picks the Barzilai-Borwein formula.
	Strategy Strategy

	// AltStartShort makes the alternating strategy start with v2 instead of v1.
	AltStartShort bool

	// LearningRate is the step of the fixed-rate gradient method.
	LearningRate float64

	// MaxShrink caps the number of backtracking shrinks (default 50).
	MaxShrink int

	// Epsilon guards curvature denominators (default 1e-10).
	Epsilon float64

	// GradTol is the max-norm below which the gradient is treated as zero and
	// the parameters are returned unchanged (default 1e-10).
	GradTol float64
}

// DefaultConfig returns the hyperparameters the trainer uses for each kind.
func DefaultConfig(kind Kind, nparams int) Config {
	cfg := Config{
		NParams:   nparams,
		Gamma:     0.0001,
		Beta:      0.5,
		MaxShrink: defaultMaxShrink,
		Epsilon:   defaultEpsilon,
		GradTol:   defaultGradTol,
	}
	switch kind {
	case KindBFGS, KindInverseBFGS:
		cfg.Beta = 0.9
	case KindBarzilaiBorwein:
		cfg.Strategy = StrategyLong
	case KindFixed:
		cfg.LearningRate = 0.5
	}
	return cfg
}

// withDefaults fills the zero-valued numerical guards.
func (c Config) withDefaults() Config {
	if c.MaxShrink == 0 {
		c.MaxShrink = defaultMaxShrink
	}
	if c.Epsilon == 0 {
		c.Epsilon = defaultEpsilon
	}
	if c.GradTol == 0 {
		c.GradTol = defaultGradTol
	}
	return c
}

// Validate checks the configuration for the given kind. It returns an error
// matching ErrInvalidConfiguration.
func (c Config) Validate(kind Kind) error {
	if c.NParams <= 0 {
		return configError("nparams", c.NParams, "must be positive")
	}
	if c.MaxShrink < 0 {
		return configError("maxShrink", c.MaxShrink, "must not be negative")
	}
	if c.Epsilon < 0 || math.IsNaN(c.Epsilon) {
		return configError("epsilon", c.Epsilon, "must not be negative")
	}
	if c.GradTol < 0 || math.IsNaN(c.GradTol) {
		return configError("gradTol", c.GradTol, "must not be negative")
	}

	switch kind {
	case KindDescent, KindBFGS, KindInverseBFGS, KindBarzilaiBorwein:
		if !inUnitInterval(c.Gamma) {
			return configError("gamma", c.Gamma, "outside allowed range (0, 1)")
		}
		if !inUnitInterval(c.Beta) {
			return configError("beta", c.Beta, "outside allowed range (0, 1)")
		}
	case KindFixed:
		if !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0) {
			return configError("learningRate", c.LearningRate, "outside allowed range (0, Inf)")
		}
	default:
		return configError("kind", kind, "unknown optimizer")
	}

	if kind == KindBarzilaiBorwein {
		switch c.Strategy {
		case StrategyLong, StrategyShort, StrategyAlternate:
		default:
			return configError("strategy", c.Strategy, "must be one of v1, v2, alt")
		}
	}
	return nil
}

func inUnitInterval(v float64) bool {
	return v > 0 && v < 1
}

// ParseKind resolves the command-line optimizer names, including the
// Barzilai-Borwein aliases that carry a strategy (bbv1, bbv2, bbv3).
func ParseKind(name string) (Kind, Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "armijo", "descent":
		return KindDescent, "", nil
	case "bfgs":
		return KindBFGS, "", nil
	case "ibfgs", "inversebfgs":
		return KindInverseBFGS, "", nil
	case "bb", "bbv1", "barzilaiborweinv1":
		return KindBarzilaiBorwein, StrategyLong, nil
	case "bbv2", "barzilaiborweinv2":
		return KindBarzilaiBorwein, StrategyShort, nil
	case "bbv3", "barzilaiborweinv3", "bbalt":
		return KindBarzilaiBorwein, StrategyAlternate, nil
	case "backprop", "fixed":
		return KindFixed, "", nil
	}
	return "", "", configError("optimizer", name, "unknown optimizer")
}
