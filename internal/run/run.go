// Package run assembles a training session (dataset, network, optimizer
// and loop) from a persisted run configuration. The CLI and the HTTP
// worker both build their runs through it.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/secantfit/internal/data"
	"github.com/cwbudde/secantfit/internal/model"
	"github.com/cwbudde/secantfit/internal/opt"
	"github.com/cwbudde/secantfit/internal/store"
	"github.com/cwbudde/secantfit/internal/train"
)

// Defaults for a run when the caller leaves a field unset.
const (
	DefaultOptimizer = "backprop"
	DefaultSteps     = 1000
	DefaultBatchSize = 10
	DefaultSeed      = 5000

	warmStartPopSize = 20
	warmStartRadius  = 1.0
)

// DefaultWidths is the layer layout of the default network.
var DefaultWidths = []int{2, 8, 8, 2}

// WithDefaults fills unset fields of cfg.
func WithDefaults(cfg store.RunConfig) store.RunConfig {
	if cfg.Optimizer == "" {
		cfg.Optimizer = DefaultOptimizer
	}
	if len(cfg.Widths) == 0 {
		cfg.Widths = append([]int(nil), DefaultWidths...)
	}
	if cfg.Steps <= 0 {
		cfg.Steps = DefaultSteps
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Seed == nil {
		seed := int64(DefaultSeed)
		cfg.Seed = &seed
	}
	return cfg
}

// OptimizerConfig resolves the optimizer kind and hyperparameters of cfg.
// Non-zero Gamma, Beta and LearningRate override the per-kind defaults.
func OptimizerConfig(cfg store.RunConfig, nparams int) (opt.Kind, opt.Config, error) {
	kind, strategy, err := opt.ParseKind(cfg.Optimizer)
	if err != nil {
		return "", opt.Config{}, err
	}

	oc := opt.DefaultConfig(kind, nparams)
	if strategy != "" {
		oc.Strategy = strategy
	}
	if cfg.Strategy != "" {
		oc.Strategy = opt.Strategy(cfg.Strategy)
	}
	if cfg.Gamma != 0 {
		oc.Gamma = cfg.Gamma
	}
	if cfg.Beta != 0 {
		oc.Beta = cfg.Beta
	}
	if cfg.LearningRate != 0 {
		oc.LearningRate = cfg.LearningRate
	}
	if err := oc.Validate(kind); err != nil {
		return "", opt.Config{}, err
	}
	return kind, oc, nil
}

// Session is a fully wired training run.
type Session struct {
	Config    store.RunConfig
	Data      data.Dataset
	Model     *model.MLP
	Batches   *data.Sampler
	Optimizer opt.Optimizer
	Loop      *train.Loop

	warmStart bool
}

// New builds a session for cfg on dataset d. If params is nil the network is
// initialized from cfg.Seed (and warm-started when cfg.WarmStartIter > 0);
// otherwise params are installed as the starting point.
func New(cfg store.RunConfig, d data.Dataset, params []float64) (*Session, error) {
	cfg = WithDefaults(cfg)

	m, err := model.NewMLP(cfg.Widths, model.L2Loss{})
	if err != nil {
		return nil, err
	}
	if err := d.Validate(m.Inputs(), m.Outputs()); err != nil {
		return nil, fmt.Errorf("dataset does not fit network %v: %w", cfg.Widths, err)
	}

	if params == nil {
		m.Init(rand.New(rand.NewSource(*cfg.Seed)))
	} else if err := m.SetParameters(params); err != nil {
		return nil, err
	}

	batches, err := data.NewSampler(d, cfg.BatchSize, *cfg.Seed)
	if err != nil {
		return nil, err
	}

	kind, oc, err := OptimizerConfig(cfg, m.NParams())
	if err != nil {
		return nil, err
	}
	o, err := opt.New(kind, oc)
	if err != nil {
		return nil, err
	}

	lc := train.DefaultConfig()
	lc.MaxIters = cfg.Steps
	lc.Convergence = train.ConvergenceConfig{Tolerance: cfg.Tol, Patience: 1}
	loop, err := train.NewLoop(lc)
	if err != nil {
		return nil, err
	}

	return &Session{
		Config:    cfg,
		Data:      d,
		Model:     m,
		Batches:   batches,
		Optimizer: o,
		Loop:      loop,
		warmStart: params == nil && cfg.WarmStartIter > 0,
	}, nil
}

// Run performs the optional warm start and then trains until the loop ends.
func (s *Session) Run(ctx context.Context) (*train.Result, error) {
	if s.warmStart {
		searcher := opt.NewMayfly(s.Config.WarmStartIter, warmStartPopSize, *s.Config.Seed)
		if _, err := train.WarmStart(searcher, s.Model, s.Data, warmStartRadius); err != nil {
			return nil, err
		}
	}

	slog.Info("Running session",
		"optimizer", s.Optimizer.Kind(),
		"widths", s.Config.Widths,
		"steps", s.Config.Steps,
		"batch_size", s.Config.BatchSize,
	)
	return s.Loop.Run(ctx, s.Model, s.Batches, s.Optimizer)
}

// Checkpoint captures the session's result as a checkpoint for runID.
// initialLoss overrides the result's initial loss when the run is a resume.
func Checkpoint(runID string, cfg store.RunConfig, res *train.Result, iterationOffset int, initialLoss float64) *store.Checkpoint {
	return store.NewCheckpoint(
		runID,
		res.Params,
		res.FinalLoss,
		initialLoss,
		iterationOffset+res.Iterations,
		string(res.State),
		cfg,
	)
}
