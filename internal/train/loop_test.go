package train

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/secantfit/internal/data"
	"github.com/cwbudde/secantfit/internal/model"
	"github.com/cwbudde/secantfit/internal/opt"
)

// quadOracle is ½‖p‖² regardless of the batch. Evaluate starts returning NaN
// once nanAfter evaluations have happened (0 disables).
type quadOracle struct {
	params   []float64
	nanAfter int
	evals    int
}

func newQuadOracle(p ...float64) *quadOracle {
	return &quadOracle{params: append([]float64(nil), p...)}
}

func (q *quadOracle) NParams() int          { return len(q.params) }
func (q *quadOracle) Parameters() []float64 { return append([]float64(nil), q.params...) }

func (q *quadOracle) SetParameters(p []float64) error {
	if len(p) != len(q.params) {
		return errors.New("length mismatch")
	}
	q.params = append(q.params[:0], p...)
	return nil
}

func (q *quadOracle) Loss(p []float64, _ data.Batch) (float64, error) {
	var sum float64
	for _, v := range p {
		sum += 0.5 * v * v
	}
	return sum, nil
}

func (q *quadOracle) Evaluate(p []float64, b data.Batch) (float64, []float64, error) {
	q.evals++
	if q.nanAfter > 0 && q.evals > q.nanAfter {
		return math.NaN(), make([]float64, len(p)), nil
	}
	loss, _ := q.Loss(p, b)
	return loss, append([]float64(nil), p...), nil
}

type emptyBatches struct{}

func (emptyBatches) Next() data.Batch { return data.Batch{} }

// scripted returns errs[i] on call i and otherwise takes a fixed step.
type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) Step(x, grad []float64, _ opt.Objective) ([]float64, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	next := make([]float64, len(x))
	for j := range x {
		next[j] = x[j] - 0.1*grad[j]
	}
	return next, nil
}

func (s *scripted) Kind() opt.Kind   { return opt.KindFixed }
func (s *scripted) Stats() opt.Stats { return opt.Stats{Steps: s.calls} }

func repeatErr(err error, n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}
	return errs
}

func newTestLoop(t *testing.T, cfg Config) *Loop {
	t.Helper()
	l, err := NewLoop(cfg)
	require.NoError(t, err)
	return l
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero iterations", func(c *Config) { c.MaxIters = 0 }, true},
		{"negative tolerance", func(c *Config) { c.Convergence.Tolerance = -1 }, true},
		{"NaN tolerance", func(c *Config) { c.Convergence.Tolerance = math.NaN() }, true},
		{"negative failures", func(c *Config) { c.MaxLineSearchFailures = -1 }, true},
		{"zero failures", func(c *Config) { c.MaxLineSearchFailures = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewLoop(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_Converges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIters = 50
	cfg.Convergence = ConvergenceConfig{Tolerance: 1e-12, Patience: 1}

	m := newQuadOracle(3, -4)
	o := opt.MustNew(opt.KindDescent, opt.DefaultConfig(opt.KindDescent, 2))

	res, err := newTestLoop(t, cfg).Run(context.Background(), m, emptyBatches{}, o)
	require.NoError(t, err)

	assert.Equal(t, StateConverged, res.State)
	assert.Less(t, res.Iterations, cfg.MaxIters)
	assert.Len(t, res.LossHistory, res.Iterations)
	assert.InDelta(t, 12.5, res.InitialLoss, 1e-12)
	assert.InDelta(t, 0, res.FinalLoss, 1e-12)
	assert.Equal(t, m.params, res.Params)
}

func TestRun_MaxIters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIters = 5
	cfg.Convergence = DisabledConvergenceConfig()

	m := newQuadOracle(1, 1)
	res, err := newTestLoop(t, cfg).Run(context.Background(), m, emptyBatches{}, &scripted{})
	require.NoError(t, err)

	assert.Equal(t, StateMaxIters, res.State)
	assert.Equal(t, 5, res.Iterations)
	require.Len(t, res.LossHistory, 5)
	for i := 1; i < len(res.LossHistory); i++ {
		assert.Less(t, res.LossHistory[i], res.LossHistory[i-1])
	}
	assert.InDelta(t, 0.9*0.9*0.9*0.9*0.9, res.Params[0], 1e-12)
	assert.Equal(t, 5, res.Stats.Steps)
}

func TestRun_Interrupted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Convergence = DisabledConvergenceConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := newTestLoop(t, cfg)
	var seen []int
	l.OnStep(func(info StepInfo) {
		seen = append(seen, info.Iteration)
		if info.Iteration == 2 {
			cancel()
		}
	})

	m := newQuadOracle(1, 2)
	res, err := l.Run(ctx, m, emptyBatches{}, &scripted{})
	require.NoError(t, err)

	assert.Equal(t, StateInterrupted, res.State)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, m.params, res.Params)
}

func TestRun_InterruptedBeforeFirstStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newQuadOracle(1, 2)
	res, err := newTestLoop(t, DefaultConfig()).Run(ctx, m, emptyBatches{}, &scripted{})
	require.NoError(t, err)

	assert.Equal(t, StateInterrupted, res.State)
	assert.Zero(t, res.Iterations)
	assert.Empty(t, res.LossHistory)
	assert.Equal(t, []float64{1, 2}, res.Params)
}

func TestRun_NonFiniteLossIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Convergence = DisabledConvergenceConfig()

	m := newQuadOracle(1, 1)
	m.nanAfter = 3

	res, err := newTestLoop(t, cfg).Run(context.Background(), m, emptyBatches{}, &scripted{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, opt.ErrNumericalInstability))

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, res.LossHistory, 3)
	assert.Equal(t, m.params, res.Params, "last valid parameters are kept")
	for _, v := range res.Params {
		assert.False(t, math.IsNaN(v))
	}
}

func TestRun_LineSearchFailureRecovers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIters = 6
	cfg.MaxLineSearchFailures = 2
	cfg.Convergence = DisabledConvergenceConfig()

	l := newTestLoop(t, cfg)
	var failed []bool
	var params [][]float64
	l.OnStep(func(info StepInfo) {
		failed = append(failed, info.LineSearchFailed)
		params = append(params, append([]float64(nil), info.Params...))
	})

	o := &scripted{errs: []error{nil, opt.ErrLineSearchFailed, opt.ErrLineSearchFailed, nil}}
	res, err := l.Run(context.Background(), newQuadOracle(1), emptyBatches{}, o)
	require.NoError(t, err)

	assert.Equal(t, StateMaxIters, res.State)
	assert.Equal(t, 2, res.LineSearchFailures)
	assert.Equal(t, []bool{false, true, true, false, false, false}, failed)
	assert.Equal(t, params[0], params[1])
	assert.Equal(t, params[1], params[2])
	assert.Equal(t, res.LossHistory[1], res.LossHistory[2])
}

func TestRun_TooManyLineSearchFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLineSearchFailures = 2
	cfg.Convergence = DisabledConvergenceConfig()

	o := &scripted{errs: repeatErr(opt.ErrLineSearchFailed, 100)}
	res, err := newTestLoop(t, cfg).Run(context.Background(), newQuadOracle(1, 1), emptyBatches{}, o)
	require.Error(t, err)
	assert.True(t, errors.Is(err, opt.ErrLineSearchFailed))

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 3, res.LineSearchFailures)
	assert.Equal(t, []float64{1, 1}, res.Params)
}

func TestRun_InvalidDescentDirectionIsFatal(t *testing.T) {
	o := &scripted{errs: []error{nil, opt.ErrInvalidDescentDirection}}
	res, err := newTestLoop(t, DefaultConfig()).Run(context.Background(), newQuadOracle(2), emptyBatches{}, o)
	require.Error(t, err)
	assert.True(t, errors.Is(err, opt.ErrInvalidDescentDirection))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.InDelta(t, 1.8, res.Params[0], 1e-12)
}

func TestRun_TrainsMLP(t *testing.T) {
	for _, kind := range []opt.Kind{opt.KindDescent, opt.KindBFGS, opt.KindInverseBFGS} {
		t.Run(string(kind), func(t *testing.T) {
			widths := []int{2, 8, 8, 2}
			m, err := model.NewMLP(widths, model.L2Loss{})
			require.NoError(t, err)
			m.Init(rand.New(rand.NewSource(5000)))

			d := data.Default()
			src, err := data.NewSampler(d, d.Len(), 5000)
			require.NoError(t, err)

			o, err := opt.New(kind, opt.DefaultConfig(kind, m.NParams()))
			require.NoError(t, err)

			cfg := DefaultConfig()
			cfg.MaxIters = 200
			cfg.Convergence = DisabledConvergenceConfig()

			res, err := newTestLoop(t, cfg).Run(context.Background(), m, src, o)
			require.NoError(t, err)

			assert.Equal(t, StateMaxIters, res.State)
			assert.Less(t, res.FinalLoss, res.InitialLoss)
			assert.Equal(t, m.Parameters(), res.Params)
			for i := 1; i < len(res.LossHistory); i++ {
				assert.LessOrEqual(t, res.LossHistory[i], res.LossHistory[i-1]+1e-12,
					"full-batch line search keeps the loss monotone")
			}
		})
	}
}
