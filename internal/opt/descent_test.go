package opt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestDescentMethod_MonotoneConvergence(t *testing.T) {
	cfg := DefaultConfig(KindDescent, 2)
	cfg.Beta = 0.5
	cfg.Gamma = 0.0001
	o := MustNew(KindDescent, cfg)

	x := []float64{10, 10}
	prev := shifted(x)
	iters := 0
	for ; iters < 200; iters++ {
		if math.Hypot(x[0]-3, x[1]+2) < 1e-2 {
			break
		}
		next, err := o.Step(x, shiftedGrad(x), shifted)
		require.NoError(t, err)

		loss := shifted(next)
		assert.LessOrEqual(t, loss, prev, "loss increased at iteration %d", iters)
		prev = loss
		x = next
	}

	assert.Less(t, iters, 200)
	assert.InDelta(t, 3, x[0], 1e-2)
	assert.InDelta(t, -2, x[1], 1e-2)
}

func TestDescentMethod_IllConditionedQuadratic(t *testing.T) {
	q := quadratic{a: []float64{1, 9}}
	o := MustNew(KindDescent, DefaultConfig(KindDescent, 2))

	x := []float64{4, -3}
	for i := 0; i < 200; i++ {
		next, err := o.Step(x, q.grad(x), q.value)
		require.NoError(t, err)
		require.LessOrEqual(t, q.value(next), q.value(x))
		x = next
	}
	assert.Less(t, q.value(x), 1e-10)
	assert.Greater(t, o.Stats().Shrinks, 0)
}

func TestFixedStep(t *testing.T) {
	cfg := DefaultConfig(KindFixed, 3)
	cfg.LearningRate = 0.25
	o := MustNew(KindFixed, cfg)

	x := []float64{1, 2, 3}
	next, err := o.Step(x, []float64{4, -4, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3, 3}, next)
	assert.Equal(t, []float64{1, 2, 3}, x)
	assert.Equal(t, 1, o.Stats().Steps)
}

func TestFixedStep_DetectsOverflow(t *testing.T) {
	cfg := DefaultConfig(KindFixed, 1)
	cfg.LearningRate = 1e308
	o := MustNew(KindFixed, cfg)

	_, err := o.Step([]float64{0}, []float64{-1e10}, nil)
	assert.ErrorIs(t, err, ErrNumericalInstability)
}

// The first call has no previous point, so every secant method falls back to
// the same Armijo steepest descent step.
func TestFirstStepIsGradientStepForEveryStrategy(t *testing.T) {
	q := quadratic{a: []float64{1, 3, 5}}
	x := []float64{1, -2, 0.5}
	g := q.grad(x)

	var want []float64
	for _, kind := range []Kind{KindDescent, KindBFGS, KindInverseBFGS, KindBarzilaiBorwein} {
		cfg := DefaultConfig(kind, 3)
		cfg.Gamma = 0.0001
		cfg.Beta = 0.5
		o := MustNew(kind, cfg)

		got, err := o.Step(x, g, q.value)
		require.NoError(t, err, string(kind))
		if want == nil {
			want = got
			continue
		}
		assert.InDeltaSlice(t, want, got, 1e-12, string(kind))
	}
}

func TestStepNeverProducesNonFiniteParameters(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q := quadratic{a: []float64{0.5, 1, 2, 4, 8}}

	kinds := map[Kind]Strategy{
		KindDescent:         "",
		KindBFGS:            "",
		KindInverseBFGS:     "",
		KindBarzilaiBorwein: StrategyAlternate,
		KindFixed:           "",
	}

	for trial := 0; trial < 20; trial++ {
		for kind, strategy := range kinds {
			cfg := DefaultConfig(kind, 5)
			if strategy != "" {
				cfg.Strategy = strategy
			}
			cfg.LearningRate = 0.1
			o := MustNew(kind, cfg)

			x := make([]float64, 5)
			for i := range x {
				x[i] = rng.NormFloat64() * 10
			}
			for i := 0; i < 10; i++ {
				next, err := o.Step(x, q.grad(x), q.value)
				require.NoError(t, err, "%s trial %d step %d", kind, trial, i)
				require.False(t, floats.HasNaN(next), "%s produced NaN", kind)
				for _, v := range next {
					require.False(t, math.IsInf(v, 0), "%s produced Inf", kind)
				}
				x = next
			}
		}
	}
}
