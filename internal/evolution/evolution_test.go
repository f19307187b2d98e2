package evolution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmesh/QuorumGo/internal/consensus"
	"github.com/quantmesh/QuorumGo/internal/models"
	"github.com/quantmesh/QuorumGo/internal/rlhf"
)

type generatorFunc func(ctx context.Context, generation int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error)

func (f generatorFunc) Generate(ctx context.Context, generation int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
	return f(ctx, generation, parents)
}

type evaluatorFunc func(ctx context.Context, strategy models.StrategyDefinition) (models.BacktestMetrics, error)

func (f evaluatorFunc) Backtest(ctx context.Context, strategy models.StrategyDefinition) (models.BacktestMetrics, error) {
	return f(ctx, strategy)
}

func candidateSet(gen int) map[string]models.StrategyDefinition {
	out := make(map[string]models.StrategyDefinition)
	for _, agent := range []string{"alpha", "beta", "gamma"} {
		out[agent] = models.StrategyDefinition{
			Name:    fmt.Sprintf("%s-g%d", agent, gen),
			Signals: []models.Signal{{ID: "s", Type: "RSI"}},
			Exits: models.ExitConditions{
				StopLoss:   models.ExitRule{Type: "percent", Value: 2},
				TakeProfit: models.ExitRule{Type: "percent", Value: 4},
			},
		}
	}
	return out
}

// improvingEvaluator gives alpha the best metrics and makes every
// generation slightly better than the last.
func improvingEvaluator() Evaluator {
	return evaluatorFunc(func(ctx context.Context, s models.StrategyDefinition) (models.BacktestMetrics, error) {
		base := 0.5
		if s.Name[:5] == "alpha" {
			base = 1.5
		}
		var gen int
		fmt.Sscanf(s.Name[len(s.Name)-1:], "%d", &gen)
		return models.BacktestMetrics{
			SharpeRatio:  base + 0.2*float64(gen),
			WinRate:      0.55,
			MaxDrawdown:  0.10,
			ProfitFactor: 1.4,
			TotalTrades:  40,
		}, nil
	})
}

func TestComputeFitness(t *testing.T) {
	w := DefaultFitnessWeights()

	strong := ComputeFitness(models.BacktestMetrics{
		SharpeRatio: 2.4, WinRate: 0.65, MaxDrawdown: 0.08, ProfitFactor: 2.1,
	}, w)
	weak := ComputeFitness(models.BacktestMetrics{
		SharpeRatio: 0.2, WinRate: 0.40, MaxDrawdown: 0.45, ProfitFactor: 0.8,
	}, w)

	assert.Greater(t, strong, weak)

	// Higher drawdown strictly lowers fitness, all else equal.
	lowDD := ComputeFitness(models.BacktestMetrics{SharpeRatio: 1, WinRate: 0.5, MaxDrawdown: 0.05, ProfitFactor: 1}, w)
	highDD := ComputeFitness(models.BacktestMetrics{SharpeRatio: 1, WinRate: 0.5, MaxDrawdown: 0.50, ProfitFactor: 1}, w)
	assert.Greater(t, lowDD, highDD)
}

func TestRunSelectsBestAgent(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, g int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
		if g > 1 {
			assert.Len(t, parents, 2, "survivors become the next generation's parents")
		}
		return candidateSet(g), nil
	})

	store := consensus.NewMemoryPerformanceStore()
	engine := consensus.NewEngine(store, consensus.DefaultOptions(), nil)

	cfg := DefaultConfig()
	cfg.MaxGenerations = 3
	cfg.PlateauEpsilon = 0.001

	e := New(gen, improvingEvaluator(), nil, nil, engine, nil)
	res, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "alpha", res.BestAgent)
	assert.Len(t, res.Generations, 3)
	assert.False(t, res.Plateaued)
	assert.Contains(t, res.Best.Name, "alpha")

	// Backtest outcomes must flow into the performance store.
	perf, ok := store.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, 3, perf.Samples)
}

func TestRunStopsOnPlateau(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, g int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
		return candidateSet(g), nil
	})
	// Constant metrics: fitness never improves after generation one.
	flat := evaluatorFunc(func(ctx context.Context, s models.StrategyDefinition) (models.BacktestMetrics, error) {
		return models.BacktestMetrics{SharpeRatio: 1.0, WinRate: 0.5, MaxDrawdown: 0.1, ProfitFactor: 1.2}, nil
	})

	cfg := DefaultConfig()
	cfg.MaxGenerations = 10
	cfg.PlateauPatience = 2

	e := New(gen, flat, nil, nil, nil, nil)
	res, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, res.Plateaued)
	assert.Len(t, res.Generations, 3, "one improving generation plus two stale ones")
}

func TestRunGeneratorFailure(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, g int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
		return nil, errors.New("llm unavailable")
	})

	e := New(gen, improvingEvaluator(), nil, nil, nil, nil)
	_, err := e.Run(context.Background(), DefaultConfig())
	assert.Error(t, err)
}

func TestRunEmptyGeneration(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, g int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
		return map[string]models.StrategyDefinition{}, nil
	})

	e := New(gen, improvingEvaluator(), nil, nil, nil, nil)
	_, err := e.Run(context.Background(), DefaultConfig())
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestRunSkipsFailedBacktests(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, g int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
		return candidateSet(g), nil
	})
	eval := evaluatorFunc(func(ctx context.Context, s models.StrategyDefinition) (models.BacktestMetrics, error) {
		if s.Name[:5] == "gamma" {
			return models.BacktestMetrics{}, errors.New("backtest service down")
		}
		return models.BacktestMetrics{SharpeRatio: 1.0, WinRate: 0.5, MaxDrawdown: 0.1, ProfitFactor: 1.2}, nil
	})

	cfg := DefaultConfig()
	cfg.MaxGenerations = 1

	e := New(gen, eval, nil, nil, nil, nil)
	res, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, res.Generations, 1)
	assert.Len(t, res.Generations[0].Fitness, 2)
	assert.NotContains(t, res.Generations[0].Fitness, "gamma")
}

func TestRunCollectsSiblingFeedback(t *testing.T) {
	gen := generatorFunc(func(ctx context.Context, g int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
		return candidateSet(g), nil
	})

	feedback := rlhf.NewFeedbackStore(nil, nil, rlhf.DefaultFeedbackOptions(), nil)

	cfg := DefaultConfig()
	cfg.MaxGenerations = 1

	e := New(gen, improvingEvaluator(), nil, feedback, nil, nil)
	_, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	// 3 siblings -> 3 unordered pairs of consensus-ranked feedback.
	assert.Equal(t, 3, feedback.Len())
	for _, s := range feedback.Samples() {
		assert.Equal(t, models.PreferenceSourceAI, s.Source)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := generatorFunc(func(ctx context.Context, g int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
		return candidateSet(g), nil
	})

	e := New(gen, improvingEvaluator(), nil, nil, nil, nil)
	_, err := e.Run(ctx, DefaultConfig())
	require.ErrorIs(t, err, context.Canceled)
}
