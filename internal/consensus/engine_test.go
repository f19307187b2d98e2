package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmesh/QuorumGo/internal/models"
)

func rsiStrategy(name string, stop, take float64) models.StrategyDefinition {
	return models.StrategyDefinition{
		Name: name,
		Signals: []models.Signal{
			{ID: "s1", Type: "RSI", Parameters: map[string]any{"period": 14.0, "threshold": 30.0}, Condition: "rsi < threshold"},
		},
		Filters: []models.Filter{
			{ID: "f1", Type: "volume", Condition: "volume > 1000000"},
		},
		Exits: models.ExitConditions{
			StopLoss:   models.ExitRule{Type: "percent", Value: stop},
			TakeProfit: models.ExitRule{Type: "percent", Value: take},
		},
	}
}

func macdStrategy(name string) models.StrategyDefinition {
	return models.StrategyDefinition{
		Name: name,
		Signals: []models.Signal{
			{ID: "m1", Type: "MACD", Parameters: map[string]any{"fast": 12.0, "slow": 26.0}, Condition: "macd crosses signal"},
		},
		Exits: models.ExitConditions{
			StopLoss:   models.ExitRule{Type: "percent", Value: 3.0},
			TakeProfit: models.ExitRule{Type: "percent", Value: 6.0},
		},
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)

	_, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{}, models.MethodWeightedVoting)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestAggregateSingleAgentPassthrough(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)
	s := rsiStrategy("solo", 2.0, 4.0)

	for _, method := range []models.AggregationMethod{
		models.MethodWeightedVoting,
		models.MethodBayesianAggregation,
		models.MethodBestOf,
	} {
		res, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{"a": s}, method)
		require.NoError(t, err)
		assert.Equal(t, models.MethodSingleAgent, res.Method)
		assert.Equal(t, 1.0, res.AgreementScore)
		assert.Equal(t, 1.0, res.Weights["a"])
		assert.Equal(t, s.Signals[0].Type, res.Strategy.Signals[0].Type)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)
	e.UpdatePerformance("a", 1.8, 0.62)
	e.UpdatePerformance("b", 0.4, 0.45)

	strategies := map[string]models.StrategyDefinition{
		"a": rsiStrategy("a", 2.0, 4.0),
		"b": rsiStrategy("b", 3.0, 5.0),
		"c": macdStrategy("c"),
	}

	for _, method := range []models.AggregationMethod{
		models.MethodWeightedVoting,
		models.MethodBayesianAggregation,
		models.MethodBestOf,
	} {
		res, err := e.Aggregate(context.Background(), strategies, method)
		require.NoError(t, err)

		var sum float64
		for _, w := range res.Weights {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "method %s", method)
	}
}

func TestAgreementScoreExtremes(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)

	same, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{
		"a": rsiStrategy("a", 2, 4),
		"b": rsiStrategy("b", 2, 4),
	}, models.MethodWeightedVoting)
	require.NoError(t, err)
	assert.Equal(t, 1.0, same.AgreementScore)

	disjoint, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{
		"a": rsiStrategy("a", 2, 4),
		"b": macdStrategy("b"),
	}, models.MethodWeightedVoting)
	require.NoError(t, err)
	assert.Equal(t, 0.0, disjoint.AgreementScore)
}

func TestSignalVoteCounts(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)

	res, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{
		"a": rsiStrategy("a", 2, 4),
		"b": rsiStrategy("b", 2, 4),
		"c": macdStrategy("c"),
	}, models.MethodWeightedVoting)
	require.NoError(t, err)

	assert.Equal(t, 2, res.SignalVotes["RSI"])
	assert.Equal(t, 1, res.SignalVotes["MACD"])
}

func TestUnanimousSignalSurvives(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)

	strategies := map[string]models.StrategyDefinition{
		"a": rsiStrategy("a", 2, 4),
		"b": rsiStrategy("b", 3, 6),
		"c": rsiStrategy("c", 2.5, 5),
	}

	for _, method := range []models.AggregationMethod{
		models.MethodWeightedVoting,
		models.MethodBayesianAggregation,
	} {
		res, err := e.Aggregate(context.Background(), strategies, method)
		require.NoError(t, err)

		types := res.Strategy.SignalTypes()
		_, ok := types["RSI"]
		assert.True(t, ok, "unanimous signal must survive under %s", method)
	}
}

func TestMajorityRSISurvivesAgainstDissenter(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)
	// A and B carry strong history; C has none.
	e.UpdatePerformance("a", 2.0, 0.65)
	e.UpdatePerformance("b", 1.5, 0.60)

	res, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{
		"a": rsiStrategy("a", 2, 4),
		"b": rsiStrategy("b", 3, 6),
		"c": macdStrategy("c"),
	}, models.MethodWeightedVoting)
	require.NoError(t, err)

	_, hasRSI := res.Strategy.SignalTypes()["RSI"]
	assert.True(t, hasRSI)
	assert.Greater(t, res.Weights["a"]+res.Weights["b"], 0.5)
}

func TestNumericParameterMerge(t *testing.T) {
	e := NewEngine(nil, Options{
		SharpeWeight:      0.6,
		WinRateWeight:     0.4,
		WeightFloor:       0.05,
		SurvivalThreshold: 0.5,
		FilterThreshold:   0.1,
		NumericMerge:      MergeWeightedMean,
	}, nil)

	a := rsiStrategy("a", 2, 4)
	b := rsiStrategy("b", 2, 4)
	b.Signals[0].Parameters["period"] = 20.0

	res, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{"a": a, "b": b}, models.MethodWeightedVoting)
	require.NoError(t, err)

	require.Len(t, res.Strategy.Signals, 1)
	period, ok := res.Strategy.Signals[0].Parameters["period"].(float64)
	require.True(t, ok)
	// Equal weights: mean of 14 and 20.
	assert.InDelta(t, 17.0, period, 1e-9)
}

func TestExitConditionsMergeAcrossAllAgents(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)

	res, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{
		"a": rsiStrategy("a", 2.0, 4.0),
		"b": rsiStrategy("b", 4.0, 8.0),
	}, models.MethodWeightedVoting)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, res.Strategy.Exits.StopLoss.Value, 1e-9)
	assert.InDelta(t, 6.0, res.Strategy.Exits.TakeProfit.Value, 1e-9)
	assert.Equal(t, "percent", res.Strategy.Exits.StopLoss.Type)
}

func TestBestOfPicksStructurallyComplete(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)

	weak := models.StrategyDefinition{Name: "weak", Signals: []models.Signal{{ID: "x", Type: "SMA"}}}
	strong := rsiStrategy("strong", 2, 4)

	res, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{
		"weak":   weak,
		"strong": strong,
	}, models.MethodBestOf)
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Weights["strong"])
	assert.Equal(t, 0.0, res.Weights["weak"])
	assert.Equal(t, "strong", res.Strategy.Name)
}

func TestPerformanceStoreRunningMean(t *testing.T) {
	store := NewMemoryPerformanceStore()
	store.Update("a", 1.0, 0.5)
	store.Update("a", 3.0, 0.7)

	perf, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, perf.Samples)
	assert.InDelta(t, 2.0, perf.AvgSharpe, 1e-9)
	assert.InDelta(t, 0.6, perf.AvgWinRate, 1e-9)
}

func TestPerformanceWeightBlendFavorsTrackRecord(t *testing.T) {
	e := NewEngine(nil, DefaultOptions(), nil)
	e.UpdatePerformance("good", 2.0, 0.7)
	e.UpdatePerformance("bad", -0.5, 0.3)

	res, err := e.Aggregate(context.Background(), map[string]models.StrategyDefinition{
		"good": rsiStrategy("good", 2, 4),
		"bad":  rsiStrategy("bad", 2, 4),
	}, models.MethodWeightedVoting)
	require.NoError(t, err)

	assert.Greater(t, res.Weights["good"], res.Weights["bad"])
}
