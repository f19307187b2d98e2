package reflection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmesh/QuorumGo/internal/models"
)

func TestReflectOnTaskHeuristicFallback(t *testing.T) {
	e := NewEngine(nil, nil, nil)

	res, err := e.ReflectOnTask(context.Background(),
		"tune the RSI strategy thresholds",
		"lowered the entry threshold to 25",
		map[string]any{"success": true},
		nil)
	require.NoError(t, err)

	assert.True(t, res.UsedFallback)
	assert.Len(t, res.Reflections, len(promptKeys))
	for _, key := range promptKeys {
		assert.NotEmpty(t, res.Reflections[key], key)
	}
	assert.InDelta(t, 7.0, res.QualityScore, 1e-9, "heuristic success text rates 7/10")
	assert.NotEmpty(t, res.LessonsLearned)
	assert.NotEmpty(t, res.ImprovementActions)
}

func TestReflectOnTaskFailedOutcome(t *testing.T) {
	e := NewEngine(nil, nil, nil)

	res, err := e.ReflectOnTask(context.Background(),
		"backtest the MACD variant",
		"ran backtest against 2024 data",
		map[string]any{"success": false, "error": "insufficient candles"},
		nil)
	require.NoError(t, err)

	assert.InDelta(t, 4.0, res.QualityScore, 1e-9)
	assert.Contains(t, res.Reflections[KeyWhatDidntWork], "insufficient candles")
	assert.NotEmpty(t, res.KnowledgeGaps)
}

func TestReflectOnTaskInjectedFuncAndErrorFallback(t *testing.T) {
	reflect := func(ctx context.Context, key, prompt string) (string, error) {
		if key == KeySolutionQuality {
			return "A strong run overall, I would rate this 9/10 for execution.", nil
		}
		return "", errors.New("model unavailable")
	}
	e := NewEngine(reflect, nil, nil)

	res, err := e.ReflectOnTask(context.Background(),
		"evaluate position sizing",
		"used fixed fractional sizing",
		map[string]any{"success": true},
		nil)
	require.NoError(t, err)

	assert.True(t, res.UsedFallback, "failed keys fall back to heuristics")
	assert.InDelta(t, 9.0, res.QualityScore, 1e-9, "injected quality text wins over heuristics")
}

func TestExtractQuality(t *testing.T) {
	cases := map[string]float64{
		"I rate this 8/10 overall":        8.0,
		"quality: 7.5 with minor issues":  7.5,
		"an excellent piece of work":      8.5,
		"frankly a poor showing":          4.0,
		"nothing numeric or descriptive":  6.0,
		"score 55/10 is out of range but": 6.0,
	}
	for text, want := range cases {
		assert.InDelta(t, want, extractQuality(text), 1e-9, "text %q", text)
	}
}

func TestExtractPatternsPromotesRepeatedLessons(t *testing.T) {
	e := NewEngine(nil, nil, nil)

	// Three successful reflections produce the same heuristic lesson text.
	for i := 0; i < 3; i++ {
		_, err := e.ReflectOnTask(context.Background(), "task", "solution",
			map[string]any{"success": true}, nil)
		require.NoError(t, err)
	}
	// One failure contributes a different lesson only once.
	_, err := e.ReflectOnTask(context.Background(), "task", "solution",
		map[string]any{"success": false}, nil)
	require.NoError(t, err)

	patterns := e.ExtractPatterns(10)
	require.NotEmpty(t, patterns)

	for _, p := range patterns {
		assert.Equal(t, 3, p.Frequency, "single-occurrence lessons are not promoted")
		assert.InDelta(t, 0.7, p.SuccessRate, 1e-9)
		assert.Contains(t, p.Recommendation, "Continue:")
		assert.NotContains(t, p.Lesson, "validation", "the one-off failure lesson stays out")
	}
}

func TestExtractPatternsRespectsRecencyWindow(t *testing.T) {
	e := NewEngine(nil, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := e.ReflectOnTask(context.Background(), "task", "solution",
			map[string]any{"success": true}, nil)
		require.NoError(t, err)
	}

	assert.Empty(t, e.ExtractPatterns(1), "a window of one cannot contain a repeat")
	assert.NotEmpty(t, e.ExtractPatterns(3))
}

func TestGetRecommendations(t *testing.T) {
	e := NewEngine(nil, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := e.ReflectOnTask(context.Background(), "verify strategy results", "checked outputs",
			map[string]any{"success": false}, nil)
		require.NoError(t, err)
	}

	recs := e.GetRecommendations("verification of backtest results", 3)
	require.NotEmpty(t, recs)
	assert.LessOrEqual(t, len(recs), 3)
}

type memoryReflectionStore struct {
	records []models.ReflectionResult
}

func (m *memoryReflectionStore) SaveReflection(r models.ReflectionResult) error {
	m.records = append(m.records, r)
	return nil
}

func (m *memoryReflectionStore) LoadReflections() ([]models.ReflectionResult, error) {
	return append([]models.ReflectionResult(nil), m.records...), nil
}

func TestReflectionPersistenceRoundTrip(t *testing.T) {
	store := &memoryReflectionStore{}

	e := NewEngine(nil, store, nil)
	res, err := e.ReflectOnTask(context.Background(), "task", "solution",
		map[string]any{"success": true}, nil)
	require.NoError(t, err)

	reloaded := NewEngine(nil, store, nil)
	history := reloaded.History()
	require.Len(t, history, 1)
	assert.Equal(t, res.ID, history[0].ID)
}
