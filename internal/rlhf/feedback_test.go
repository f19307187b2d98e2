package rlhf

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmesh/QuorumGo/internal/models"
)

type memorySampleStore struct {
	mu      sync.Mutex
	records []models.FeedbackSample
	saveErr error
}

func (m *memorySampleStore) SaveSample(s models.FeedbackSample) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, s)
	return nil
}

func (m *memorySampleStore) LoadSamples() ([]models.FeedbackSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.FeedbackSample, len(m.records))
	copy(out, m.records)
	return out, nil
}

func TestCollectHumanFeedback(t *testing.T) {
	fs := NewFeedbackStore(nil, nil, DefaultFeedbackOptions(), nil)

	sample, err := fs.CollectHumanFeedback(samplePrompt, richResponse, poorResponse, models.PreferA, "richer detail")
	require.NoError(t, err)

	assert.NotEmpty(t, sample.ID)
	assert.Equal(t, 1.0, sample.Confidence)
	assert.Equal(t, models.PreferenceSourceHuman, sample.Source)
	assert.Equal(t, models.PreferA, sample.Preference)
	assert.Equal(t, 1, fs.Len())
}

func TestCollectHumanFeedbackRejectsBadPreference(t *testing.T) {
	fs := NewFeedbackStore(nil, nil, DefaultFeedbackOptions(), nil)

	_, err := fs.CollectHumanFeedback(samplePrompt, richResponse, poorResponse, 2, "")
	require.Error(t, err)
	assert.Zero(t, fs.Len())
}

func TestCollectAIFeedbackHeuristicPairs(t *testing.T) {
	fs := NewFeedbackStore(nil, nil, DefaultFeedbackOptions(), nil)

	samples := fs.CollectAIFeedback(samplePrompt, []string{richResponse, poorResponse, "a medium answer about RSI momentum"}, nil)

	// 3 responses -> 3 unordered pairs.
	require.Len(t, samples, 3)
	for _, s := range samples {
		assert.Equal(t, models.PreferenceSourceAI, s.Source)
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
		assert.NotEmpty(t, s.Reasoning)
	}

	// The heuristic must prefer the rich response over the trivial one.
	first := samples[0]
	assert.Equal(t, richResponse, first.ResponseA)
	assert.Equal(t, poorResponse, first.ResponseB)
	assert.Equal(t, models.PreferA, first.Preference)
}

func TestCollectAIFeedbackTooFewResponses(t *testing.T) {
	fs := NewFeedbackStore(nil, nil, DefaultFeedbackOptions(), nil)

	assert.Nil(t, fs.CollectAIFeedback(samplePrompt, []string{richResponse}, nil))
	assert.Nil(t, fs.CollectAIFeedback(samplePrompt, nil, nil))
}

func TestCollectAIFeedbackSkipsFailingEvaluatorPairs(t *testing.T) {
	fs := NewFeedbackStore(nil, nil, DefaultFeedbackOptions(), nil)

	calls := 0
	evaluator := func(prompt, a, b string) (int, float64, string, error) {
		calls++
		if calls == 1 {
			return 0, 0, "", errors.New("upstream timeout")
		}
		return models.PreferB, 0.8, "second looks better", nil
	}

	samples := fs.CollectAIFeedback(samplePrompt, []string{"one", "two", "three"}, evaluator)
	assert.Equal(t, 3, calls)
	assert.Len(t, samples, 2)
}

func TestTrainRewardModelRespectsMinimum(t *testing.T) {
	opts := DefaultFeedbackOptions()
	opts.MinSamples = 5
	fs := NewFeedbackStore(nil, nil, opts, nil)

	_, err := fs.CollectHumanFeedback(samplePrompt, richResponse, poorResponse, models.PreferA, "")
	require.NoError(t, err)

	metrics, err := fs.TrainRewardModel(false)
	require.NoError(t, err)
	assert.Nil(t, metrics, "below minimum without force is a no-op")

	metrics, err = fs.TrainRewardModel(true)
	require.NoError(t, err)
	require.NotNil(t, metrics)
	assert.Equal(t, 1, metrics.Samples)
}

func TestAutoTrainAfterDoubleMinimum(t *testing.T) {
	opts := DefaultFeedbackOptions()
	opts.MinSamples = 2
	opts.TrainEpochs = 5
	fs := NewFeedbackStore(nil, nil, opts, nil)

	for i := 0; i < 4; i++ {
		_, err := fs.CollectHumanFeedback(samplePrompt, poorResponse, richResponse, models.PreferB, "")
		require.NoError(t, err)
	}

	assert.NotEmpty(t, fs.Model().History(), "reaching 2x minimum should trigger training")
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := &memorySampleStore{}

	fs := NewFeedbackStore(nil, store, DefaultFeedbackOptions(), nil)
	_, err := fs.CollectHumanFeedback(samplePrompt, richResponse, poorResponse, models.PreferA, "detail wins")
	require.NoError(t, err)
	fs.CollectAIFeedback(samplePrompt, []string{richResponse, poorResponse}, nil)

	reloaded := NewFeedbackStore(nil, store, DefaultFeedbackOptions(), nil)
	assert.Equal(t, fs.Len(), reloaded.Len())
	assert.Equal(t, fs.Samples()[0].ID, reloaded.Samples()[0].ID)
}

func TestPersistenceFailureIsNotFatal(t *testing.T) {
	store := &memorySampleStore{saveErr: errors.New("disk full")}
	fs := NewFeedbackStore(nil, store, DefaultFeedbackOptions(), nil)

	_, err := fs.CollectHumanFeedback(samplePrompt, richResponse, poorResponse, models.PreferA, "")
	require.NoError(t, err)
	assert.Equal(t, 1, fs.Len(), "buffer keeps the sample even when persistence fails")
}

func TestSelfEvaluate(t *testing.T) {
	fs := NewFeedbackStore(nil, nil, DefaultFeedbackOptions(), nil)

	rich := fs.SelfEvaluate(samplePrompt, richResponse)
	poor := fs.SelfEvaluate(samplePrompt, "maybe, not sure, possibly a guaranteed profit with risk-free all in bets")

	for _, score := range []models.QualityScore{rich, poor} {
		for name, v := range map[string]float64{
			"helpfulness": score.Helpfulness,
			"accuracy":    score.Accuracy,
			"relevance":   score.Relevance,
			"safety":      score.Safety,
			"clarity":     score.Clarity,
			"creativity":  score.Creativity,
		} {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 1.0, name)
		}
		assert.GreaterOrEqual(t, score.Overall(), 0.0)
		assert.LessOrEqual(t, score.Overall(), 1.0)
	}

	assert.Greater(t, rich.Safety, poor.Safety)
	assert.Greater(t, rich.Accuracy, poor.Accuracy)
	assert.Greater(t, rich.Overall(), poor.Overall())
}
