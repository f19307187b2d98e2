package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmesh/QuorumGo/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "quorum.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSampleRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := models.FeedbackSample{
		ID:         "sample-1",
		Prompt:     "which entry rule?",
		ResponseA:  "RSI below 30",
		ResponseB:  "MACD cross",
		Preference: models.PreferA,
		Source:     models.PreferenceSourceHuman,
		Confidence: 1.0,
		Reasoning:  "simpler to verify",
		CreatedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveSample(in))

	loaded, err := s.LoadSamples()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, in, loaded[0])
}

func TestSampleUpsert(t *testing.T) {
	s := newTestStore(t)

	sample := models.FeedbackSample{ID: "dup", Prompt: "p", Source: models.PreferenceSourceAI, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveSample(sample))

	sample.Reasoning = "updated"
	require.NoError(t, s.SaveSample(sample))

	loaded, err := s.LoadSamples()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "updated", loaded[0].Reasoning)
}

func TestReflectionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := models.ReflectionResult{
		ID:                 "refl-1",
		Task:               "tune thresholds",
		Solution:           "lowered entry to 25",
		Outcome:            map[string]any{"success": true},
		Reflections:        map[string]string{"task_analysis": "straightforward tuning task"},
		QualityScore:       7.5,
		LessonsLearned:     []string{"small steps work"},
		ImprovementActions: []string{"should validate on more symbols"},
		CreatedAt:          time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveReflection(in))

	loaded, err := s.LoadReflections()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, in.ID, loaded[0].ID)
	assert.Equal(t, in.QualityScore, loaded[0].QualityScore)
	assert.Equal(t, in.LessonsLearned, loaded[0].LessonsLearned)
	assert.Equal(t, true, loaded[0].Outcome["success"])
}

func TestLoadFromEmptyStore(t *testing.T) {
	s := newTestStore(t)

	samples, err := s.LoadSamples()
	require.NoError(t, err)
	assert.Empty(t, samples)

	reflections, err := s.LoadReflections()
	require.NoError(t, err)
	assert.Empty(t, reflections)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quorum.db")

	s, err := NewStore(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveSample(models.FeedbackSample{ID: "a", Source: models.PreferenceSourceSelf, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Close())

	reopened, err := NewStore(dbPath, nil)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadSamples()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].ID)
}
