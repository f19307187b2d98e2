package rlhf

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
)

// SampleStore persists feedback samples. Implementations must tolerate
// concurrent Save calls; LoadAll is only called at startup.
type SampleStore interface {
	SaveSample(sample models.FeedbackSample) error
	LoadSamples() ([]models.FeedbackSample, error)
}

// EvaluatorFunc judges a pair of responses to a prompt, typically backed by
// an LLM. It returns the preference (-1/0/1), a confidence in [0,1] and
// free-text reasoning.
type EvaluatorFunc func(prompt, responseA, responseB string) (int, float64, string, error)

// FeedbackOptions tunes the store's training behavior.
type FeedbackOptions struct {
	MinSamples   int
	TrainEpochs  int
	LearningRate float64
}

func DefaultFeedbackOptions() FeedbackOptions {
	return FeedbackOptions{
		MinSamples:   10,
		TrainEpochs:  50,
		LearningRate: 0.01,
	}
}

// FeedbackStore collects pairwise preference samples from human, AI and
// self-evaluation sources, and owns the reward model trained on them.
type FeedbackStore struct {
	mu      sync.Mutex
	samples []models.FeedbackSample
	model   *RewardModel
	store   SampleStore
	opts    FeedbackOptions
	logger  *logrus.Logger
}

// NewFeedbackStore wires the store. A nil SampleStore means in-memory only;
// with one supplied, previously persisted samples are reloaded into the
// buffer.
func NewFeedbackStore(model *RewardModel, store SampleStore, opts FeedbackOptions, logger *logrus.Logger) *FeedbackStore {
	if logger == nil {
		logger = logrus.New()
	}
	if model == nil {
		model = NewRewardModel(logger)
	}
	if opts.MinSamples < 1 {
		opts.MinSamples = DefaultFeedbackOptions().MinSamples
	}
	if opts.TrainEpochs < 1 {
		opts.TrainEpochs = DefaultFeedbackOptions().TrainEpochs
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = DefaultFeedbackOptions().LearningRate
	}

	fs := &FeedbackStore{
		model:  model,
		store:  store,
		opts:   opts,
		logger: logger,
	}

	if store != nil {
		loaded, err := store.LoadSamples()
		if err != nil {
			logger.WithError(err).Warn("could not reload persisted feedback samples")
		} else {
			fs.samples = loaded
			if len(loaded) > 0 {
				logger.WithField("count", len(loaded)).Info("reloaded feedback samples")
			}
		}
	}

	return fs
}

// CollectHumanFeedback records one human judgment. Human preferences carry
// full confidence. Once the buffer exceeds twice the minimum sample count,
// a training run is triggered automatically.
func (fs *FeedbackStore) CollectHumanFeedback(prompt, responseA, responseB string, preference int, reasoning string) (models.FeedbackSample, error) {
	if preference < models.PreferA || preference > models.PreferB {
		return models.FeedbackSample{}, fmt.Errorf("rlhf: preference must be -1, 0 or 1, got %d", preference)
	}

	sample := models.FeedbackSample{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		ResponseA:  responseA,
		ResponseB:  responseB,
		Preference: preference,
		Source:     models.PreferenceSourceHuman,
		Confidence: 1.0,
		Reasoning:  reasoning,
		CreatedAt:  time.Now(),
	}

	fs.append(sample)

	if fs.Len() >= 2*fs.opts.MinSamples {
		if metrics, err := fs.TrainRewardModel(false); err == nil && metrics != nil {
			fs.logger.WithField("loss", metrics.Loss).Debug("auto-trained reward model")
		}
	}

	return sample, nil
}

// CollectAIFeedback builds samples for every unordered pair among the
// responses. With an evaluator supplied, each pair is judged by it; a
// failing call skips that pair only. Without one, a length and keyword
// heuristic decides. Fewer than two responses yields no samples.
func (fs *FeedbackStore) CollectAIFeedback(prompt string, responses []string, evaluator EvaluatorFunc) []models.FeedbackSample {
	if len(responses) < 2 {
		return nil
	}

	var out []models.FeedbackSample
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			a, b := responses[i], responses[j]

			var (
				preference int
				confidence float64
				reasoning  string
			)
			if evaluator != nil {
				var err error
				preference, confidence, reasoning, err = evaluator(prompt, a, b)
				if err != nil {
					fs.logger.WithError(err).WithFields(logrus.Fields{
						"pair_a": i, "pair_b": j,
					}).Warn("evaluator failed for pair, skipping")
					continue
				}
			} else {
				preference, confidence, reasoning = heuristicCompare(prompt, a, b)
			}

			sample := models.FeedbackSample{
				ID:         uuid.NewString(),
				Prompt:     prompt,
				ResponseA:  a,
				ResponseB:  b,
				Preference: preference,
				Source:     models.PreferenceSourceAI,
				Confidence: confidence,
				Reasoning:  reasoning,
				CreatedAt:  time.Now(),
			}
			fs.append(sample)
			out = append(out, sample)
		}
	}

	return out
}

// SelfEvaluate scores a single response across the six quality dimensions
// using deterministic text heuristics.
func (fs *FeedbackStore) SelfEvaluate(prompt, response string) models.QualityScore {
	features := ExtractFeatures(prompt, response)

	return models.QualityScore{
		Helpfulness: features[FeatureKeywordOverlap]*0.6 + features[FeatureSpecificity]*0.4,
		Accuracy:    accuracyScore(response),
		Relevance:   features[FeatureLengthRatio]*0.3 + features[FeatureKeywordOverlap]*0.7,
		Safety:      safetyScore(response),
		Clarity:     features[FeatureStructure],
		Creativity:  creativityScore(response),
	}
}

// TrainRewardModel trains on the buffered samples once the buffer reaches
// the configured minimum, or unconditionally when forced. Below the
// minimum it is a nil-result no-op.
func (fs *FeedbackStore) TrainRewardModel(force bool) (*TrainMetrics, error) {
	fs.mu.Lock()
	samples := make([]models.FeedbackSample, len(fs.samples))
	copy(samples, fs.samples)
	fs.mu.Unlock()

	if !force && len(samples) < fs.opts.MinSamples {
		fs.logger.WithFields(logrus.Fields{
			"have": len(samples),
			"need": fs.opts.MinSamples,
		}).Debug("skipping reward training")
		return nil, nil
	}

	metrics := fs.model.Train(samples, fs.opts.TrainEpochs, fs.opts.LearningRate, true)
	return &metrics, nil
}

// PredictPreference delegates to the owned reward model.
func (fs *FeedbackStore) PredictPreference(prompt, responseA, responseB string) (int, float64) {
	return fs.model.PredictPreference(prompt, responseA, responseB)
}

// Model exposes the owned reward model for inspection.
func (fs *FeedbackStore) Model() *RewardModel {
	return fs.model
}

// Len reports the current buffer size.
func (fs *FeedbackStore) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.samples)
}

// Samples returns a copy of the buffered samples.
func (fs *FeedbackStore) Samples() []models.FeedbackSample {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]models.FeedbackSample, len(fs.samples))
	copy(out, fs.samples)
	return out
}

func (fs *FeedbackStore) append(sample models.FeedbackSample) {
	fs.mu.Lock()
	fs.samples = append(fs.samples, sample)
	fs.mu.Unlock()

	if fs.store != nil {
		if err := fs.store.SaveSample(sample); err != nil {
			fs.logger.WithError(err).WithField("sample_id", sample.ID).Warn("could not persist feedback sample")
		}
	}
}

// heuristicCompare prefers the longer, more prompt-relevant response,
// declaring a low-confidence tie when the composite scores are close.
func heuristicCompare(prompt, a, b string) (int, float64, string) {
	scoreA := heuristicQuality(prompt, a)
	scoreB := heuristicQuality(prompt, b)
	diff := scoreB - scoreA

	if math.Abs(diff) < 0.05 {
		return models.PreferTie, 0.4, "responses are of comparable length and relevance"
	}

	confidence := clamp01(0.5 + math.Abs(diff))
	if diff > 0 {
		return models.PreferB, confidence, "response B is longer and overlaps the prompt more"
	}
	return models.PreferA, confidence, "response A is longer and overlaps the prompt more"
}

func heuristicQuality(prompt, response string) float64 {
	features := ExtractFeatures(prompt, response)
	return 0.5*features[FeatureLengthRatio] + 0.5*features[FeatureKeywordOverlap]
}

var hedgingMarkers = []string{
	"maybe", "perhaps", "possibly", "might", "not sure", "i think", "probably",
}

func accuracyScore(response string) float64 {
	lower := strings.ToLower(response)
	penalty := 0.0
	for _, m := range hedgingMarkers {
		penalty += 0.1 * float64(strings.Count(lower, m))
	}
	return clamp01(0.8 - penalty)
}

var dangerPatterns = []string{
	"guaranteed profit", "cannot lose", "risk-free", "all in", "insider",
}

func safetyScore(response string) float64 {
	lower := strings.ToLower(response)
	score := 1.0
	for _, p := range dangerPatterns {
		if strings.Contains(lower, p) {
			score -= 0.3
		}
	}
	return clamp01(score)
}

// creativityScore uses vocabulary diversity as a rough proxy.
func creativityScore(response string) float64 {
	words := strings.Fields(strings.ToLower(response))
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return clamp01(float64(len(unique)) / float64(len(words)))
}
