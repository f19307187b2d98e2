package rlhf

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
)

// ErrInsufficientSamples is returned when an operation needs more feedback
// samples than are available.
var ErrInsufficientSamples = errors.New("rlhf: not enough feedback samples")

// TrainMetrics summarizes one training run.
type TrainMetrics struct {
	Samples      int                `json:"samples"`
	Epochs       int                `json:"epochs"`
	Loss         float64            `json:"loss"`
	Accuracy     float64            `json:"accuracy"`
	ValLoss      float64            `json:"val_loss"`
	ValAccuracy  float64            `json:"val_accuracy"`
	StoppedEarly bool               `json:"stopped_early"`
	Weights      map[string]float64 `json:"weights"`
	TrainedAt    time.Time          `json:"trained_at"`
}

// CrossValidateMetrics aggregates per-fold results.
type CrossValidateMetrics struct {
	Folds       int     `json:"folds"`
	TrainLoss   float64 `json:"train_loss"`
	TrainAcc    float64 `json:"train_accuracy"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
}

// RewardModel is a linear preference predictor over textual features,
// trained on pairwise feedback with Bradley-Terry style logistic updates.
type RewardModel struct {
	mu           sync.RWMutex
	weights      map[string]float64
	history      []TrainMetrics
	tieThreshold float64
	logger       *logrus.Logger
}

func NewRewardModel(logger *logrus.Logger) *RewardModel {
	if logger == nil {
		logger = logrus.New()
	}
	weights := make(map[string]float64, len(featureNames))
	for _, name := range featureNames {
		weights[name] = 0.1
	}
	return &RewardModel{
		weights:      weights,
		tieThreshold: 0.05,
		logger:       logger,
	}
}

// PredictReward scores a response against its prompt. The raw weighted
// feature sum is squashed through a sigmoid, so the result is always in
// [0,1], including for empty strings.
func (m *RewardModel) PredictReward(prompt, response string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sigmoid(m.rawScore(ExtractFeatures(prompt, response)))
}

// PredictPreference compares two responses. It returns -1 when A scores
// higher, 1 when B does, and 0 with low confidence when the rewards are
// within the tie threshold of each other.
func (m *RewardModel) PredictPreference(prompt, responseA, responseB string) (int, float64) {
	rewardA := m.PredictReward(prompt, responseA)
	rewardB := m.PredictReward(prompt, responseB)
	diff := rewardB - rewardA

	if math.Abs(diff) < m.tieThreshold {
		return models.PreferTie, 0.3
	}

	confidence := clamp01(math.Abs(diff) * 10)
	if diff > 0 {
		return models.PreferB, confidence
	}
	return models.PreferA, confidence
}

// Train runs pairwise logistic gradient descent over the samples. The
// learning rate follows a cosine-annealed schedule across epochs; when
// early stopping is enabled and enough samples exist, a 20% validation
// slice is held out and training stops after the validation loss fails to
// improve for several epochs. An empty sample list is a no-op returning
// zeroed metrics.
func (m *RewardModel) Train(samples []models.FeedbackSample, epochs int, learningRate float64, useEarlyStopping bool) TrainMetrics {
	if len(samples) == 0 {
		return TrainMetrics{TrainedAt: time.Now(), Weights: m.Weights()}
	}
	if epochs < 1 {
		epochs = 1
	}

	train, val := samples, []models.FeedbackSample(nil)
	if useEarlyStopping && len(samples) >= 5 {
		cut := len(samples) * 4 / 5
		train, val = samples[:cut], samples[cut:]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	const patience = 5
	bestValLoss := math.Inf(1)
	stale := 0
	stoppedEarly := false
	ranEpochs := 0

	for epoch := 0; epoch < epochs; epoch++ {
		lr := cosineLR(learningRate, epoch, epochs)
		for _, s := range train {
			m.step(s, lr)
		}
		ranEpochs++

		if len(val) > 0 {
			valLoss, _ := m.evaluate(val)
			if valLoss < bestValLoss-1e-6 {
				bestValLoss = valLoss
				stale = 0
			} else if stale++; stale >= patience {
				stoppedEarly = true
				break
			}
		}
	}

	loss, acc := m.evaluate(train)
	metrics := TrainMetrics{
		Samples:      len(samples),
		Epochs:       ranEpochs,
		Loss:         loss,
		Accuracy:     acc,
		StoppedEarly: stoppedEarly,
		Weights:      copyWeights(m.weights),
		TrainedAt:    time.Now(),
	}
	if len(val) > 0 {
		metrics.ValLoss, metrics.ValAccuracy = m.evaluate(val)
	}
	m.history = append(m.history, metrics)

	m.logger.WithFields(logrus.Fields{
		"samples":  metrics.Samples,
		"epochs":   metrics.Epochs,
		"loss":     metrics.Loss,
		"accuracy": metrics.Accuracy,
	}).Debug("reward model trained")

	return metrics
}

// CrossValidate trains a fresh model per fold and averages the results.
// kFolds is capped at the number of samples; fewer than two samples is an
// error.
func (m *RewardModel) CrossValidate(samples []models.FeedbackSample, kFolds, epochs int) (CrossValidateMetrics, error) {
	if len(samples) < 2 {
		return CrossValidateMetrics{}, ErrInsufficientSamples
	}
	if kFolds > len(samples) {
		kFolds = len(samples)
	}
	if kFolds < 2 {
		kFolds = 2
	}

	var out CrossValidateMetrics
	out.Folds = kFolds

	for fold := 0; fold < kFolds; fold++ {
		var train, val []models.FeedbackSample
		for i, s := range samples {
			if i%kFolds == fold {
				val = append(val, s)
			} else {
				train = append(train, s)
			}
		}

		foldModel := NewRewardModel(m.logger)
		metrics := foldModel.Train(train, epochs, 0.01, false)

		foldModel.mu.RLock()
		valLoss, valAcc := foldModel.evaluate(val)
		foldModel.mu.RUnlock()

		out.TrainLoss += metrics.Loss
		out.TrainAcc += metrics.Accuracy
		out.ValLoss += valLoss
		out.ValAccuracy += valAcc
	}

	n := float64(kFolds)
	out.TrainLoss /= n
	out.TrainAcc /= n
	out.ValLoss /= n
	out.ValAccuracy /= n
	return out, nil
}

// Weights returns a copy of the current feature weights.
func (m *RewardModel) Weights() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyWeights(m.weights)
}

// History returns the accumulated per-run training metrics.
func (m *RewardModel) History() []TrainMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TrainMetrics, len(m.history))
	copy(out, m.history)
	return out
}

// step applies one gradient update for a single sample. Callers hold the
// write lock.
func (m *RewardModel) step(s models.FeedbackSample, lr float64) {
	featA := ExtractFeatures(s.Prompt, s.ResponseA)
	featB := ExtractFeatures(s.Prompt, s.ResponseB)

	probB := sigmoid(m.rawScore(featB) - m.rawScore(featA))
	grad := (probB - targetFor(s.Preference)) * s.Confidence

	for name := range m.weights {
		m.weights[name] -= lr * grad * (featB[name] - featA[name])
	}
}

// evaluate computes mean cross-entropy loss and directional accuracy.
// Callers hold at least the read lock.
func (m *RewardModel) evaluate(samples []models.FeedbackSample) (loss, accuracy float64) {
	if len(samples) == 0 {
		return 0, 0
	}

	correct := 0
	for _, s := range samples {
		featA := ExtractFeatures(s.Prompt, s.ResponseA)
		featB := ExtractFeatures(s.Prompt, s.ResponseB)
		probB := sigmoid(m.rawScore(featB) - m.rawScore(featA))
		target := targetFor(s.Preference)

		loss += -target*math.Log(probB+1e-9) - (1-target)*math.Log(1-probB+1e-9)

		switch {
		case s.Preference == models.PreferB && probB > 0.5:
			correct++
		case s.Preference == models.PreferA && probB < 0.5:
			correct++
		case s.Preference == models.PreferTie && math.Abs(probB-0.5) < 0.1:
			correct++
		}
	}

	return loss / float64(len(samples)), float64(correct) / float64(len(samples))
}

func (m *RewardModel) rawScore(features map[string]float64) float64 {
	var sum float64
	for name, w := range m.weights {
		sum += w * features[name]
	}
	return sum
}

func targetFor(preference int) float64 {
	switch preference {
	case models.PreferB:
		return 1.0
	case models.PreferA:
		return 0.0
	default:
		return 0.5
	}
}

func cosineLR(base float64, epoch, total int) float64 {
	minLR := base * 0.01
	progress := float64(epoch) / math.Max(float64(total-1), 1)
	return minLR + 0.5*(base-minLR)*(1+math.Cos(math.Pi*progress))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
