package models

import (
	"encoding/json"
	"time"
)

// PreferenceSource identifies where a pairwise comparison came from.
type PreferenceSource string

const (
	PreferenceSourceHuman     PreferenceSource = "human"
	PreferenceSourceAI        PreferenceSource = "ai"
	PreferenceSourceSelf      PreferenceSource = "self"
	PreferenceSourceConsensus PreferenceSource = "consensus"
)

// Preference values: -1 means response A is better, +1 means B, 0 is a tie.
const (
	PreferA   = -1
	PreferTie = 0
	PreferB   = 1
)

// FeedbackSample is one pairwise comparison between two responses to a prompt.
// Samples are append-only; they are never mutated after creation.
type FeedbackSample struct {
	ID         string           `json:"id"`
	Prompt     string           `json:"prompt"`
	ResponseA  string           `json:"response_a"`
	ResponseB  string           `json:"response_b"`
	Preference int              `json:"preference"` // -1, 0 or 1
	Source     PreferenceSource `json:"source"`
	Confidence float64          `json:"confidence"` // 0-1
	Reasoning  string           `json:"reasoning,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// MarshalRecord serializes the sample for durable storage.
func (s FeedbackSample) MarshalRecord() ([]byte, error) {
	return json.Marshal(s)
}

// FeedbackSampleFromRecord decodes a persisted sample.
func FeedbackSampleFromRecord(data []byte) (FeedbackSample, error) {
	var s FeedbackSample
	err := json.Unmarshal(data, &s)
	return s, err
}

// QualityScore holds per-dimension heuristic quality ratings in [0,1].
type QualityScore struct {
	Helpfulness float64 `json:"helpfulness"`
	Accuracy    float64 `json:"accuracy"`
	Relevance   float64 `json:"relevance"`
	Safety      float64 `json:"safety"`
	Clarity     float64 `json:"clarity"`
	Creativity  float64 `json:"creativity"`
}

// Overall combines the dimensions with fixed weights. Safety and helpfulness
// dominate; creativity contributes least.
func (q QualityScore) Overall() float64 {
	return q.Helpfulness*0.25 + q.Accuracy*0.20 + q.Relevance*0.15 +
		q.Safety*0.25 + q.Clarity*0.10 + q.Creativity*0.05
}
