package models

import "time"

// ReflectionResult is the structured outcome of reflecting on one completed task.
type ReflectionResult struct {
	ID                 string            `json:"id"`
	Task               string            `json:"task"`
	Solution           string            `json:"solution"`
	Outcome            map[string]any    `json:"outcome"`
	Reflections        map[string]string `json:"reflections"` // prompt key -> reflection text
	QualityScore       float64           `json:"quality_score"` // 0-10
	LessonsLearned     []string          `json:"lessons_learned"`
	ImprovementActions []string          `json:"improvement_actions"`
	KnowledgeGaps      []string          `json:"knowledge_gaps"`
	UsedFallback       bool              `json:"used_fallback"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Pattern is a recurring lesson promoted from repeated reflections.
type Pattern struct {
	Lesson         string  `json:"lesson"`
	Frequency      int     `json:"frequency"`
	SuccessRate    float64 `json:"success_rate"`
	Recommendation string  `json:"recommendation"`
}
