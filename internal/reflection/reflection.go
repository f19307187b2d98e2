package reflection

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
)

// Reflection prompt keys, asked in this order for every completed task.
const (
	KeyTaskAnalysis        = "task_analysis"
	KeySolutionQuality     = "solution_quality"
	KeyWhatWorked          = "what_worked"
	KeyWhatDidntWork       = "what_didnt_work"
	KeyImprovement         = "improvement"
	KeyKnowledgeGap        = "knowledge_gap"
	KeyTransferableLessons = "transferable_lessons"
)

var promptKeys = []string{
	KeyTaskAnalysis,
	KeySolutionQuality,
	KeyWhatWorked,
	KeyWhatDidntWork,
	KeyImprovement,
	KeyKnowledgeGap,
	KeyTransferableLessons,
}

var promptTemplates = map[string]string{
	KeyTaskAnalysis:        "Analyze the task below. What was it really asking for and how difficult was it?",
	KeySolutionQuality:     "Rate the quality of the solution on a scale of N/10 and explain the rating.",
	KeyWhatWorked:          "Which parts of the solution worked well and why?",
	KeyWhatDidntWork:       "Which parts of the solution fell short or failed?",
	KeyImprovement:         "What concretely should be done differently next time?",
	KeyKnowledgeGap:        "What knowledge or data was missing while solving this task?",
	KeyTransferableLessons: "What lessons from this task transfer to similar future tasks?",
}

// ReflectFunc produces reflection text for one prompt key, typically via an
// LLM. Errors make the engine fall back to its deterministic heuristics.
type ReflectFunc func(ctx context.Context, promptKey, prompt string) (string, error)

// ReflectionStore persists reflection results.
type ReflectionStore interface {
	SaveReflection(result models.ReflectionResult) error
	LoadReflections() ([]models.ReflectionResult, error)
}

// Engine converts completed tasks into structured, reusable lessons.
type Engine struct {
	mu      sync.Mutex
	reflect ReflectFunc
	store   ReflectionStore
	history []models.ReflectionResult
	logger  *logrus.Logger
}

// NewEngine wires the engine. Both the reflection function and the store
// are optional; with a store supplied, persisted reflections are reloaded
// into history.
func NewEngine(reflect ReflectFunc, store ReflectionStore, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{reflect: reflect, store: store, logger: logger}

	if store != nil {
		loaded, err := store.LoadReflections()
		if err != nil {
			logger.WithError(err).Warn("could not reload persisted reflections")
		} else {
			e.history = loaded
		}
	}
	return e
}

// ReflectOnTask runs every reflection prompt for the task and distills the
// answers into a quality score, lessons, actions and knowledge gaps. It
// never fails for well-formed input: unavailable or failing reflection
// calls are replaced with heuristic text.
func (e *Engine) ReflectOnTask(ctx context.Context, task, solution string, outcome map[string]any, contextData map[string]any) (*models.ReflectionResult, error) {
	result := &models.ReflectionResult{
		ID:          uuid.NewString(),
		Task:        task,
		Solution:    solution,
		Outcome:     outcome,
		Reflections: make(map[string]string, len(promptKeys)),
		CreatedAt:   time.Now(),
	}

	for _, key := range promptKeys {
		prompt := buildPrompt(key, task, solution, outcome, contextData)

		text := ""
		if e.reflect != nil {
			var err error
			text, err = e.reflect(ctx, key, prompt)
			if err != nil {
				e.logger.WithError(err).WithField("prompt_key", key).Debug("reflection call failed, using heuristic")
				text = ""
			}
		}
		if strings.TrimSpace(text) == "" {
			text = heuristicReflection(key, task, outcome)
			result.UsedFallback = true
		}
		result.Reflections[key] = text
	}

	result.QualityScore = extractQuality(result.Reflections[KeySolutionQuality])
	result.LessonsLearned = extractSentences(
		result.Reflections[KeyTransferableLessons]+" "+result.Reflections[KeyWhatWorked],
		lessonMarkers,
	)
	result.ImprovementActions = extractSentences(
		result.Reflections[KeyImprovement]+" "+result.Reflections[KeyWhatDidntWork],
		actionMarkers,
	)
	result.KnowledgeGaps = extractSentences(result.Reflections[KeyKnowledgeGap], gapMarkers)

	e.mu.Lock()
	e.history = append(e.history, *result)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveReflection(*result); err != nil {
			e.logger.WithError(err).WithField("reflection_id", result.ID).Warn("could not persist reflection")
		}
	}

	return result, nil
}

// ExtractPatterns scans the most recent reflections and promotes any lesson
// seen at least twice into a Pattern carrying its frequency and an
// average-quality-derived success rate.
func (e *Engine) ExtractPatterns(nRecent int) []models.Pattern {
	e.mu.Lock()
	recent := e.history
	if nRecent > 0 && len(recent) > nRecent {
		recent = recent[len(recent)-nRecent:]
	}
	recent = append([]models.ReflectionResult(nil), recent...)
	e.mu.Unlock()

	type acc struct {
		lesson  string
		count   int
		quality float64
	}
	groups := make(map[string]*acc)
	for _, r := range recent {
		for _, lesson := range r.LessonsLearned {
			key := normalizeLesson(lesson)
			if key == "" {
				continue
			}
			g, ok := groups[key]
			if !ok {
				g = &acc{lesson: lesson}
				groups[key] = g
			}
			g.count++
			g.quality += r.QualityScore
		}
	}

	var patterns []models.Pattern
	for _, g := range groups {
		if g.count < 2 {
			continue
		}
		avgQuality := g.quality / float64(g.count)
		rec := "Improve: " + g.lesson
		if avgQuality >= 7 {
			rec = "Continue: " + g.lesson
		}
		patterns = append(patterns, models.Pattern{
			Lesson:         g.lesson,
			Frequency:      g.count,
			SuccessRate:    avgQuality / 10,
			Recommendation: rec,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		return patterns[i].Lesson < patterns[j].Lesson
	})
	return patterns
}

// GetRecommendations ranks historical improvement actions by frequency,
// blending in promoted patterns weighted by frequency times success rate.
// Actions sharing keywords with the current task rank higher.
func (e *Engine) GetRecommendations(currentTask string, topK int) []string {
	if topK < 1 {
		topK = 3
	}

	e.mu.Lock()
	history := append([]models.ReflectionResult(nil), e.history...)
	e.mu.Unlock()

	taskWords := wordSet(currentTask)

	type scored struct {
		text  string
		score float64
	}
	seen := make(map[string]*scored)
	add := func(text string, score float64) {
		key := normalizeLesson(text)
		if key == "" {
			return
		}
		if s, ok := seen[key]; ok {
			s.score += score
		} else {
			seen[key] = &scored{text: text, score: score}
		}
	}

	for _, r := range history {
		for _, action := range r.ImprovementActions {
			score := 1.0
			if overlaps(taskWords, action) {
				score += 0.5
			}
			add(action, score)
		}
	}
	for _, p := range e.ExtractPatterns(0) {
		add(p.Recommendation, float64(p.Frequency)*p.SuccessRate)
	}

	ranked := make([]scored, 0, len(seen))
	for _, s := range seen {
		ranked = append(ranked, *s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].text < ranked[j].text
	})

	out := make([]string, 0, topK)
	for _, s := range ranked {
		if len(out) == topK {
			break
		}
		out = append(out, s.text)
	}
	return out
}

// History returns a copy of all recorded reflections.
func (e *Engine) History() []models.ReflectionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ReflectionResult(nil), e.history...)
}

func buildPrompt(key, task, solution string, outcome, contextData map[string]any) string {
	var b strings.Builder
	b.WriteString(promptTemplates[key])
	b.WriteString("\n\nTask: " + task)
	b.WriteString("\nSolution: " + solution)
	if len(outcome) > 0 {
		fmt.Fprintf(&b, "\nOutcome: %v", outcome)
	}
	if len(contextData) > 0 {
		fmt.Fprintf(&b, "\nContext: %v", contextData)
	}
	return b.String()
}

// heuristicReflection produces deterministic reflection text keyed on the
// outcome's success and error fields.
func heuristicReflection(key, task string, outcome map[string]any) string {
	success := outcomeSucceeded(outcome)
	errText, _ := outcome["error"].(string)

	switch key {
	case KeyTaskAnalysis:
		return fmt.Sprintf("The task required: %s. It combined analysis and execution steps.", task)
	case KeySolutionQuality:
		if success {
			return "The solution achieved its goal. Quality: 7/10."
		}
		return "The solution did not fully achieve its goal. Quality: 4/10."
	case KeyWhatWorked:
		if success {
			return "The overall approach works well. Breaking the task into explicit steps was effective."
		}
		return "The initial framing of the task works as a starting point."
	case KeyWhatDidntWork:
		if !success && errText != "" {
			return fmt.Sprintf("The attempt failed with: %s. The approach should handle this case explicitly.", errText)
		}
		if !success {
			return "The final result fell short of the target. The validation step should be stricter."
		}
		return "No major failures were observed."
	case KeyImprovement:
		if success {
			return "Next time the same approach should be applied earlier and verified against held-out data."
		}
		return "Next time the plan should include an explicit verification step before committing to a result."
	case KeyKnowledgeGap:
		if !success {
			return "Information about the failure mode was missing. More domain data is needed for this task type."
		}
		return "No critical knowledge gap surfaced during this task."
	case KeyTransferableLessons:
		if success {
			return "Lesson: decomposing the task before acting works across similar tasks."
		}
		return "Lesson: results need validation before being trusted, which applies to all similar tasks."
	}
	return ""
}

func outcomeSucceeded(outcome map[string]any) bool {
	switch v := outcome["success"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	errText, _ := outcome["error"].(string)
	return errText == ""
}

var (
	scorePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*10`),
		regexp.MustCompile(`(?i)quality\s*[:=]?\s*(\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)score\s*[:=]?\s*(\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)rate\s*(?:it|this)?\s*(?:at|as)?\s*(\d+(?:\.\d+)?)`),
	}
	qualityKeywords = []struct {
		word  string
		score float64
	}{
		{"excellent", 8.5},
		{"outstanding", 9.0},
		{"good", 7.5},
		{"solid", 7.0},
		{"adequate", 6.5},
		{"mediocre", 5.0},
		{"poor", 4.0},
		{"bad", 3.5},
		{"terrible", 2.0},
	}
)

// extractQuality pulls a 0-10 score out of free text, trying numeric
// patterns first, then sentiment keywords, then a neutral default.
func extractQuality(text string) float64 {
	for _, p := range scorePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			var v float64
			fmt.Sscanf(m[1], "%f", &v)
			if v >= 0 && v <= 10 {
				return v
			}
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range qualityKeywords {
		if strings.Contains(lower, kw.word) {
			return kw.score
		}
	}
	return 6.0
}

var (
	lessonMarkers = []string{"lesson", "learned", "works", "effective", "important", "key insight"}
	actionMarkers = []string{"should", "would", "need to", "needs to", "could", "must", "next time"}
	gapMarkers    = []string{"missing", "unknown", "unclear", "gap", "needed", "lack", "more"}
)

// extractSentences splits the text into sentences and keeps those carrying
// any of the marker keywords.
func extractSentences(text string, markers []string) []string {
	var out []string
	for _, s := range splitSentences(text) {
		lower := strings.ToLower(s)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

var sentenceSplitter = regexp.MustCompile(`[.!?]+\s*`)

func splitSentences(text string) []string {
	parts := sentenceSplitter.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeLesson(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(s, ".!? ")))
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		if len(f) > 3 {
			out[f] = struct{}{}
		}
	}
	return out
}

func overlaps(words map[string]struct{}, text string) bool {
	for w := range wordSet(text) {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}
