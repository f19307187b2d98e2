package rlhf

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Feature names used by the reward model. Order is not significant; weights
// are keyed by name.
const (
	FeatureLengthRatio    = "length_ratio"
	FeatureKeywordOverlap = "keyword_overlap"
	FeatureSentiment      = "sentiment_score"
	FeatureStructure      = "structure_score"
	FeatureSpecificity    = "specificity_score"
)

var featureNames = []string{
	FeatureLengthRatio,
	FeatureKeywordOverlap,
	FeatureSentiment,
	FeatureStructure,
	FeatureSpecificity,
}

var positiveMarkers = []string{
	"good", "great", "excellent", "strong", "profit", "gain",
	"improve", "effective", "robust", "success", "reliable",
}

var negativeMarkers = []string{
	"bad", "poor", "loss", "fail", "failure", "weak",
	"wrong", "worse", "broken", "unreliable",
}

var specificityMarkers = []string{
	"specifically", "exactly", "precisely", "example", "e.g.",
	"threshold", "percent", "ratio", "period",
}

var sentenceSplitter = regexp.MustCompile(`[.!?]+\s*`)

// ExtractFeatures computes the model's textual feature vector for a
// prompt/response pair. Pure and deterministic: the same inputs always
// produce the same map, and every value lands in [0,1].
func ExtractFeatures(prompt, response string) map[string]float64 {
	return map[string]float64{
		FeatureLengthRatio:    lengthRatio(prompt, response),
		FeatureKeywordOverlap: keywordOverlap(prompt, response),
		FeatureSentiment:      sentimentScore(response),
		FeatureStructure:      structureScore(response),
		FeatureSpecificity:    specificityScore(response),
	}
}

// lengthRatio rewards responses proportionate to the prompt, saturating at
// four times the prompt length.
func lengthRatio(prompt, response string) float64 {
	promptLen := math.Max(float64(len(prompt)), 1)
	ratio := float64(len(response)) / (4 * promptLen)
	return clamp01(ratio)
}

func keywordOverlap(prompt, response string) float64 {
	pw := longWordSet(prompt)
	rw := longWordSet(response)
	if len(pw) == 0 || len(rw) == 0 {
		return 0
	}

	inter, union := 0, len(pw)
	for w := range rw {
		if _, ok := pw[w]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func sentimentScore(text string) float64 {
	lower := strings.ToLower(text)
	balance := 0
	for _, m := range positiveMarkers {
		balance += strings.Count(lower, m)
	}
	for _, m := range negativeMarkers {
		balance -= strings.Count(lower, m)
	}
	return clamp01(0.5 + 0.1*float64(balance))
}

func structureScore(text string) float64 {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return 0
	}

	score := 0.0
	if len(sentences) > 1 {
		score += 0.4
	}

	totalWords, capitalized := 0, 0
	for _, s := range sentences {
		totalWords += len(strings.Fields(s))
		if r := firstRune(s); unicode.IsUpper(r) {
			capitalized++
		}
	}

	avgWords := float64(totalWords) / float64(len(sentences))
	if avgWords >= 5 && avgWords <= 30 {
		score += 0.3
	}
	score += 0.3 * float64(capitalized) / float64(len(sentences))

	return clamp01(score)
}

func specificityScore(text string) float64 {
	lower := strings.ToLower(text)
	count := 0
	for _, m := range specificityMarkers {
		count += strings.Count(lower, m)
	}
	for _, f := range strings.Fields(text) {
		if strings.ContainsFunc(f, unicode.IsDigit) {
			count++
		}
	}
	return clamp01(float64(count) / 5)
}

func longWordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(f) > 4 {
			out[f] = struct{}{}
		}
	}
	return out
}

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

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
