package deliberation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/quantmesh/QuorumGo/internal/models"
)

var labelLine = regexp.MustCompile(`(?i)^\s*[*_#>-]*\s*([a-z][a-z _-]{1,40}?)\s*[*_]*\s*:\s*(.*)$`)

// ParseStructured extracts labeled fields ("Position: ...", "CONFIDENCE: 0.8")
// from free-form LLM output. Matching is case-insensitive and tolerant of
// markdown decoration; multi-line values accumulate until the next label.
// It never fails: the second return value reports whether any requested
// field had to be left empty.
func ParseStructured(text string, fields []string) (map[string]string, bool) {
	wanted := make(map[string]string, len(fields))
	for _, f := range fields {
		wanted[normalizeLabel(f)] = f
	}

	out := make(map[string]string, len(fields))
	current := ""
	for _, line := range strings.Split(text, "\n") {
		if m := labelLine.FindStringSubmatch(line); m != nil {
			if field, ok := wanted[normalizeLabel(m[1])]; ok {
				current = field
				out[field] = strings.TrimSpace(m[2])
				continue
			}
		}
		if current != "" {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" {
				out[current] = strings.TrimSpace(out[current] + "\n" + trimmed)
			}
		}
	}

	usedFallback := false
	for _, f := range fields {
		if out[f] == "" {
			usedFallback = true
			break
		}
	}
	return out, usedFallback
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// parseVote builds an AgentVote from a raw reply. A reply with no labeled
// position falls back to its first non-empty line; a missing confidence is
// read as the neutral 0.5.
func parseVote(agentID, text string) models.AgentVote {
	fields, _ := ParseStructured(text, []string{"position", "confidence", "reasoning", "evidence"})

	position := fields["position"]
	if position == "" {
		position = firstLine(text)
	}

	return models.AgentVote{
		AgentID:    agentID,
		Position:   position,
		Confidence: parseConfidence(fields["confidence"]),
		Reasoning:  fields["reasoning"],
		Evidence:   splitList(fields["evidence"]),
		Timestamp:  time.Now(),
	}
}

func parseCritique(agentID, text string) models.AgentCritique {
	fields, _ := ParseStructured(text, []string{
		"agrees", "agreement_points", "disagreement_points", "improvements", "confidence_adjustment",
	})

	agrees := false
	switch strings.ToLower(firstLine(fields["agrees"])) {
	case "yes", "true", "agree", "agreed", "y":
		agrees = true
	}

	shift := 0.0
	if v, err := strconv.ParseFloat(strings.TrimSpace(fields["confidence_adjustment"]), 64); err == nil {
		shift = v
	}

	return models.AgentCritique{
		AgentID:            agentID,
		Agrees:             agrees,
		AgreementPoints:    splitList(fields["agreement_points"]),
		DisagreementPoints: splitList(fields["disagreement_points"]),
		Improvements:       splitList(fields["improvements"]),
		ConfidenceShift:    shift,
	}
}

// parseConfidence accepts "0.8", "80%", "8/10" and bare "80". Anything
// unreadable maps to the neutral midpoint.
func parseConfidence(raw string) float64 {
	raw = strings.TrimSpace(firstLine(raw))
	if raw == "" {
		return 0.5
	}

	if strings.HasSuffix(raw, "%") {
		if v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64); err == nil {
			return clamp01(v / 100)
		}
		return 0.5
	}
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, errD := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if errN == nil && errD == nil && d > 0 {
			return clamp01(n / d)
		}
		return 0.5
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0.5
	}
	if v > 10 && v <= 100 {
		// A bare "80" almost always means a percentage.
		v /= 100
	}
	return clamp01(v)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		for _, p := range strings.Split(line, ";") {
			p = strings.TrimSpace(strings.TrimLeft(p, "-*• \t"))
			if p != "" {
				parts = append(parts, p)
			}
		}
	}
	return parts
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// positionSimilarity is a Jaccard overlap over the long words of two
// position texts, used both for convergence checks and dissent detection.
func positionSimilarity(a, b string) float64 {
	wa := longWords(a)
	wb := longWords(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	inter, union := 0, len(wa)
	for w := range wb {
		if _, ok := wa[w]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func longWords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(f) > 3 {
			out[f] = struct{}{}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
