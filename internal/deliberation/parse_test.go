package deliberation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStructuredLabeledLines(t *testing.T) {
	text := "Position: buy the dip\n" +
		"Confidence: 0.85\n" +
		"Reasoning: oversold bounce setup\n" +
		"with support at the 200 day average\n" +
		"Evidence: RSI at 24; volume spike\n"

	fields, usedFallback := ParseStructured(text, []string{"position", "confidence", "reasoning", "evidence"})

	assert.False(t, usedFallback)
	assert.Equal(t, "buy the dip", fields["position"])
	assert.Equal(t, "0.85", fields["confidence"])
	assert.Contains(t, fields["reasoning"], "200 day average")
}

func TestParseStructuredMarkdownDecoration(t *testing.T) {
	text := "**Position:** sell into strength\n- Confidence: 70%\n"

	fields, usedFallback := ParseStructured(text, []string{"position", "confidence", "reasoning"})

	assert.True(t, usedFallback, "missing reasoning must set the fallback flag")
	assert.Equal(t, "sell into strength", fields["position"])
	assert.Equal(t, "70%", fields["confidence"])
}

func TestParseStructuredNeverErrors(t *testing.T) {
	for _, text := range []string{"", "free prose with no labels at all", ":::"} {
		fields, usedFallback := ParseStructured(text, []string{"position"})
		assert.True(t, usedFallback)
		assert.Empty(t, fields["position"])
	}
}

func TestParseVoteFallbacks(t *testing.T) {
	v := parseVote("qwen", "I would lean toward holding here.\nNothing else to add.")

	assert.Equal(t, "qwen", v.AgentID)
	assert.Equal(t, "I would lean toward holding here.", v.Position)
	assert.Equal(t, 0.5, v.Confidence, "missing confidence defaults to the midpoint")
	assert.False(t, v.Fallback)
}

func TestParseConfidenceVariants(t *testing.T) {
	cases := map[string]float64{
		"0.8":     0.8,
		"80%":     0.8,
		"8/10":    0.8,
		"80":      0.8,
		"1.5":     1.0,
		"-0.2":    0.0,
		"":        0.5,
		"unknown": 0.5,
	}
	for raw, want := range cases {
		assert.InDelta(t, want, parseConfidence(raw), 1e-9, "input %q", raw)
	}
}

func TestParseCritique(t *testing.T) {
	c := parseCritique("deepseek", critiqueReply)

	assert.True(t, c.Agrees)
	assert.Equal(t, []string{"momentum supports it"}, c.AgreementPoints)
	assert.Empty(t, c.DisagreementPoints)
	assert.Equal(t, []string{"add a volume filter"}, c.Improvements)
	assert.InDelta(t, 0.1, c.ConfidenceShift, 1e-9)
}

func TestPositionSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, positionSimilarity("buy the breakout", "buy the breakout"))
	assert.Equal(t, 0.0, positionSimilarity("accumulate growth names", "rotate into utilities"))

	partial := positionSimilarity("buy momentum stocks with volume", "buy momentum stocks without volume")
	assert.Greater(t, partial, 0.5)
	assert.Less(t, partial, 1.0)
}
