package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantmesh/QuorumGo/internal/models"
)

func TestDeliberationMarkdown(t *testing.T) {
	result := &models.DeliberationResult{
		Question:   "Enter AAPL?",
		Decision:   "BUY",
		Confidence: 0.72,
		Converged:  true,
		FinalVotes: []models.AgentVote{
			{AgentID: "deepseek", Position: "BUY on momentum", Confidence: 0.8},
			{AgentID: "qwen", Position: "no response", Fallback: true},
		},
		DissentingOpinions: []models.AgentVote{
			{AgentID: "perplexity", Position: "HOLD until earnings"},
		},
		CreatedAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	md := deliberationMarkdown(result)
	assert.Contains(t, md, "# Deliberation: Enter AAPL?")
	assert.Contains(t, md, "**Decision:** BUY")
	assert.Contains(t, md, "| deepseek | 80% | BUY on momentum |")
	assert.Contains(t, md, "_(no response)_")
	assert.Contains(t, md, "HOLD until earnings")
}

func TestEvolutionMarkdown(t *testing.T) {
	result := &models.EvolutionResult{
		Best: models.StrategyDefinition{
			Name:    "alpha-g2",
			Signals: []models.Signal{{Type: "RSI", Condition: "rsi < 30"}},
			Exits: models.ExitConditions{
				StopLoss:   models.ExitRule{Type: "percent", Value: 2},
				TakeProfit: models.ExitRule{Type: "percent", Value: 4},
			},
		},
		BestAgent:   "alpha",
		BestFitness: 0.6123,
		Plateaued:   true,
		Generations: []models.GenerationRecord{
			{Index: 1, Fitness: map[string]float64{"alpha": 0.5, "beta": 0.4}, Survivors: []string{"alpha", "beta"}},
			{Index: 2, Fitness: map[string]float64{"alpha": 0.6123}, Survivors: []string{"alpha"}},
		},
	}

	md := evolutionMarkdown("AAPL", result)
	assert.Contains(t, md, "# Strategy evolution: AAPL")
	assert.Contains(t, md, "**Best strategy:** alpha-g2 (by alpha)")
	assert.Contains(t, md, "| 2 | alpha | 0.6123 |")
	assert.Contains(t, md, "rsi < 30")
}
