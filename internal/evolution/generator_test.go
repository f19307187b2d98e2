package evolution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmesh/QuorumGo/internal/models"
)

type askerFunc func(ctx context.Context, agentID, prompt string) (string, error)

func (f askerFunc) Ask(ctx context.Context, agentID, prompt string) (string, error) {
	return f(ctx, agentID, prompt)
}

const strategyReply = "Here is my proposal:\n```json\n" + `{
  "name": "momentum-breakout",
  "signals": [{"id": "s1", "type": "MACD", "parameters": {"fast": 12, "slow": 26}, "condition": "macd > signal"}],
  "filters": [{"id": "f1", "type": "volume", "condition": "volume > 500000"}],
  "exit_conditions": {"stop_loss": {"type": "percent", "value": 3}, "take_profit": {"type": "percent", "value": 6}}
}` + "\n```"

func TestParseStrategyJSONToleratesFencesAndProse(t *testing.T) {
	s, err := ParseStrategyJSON(strategyReply)
	require.NoError(t, err)
	assert.Equal(t, "momentum-breakout", s.Name)
	require.Len(t, s.Signals, 1)
	assert.Equal(t, "MACD", s.Signals[0].Type)
	assert.Equal(t, 3.0, s.Exits.StopLoss.Value)
}

func TestParseStrategyJSONRejectsGarbage(t *testing.T) {
	_, err := ParseStrategyJSON("no structured content here")
	assert.Error(t, err)

	_, err = ParseStrategyJSON(`{"name": "empty", "signals": []}`)
	assert.Error(t, err)
}

func TestGenerateOneStrategyPerAgent(t *testing.T) {
	gen := NewLLMGenerator(askerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		return strategyReply, nil
	}), []string{"deepseek", "qwen"}, "AAPL", nil)

	out, err := gen.Generate(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, s := range out {
		assert.Equal(t, "momentum-breakout", s.Name)
	}
}

func TestGenerateFallsBackToBaseline(t *testing.T) {
	gen := NewLLMGenerator(askerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		if agentID == "deepseek" {
			return "", errors.New("timeout")
		}
		return "I cannot answer in JSON today.", nil
	}), []string{"deepseek", "qwen"}, "AAPL", nil)

	out, err := gen.Generate(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Contains(t, out["deepseek"].Name, "baseline")
	assert.Contains(t, out["qwen"].Name, "baseline")
	require.NotEmpty(t, out["deepseek"].Signals)
}

func TestGeneratePromptCarriesParents(t *testing.T) {
	var seen string
	gen := NewLLMGenerator(askerFunc(func(ctx context.Context, agentID, prompt string) (string, error) {
		seen = prompt
		return strategyReply, nil
	}), []string{"deepseek"}, "MSFT", nil)

	parents := map[string]models.StrategyDefinition{
		"qwen": {Name: "prior-winner", Signals: []models.Signal{{ID: "s1", Type: "RSI"}}},
	}
	_, err := gen.Generate(context.Background(), 3, parents)
	require.NoError(t, err)

	assert.True(t, strings.Contains(seen, "MSFT"))
	assert.True(t, strings.Contains(seen, "prior-winner"))
	assert.True(t, strings.Contains(seen, "generation 3"))
}
