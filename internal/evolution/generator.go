package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
)

// StrategyAsker issues one prompt to one agent persona. The llm ModelPool
// satisfies it.
type StrategyAsker interface {
	Ask(ctx context.Context, agentID, prompt string) (string, error)
}

// LLMGenerator proposes one strategy per agent by prompting for strict
// JSON. Unparseable or failed replies fall back to a baseline strategy so
// a generation is never empty while at least the fallback exists.
type LLMGenerator struct {
	asker  StrategyAsker
	agents []string
	symbol string
	logger *logrus.Logger
}

func NewLLMGenerator(asker StrategyAsker, agents []string, symbol string, logger *logrus.Logger) *LLMGenerator {
	if logger == nil {
		logger = logrus.New()
	}
	return &LLMGenerator{asker: asker, agents: agents, symbol: symbol, logger: logger}
}

func (g *LLMGenerator) Generate(ctx context.Context, generation int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error) {
	out := make(map[string]models.StrategyDefinition, len(g.agents))

	for _, agent := range g.agents {
		prompt := g.buildPrompt(generation, parents)

		reply, err := g.asker.Ask(ctx, agent, prompt)
		if err != nil {
			g.logger.WithError(err).WithFields(logrus.Fields{
				"agent":      agent,
				"generation": generation,
			}).Warn("strategy generation failed, using baseline")
			out[agent] = baselineStrategy(agent, generation)
			continue
		}

		strategy, err := ParseStrategyJSON(reply)
		if err != nil {
			g.logger.WithError(err).WithField("agent", agent).Warn("unparseable strategy reply, using baseline")
			strategy = baselineStrategy(agent, generation)
		}
		if strategy.Name == "" {
			strategy.Name = fmt.Sprintf("%s-g%d", agent, generation)
		}
		out[agent] = strategy
	}

	return out, nil
}

func (g *LLMGenerator) buildPrompt(generation int, parents map[string]models.StrategyDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose a trading strategy for %s as a single JSON object.\n", g.symbol)

	if len(parents) > 0 {
		b.WriteString("\nThe strongest strategies of the previous generation were:\n")
		for agent, s := range parents {
			data, _ := json.Marshal(s)
			fmt.Fprintf(&b, "- %s: %s\n", agent, data)
		}
		b.WriteString("Improve on them rather than repeating them.\n")
	}

	fmt.Fprintf(&b, "\nThis is generation %d.\n", generation)
	b.WriteString(`
Respond with ONLY the JSON object, no prose, in this shape:
{
  "name": "strategy name",
  "signals": [{"id": "s1", "type": "RSI", "parameters": {"period": 14, "threshold": 30}, "condition": "rsi < threshold"}],
  "filters": [{"id": "f1", "type": "volume", "condition": "volume > 1000000"}],
  "exit_conditions": {"stop_loss": {"type": "percent", "value": 2}, "take_profit": {"type": "percent", "value": 4}}
}
`)
	return b.String()
}

// ParseStrategyJSON extracts the first JSON object from a reply, tolerating
// markdown fences and surrounding prose.
func ParseStrategyJSON(reply string) (models.StrategyDefinition, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return models.StrategyDefinition{}, fmt.Errorf("no json object in reply")
	}

	var s models.StrategyDefinition
	if err := json.Unmarshal([]byte(reply[start:end+1]), &s); err != nil {
		return models.StrategyDefinition{}, fmt.Errorf("decode strategy: %w", err)
	}
	if len(s.Signals) == 0 {
		return models.StrategyDefinition{}, fmt.Errorf("strategy has no signals")
	}
	return s, nil
}

func baselineStrategy(agent string, generation int) models.StrategyDefinition {
	return models.StrategyDefinition{
		Name: fmt.Sprintf("%s-baseline-g%d", agent, generation),
		Signals: []models.Signal{
			{
				ID:         "s1",
				Type:       "RSI",
				Parameters: map[string]any{"period": 14.0, "threshold": 30.0},
				Condition:  "rsi < threshold",
			},
		},
		Filters: []models.Filter{
			{ID: "f1", Type: "volume", Condition: "volume > 1000000"},
		},
		Exits: models.ExitConditions{
			StopLoss:   models.ExitRule{Type: "percent", Value: 2},
			TakeProfit: models.ExitRule{Type: "percent", Value: 4},
		},
	}
}
