package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantmesh/QuorumGo/internal/config"
	"github.com/quantmesh/QuorumGo/internal/models"
	"github.com/quantmesh/QuorumGo/pkg/utils"
)

// deliberationMarkdown renders a human-readable transcript summary.
func deliberationMarkdown(result *models.DeliberationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Deliberation: %s\n\n", result.Question)
	fmt.Fprintf(&b, "**Decision:** %s  \n", result.Decision)
	fmt.Fprintf(&b, "**Confidence:** %.0f%%  \n", result.Confidence*100)
	fmt.Fprintf(&b, "**Rounds:** %d | **Converged:** %v\n\n", len(result.Rounds), result.Converged)

	b.WriteString("## Final votes\n\n")
	b.WriteString("| Agent | Confidence | Position |\n|---|---|---|\n")
	for _, vote := range result.FinalVotes {
		position := vote.Position
		if vote.Fallback {
			position = "_(no response)_"
		}
		fmt.Fprintf(&b, "| %s | %.0f%% | %s |\n", vote.AgentID, vote.Confidence*100, strings.ReplaceAll(position, "\n", " "))
	}

	if len(result.DissentingOpinions) > 0 {
		b.WriteString("\n## Dissenting opinions\n\n")
		for _, vote := range result.DissentingOpinions {
			fmt.Fprintf(&b, "- **%s**: %s\n", vote.AgentID, strings.ReplaceAll(vote.Position, "\n", " "))
		}
	}

	if len(result.EvidenceChain) > 0 {
		b.WriteString("\n## Evidence\n\n")
		for _, ev := range result.EvidenceChain {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
	}

	fmt.Fprintf(&b, "\n_Generated %s_\n", result.CreatedAt.Format(time.RFC3339))
	return b.String()
}

// evolutionMarkdown renders a run summary with the winning strategy.
func evolutionMarkdown(symbol string, result *models.EvolutionResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Strategy evolution: %s\n\n", symbol)
	fmt.Fprintf(&b, "**Best strategy:** %s (by %s)  \n", result.Best.Name, result.BestAgent)
	fmt.Fprintf(&b, "**Fitness:** %.4f  \n", result.BestFitness)
	fmt.Fprintf(&b, "**Plateaued:** %v\n\n", result.Plateaued)

	b.WriteString("## Generations\n\n")
	b.WriteString("| Gen | Survivors | Best fitness |\n|---|---|---|\n")
	for _, gen := range result.Generations {
		best := 0.0
		for _, f := range gen.Fitness {
			if f > best {
				best = f
			}
		}
		fmt.Fprintf(&b, "| %d | %s | %.4f |\n", gen.Index, strings.Join(gen.Survivors, ", "), best)
	}

	b.WriteString("\n## Winning strategy\n\n")
	for _, sig := range result.Best.Signals {
		fmt.Fprintf(&b, "- **%s**: %s\n", sig.Type, sig.Condition)
	}
	for _, f := range result.Best.Filters {
		fmt.Fprintf(&b, "- filter **%s**: %s\n", f.Type, f.Condition)
	}
	fmt.Fprintf(&b, "- exits: stop %.1f%% / take %.1f%%\n",
		result.Best.Exits.StopLoss.Value, result.Best.Exits.TakeProfit.Value)

	return b.String()
}

// saveReport writes a markdown companion next to the JSON result.
func saveReport(cfg *config.Config, fileName, content string) {
	if err := utils.WriteMarkdown(cfg.ResultsDir, fileName, content); err != nil {
		fmt.Println(errorStyle.Render("could not write report: " + err.Error()))
	}
}
