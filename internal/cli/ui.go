package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/quantmesh/QuorumGo/internal/consensus"
	"github.com/quantmesh/QuorumGo/internal/models"
)

// UI styles
var (
	// Base styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(1, 2).
			Width(80)

	// Status styles
	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	dissentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))
)

// DisplayWelcomeBanner shows the welcome banner
func DisplayWelcomeBanner() {
	banner := `
  ██████╗ ██╗   ██╗ ██████╗ ██████╗ ██╗   ██╗███╗   ███╗ ██████╗  ██████╗
 ██╔═══██╗██║   ██║██╔═══██╗██╔══██╗██║   ██║████╗ ████║██╔════╝ ██╔═══██╗
 ██║   ██║██║   ██║██║   ██║██████╔╝██║   ██║██╔████╔██║██║  ███╗██║   ██║
 ██║▄▄ ██║██║   ██║██║   ██║██╔══██╗██║   ██║██║╚██╔╝██║██║   ██║██║   ██║
 ╚██████╔╝╚██████╔╝╚██████╔╝██║  ██║╚██████╔╝██║ ╚═╝ ██║╚██████╔╝╚██████╔╝
  ╚══▀▀═╝  ╚═════╝  ╚═════╝ ╚═╝  ╚═╝ ╚═════╝ ╚═╝     ╚═╝ ╚═════╝  ╚═════╝
`

	welcomeStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7C3AED")).
		Bold(true).
		Align(lipgloss.Center).
		Width(80)

	taglineStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#3B82F6")).
		Italic(true).
		Align(lipgloss.Center).
		Width(80).
		MarginBottom(1)

	fmt.Print(welcomeStyle.Render(banner))
	fmt.Println()
	fmt.Println(taglineStyle.Render("Multi-agent consensus, deliberation and strategy evolution"))
}

// ClearScreen clears the terminal screen
func ClearScreen() {
	fmt.Print("\033[2J\033[H")
}

// DisplayDeliberationResult renders one finished deliberation.
func DisplayDeliberationResult(result *models.DeliberationResult, elapsed time.Duration) {
	var b strings.Builder

	decision := completedStyle.Render(result.Decision)
	if !result.Converged {
		decision = dissentStyle.Render(result.Decision)
	}
	fmt.Fprintf(&b, "Decision:   %s\n", decision)
	fmt.Fprintf(&b, "Confidence: %s\n", renderConfidence(result.Confidence))
	fmt.Fprintf(&b, "Rounds:     %d | Converged: %v | Took: %s\n", len(result.Rounds), result.Converged, elapsed.Round(time.Millisecond))

	b.WriteString("\nFinal votes:\n")
	for _, vote := range result.FinalVotes {
		marker := "  "
		if vote.Fallback {
			marker = "! "
		}
		fmt.Fprintf(&b, "%s%-12s %.0f%%  %s\n", marker, vote.AgentID, vote.Confidence*100, truncateLine(vote.Position, 50))
	}

	if len(result.DissentingOpinions) > 0 {
		b.WriteString("\nDissent:\n")
		for _, vote := range result.DissentingOpinions {
			fmt.Fprintf(&b, "  %-12s %s\n", vote.AgentID, dissentStyle.Render(truncateLine(vote.Position, 50)))
		}
	}

	if len(result.EvidenceChain) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, ev := range result.EvidenceChain {
			fmt.Fprintf(&b, "  - %s\n", truncateLine(ev, 70))
		}
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// DisplayConsensusResult renders one merged strategy.
func DisplayConsensusResult(result *models.ConsensusResult) {
	var b strings.Builder

	fmt.Fprintf(&b, "Method:    %s\n", result.Method)
	fmt.Fprintf(&b, "Strategy:  %s\n", result.Strategy.Name)
	fmt.Fprintf(&b, "Agreement: %.0f%%\n", result.AgreementScore*100)

	b.WriteString("\nAgent weights:\n")
	for _, agent := range sortedKeys(result.Weights) {
		fmt.Fprintf(&b, "  %-12s %s %.3f\n", agent, renderBar(result.Weights[agent], 20), result.Weights[agent])
	}

	b.WriteString("\nSignals:\n")
	for _, sig := range result.Strategy.Signals {
		votes := result.SignalVotes[sig.Type]
		fmt.Fprintf(&b, "  %-10s (%d votes)  %s\n", sig.Type, votes, sig.Condition)
	}
	if len(result.Strategy.Filters) > 0 {
		b.WriteString("Filters:\n")
		for _, f := range result.Strategy.Filters {
			fmt.Fprintf(&b, "  %-10s %s\n", f.Type, f.Condition)
		}
	}
	fmt.Fprintf(&b, "Exits:     stop %.1f%% / take %.1f%%\n",
		result.Strategy.Exits.StopLoss.Value, result.Strategy.Exits.TakeProfit.Value)

	fmt.Println(panelStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// DisplayEvolutionResult renders a finished evolution run plus the realized
// per-agent performance the run fed back into consensus weighting.
func DisplayEvolutionResult(result *models.EvolutionResult, engine *consensus.Engine, agents []string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Best strategy: %s (by %s)\n", result.Best.Name, result.BestAgent)
	fmt.Fprintf(&b, "Fitness:       %.4f\n", result.BestFitness)
	status := "generation budget exhausted"
	if result.Plateaued {
		status = "fitness plateaued"
	}
	fmt.Fprintf(&b, "Generations:   %d (%s)\n", len(result.Generations), status)

	b.WriteString("\nPer generation:\n")
	for _, gen := range result.Generations {
		best := 0.0
		for _, f := range gen.Fitness {
			if f > best {
				best = f
			}
		}
		fmt.Fprintf(&b, "  gen %d  best %.4f  survivors: %s\n", gen.Index, best, strings.Join(gen.Survivors, ", "))
	}

	b.WriteString("\nAgent track record:\n")
	for _, agent := range agents {
		perf, ok := engine.Performance(agent)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %-12s sharpe %.2f  win rate %.0f%%  (%d runs)\n",
			agent, perf.AvgSharpe, perf.AvgWinRate*100, perf.Samples)
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func renderConfidence(c float64) string {
	text := fmt.Sprintf("%.0f%%", c*100)
	switch {
	case c >= 0.7:
		return completedStyle.Render(text)
	case c >= 0.4:
		return dissentStyle.Render(text)
	default:
		return errorStyle.Render(text)
	}
}

func renderBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
