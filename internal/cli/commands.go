package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantmesh/QuorumGo/internal/config"
	"github.com/quantmesh/QuorumGo/internal/deliberation"
	"github.com/quantmesh/QuorumGo/internal/models"
	"github.com/quantmesh/QuorumGo/internal/reflection"
	"github.com/quantmesh/QuorumGo/pkg/utils"
)

const version = "1.0.0"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	// Initialize configuration early
	cfg := config.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "quorumgo",
		Short: "QuorumGo - Multi-Agent Consensus & Deliberation Engine",
		Long: `QuorumGo runs structured debates among LLM agent personas and merges their
trading strategy proposals into a single consensus decision, with reward-model
feedback, self-reflection and generational strategy evolution.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				mgr, err := config.NewManager(config.WithConfigPath(path))
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				loaded := mgr.Get()
				*cfg = loaded
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Debug = true
			}
			// Ensure directories exist
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("failed to create directories: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start interactive mode
			return runInteractiveMode(cfg)
		},
	}

	// Add subcommands
	rootCmd.AddCommand(newDeliberateCmd(cfg))
	rootCmd.AddCommand(newAggregateCmd(cfg))
	rootCmd.AddCommand(newEvolveCmd(cfg))
	rootCmd.AddCommand(newFeedbackCmd(cfg))
	rootCmd.AddCommand(newReflectCmd(cfg))
	rootCmd.AddCommand(newResultsCmd(cfg))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(cfg))

	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().String("config", "", "Configuration file path")

	return rootCmd
}

// newDeliberateCmd creates the deliberate command
func newDeliberateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliberate [QUESTION]",
		Short: "Run a multi-agent deliberation over a question",
		Long: `Run a bounded multi-round debate among the configured agent personas.
Example: quorumgo deliberate "Should we enter AAPL this week?" --choices=BUY,SELL,HOLD`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := args[0]
			agents, _ := cmd.Flags().GetStringSlice("agents")
			rounds, _ := cmd.Flags().GetInt("rounds")
			voting, _ := cmd.Flags().GetString("voting")
			choices, _ := cmd.Flags().GetStringSlice("choices")

			if len(agents) == 0 {
				agents = cfg.DeliberationAgents
			}
			if rounds > 0 {
				cfg.MaxDeliberationRounds = rounds
			}

			return runDeliberateCommand(cfg, question, agents, deliberation.VotingStrategy(voting), choices)
		},
	}

	cmd.Flags().StringSlice("agents", nil, "Agent personas to debate (default from config)")
	cmd.Flags().Int("rounds", 0, "Maximum deliberation rounds")
	cmd.Flags().String("voting", string(deliberation.VoteWeighted), "Voting strategy: majority, weighted, unanimous")
	cmd.Flags().StringSlice("choices", nil, "Canonical answer choices, e.g. BUY,SELL,HOLD")

	return cmd
}

// newAggregateCmd creates the aggregate command
func newAggregateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate [PROPOSALS_FILE]",
		Short: "Merge agent strategy proposals into one consensus strategy",
		Long: `Read a JSON file mapping agent ids to strategy definitions and merge them.
Example: quorumgo aggregate proposals.json --method=weighted_voting`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			return runAggregateCommand(cfg, args[0], models.AggregationMethod(method))
		},
	}

	cmd.Flags().String("method", string(models.MethodWeightedVoting), "Aggregation method: weighted_voting, bayesian_aggregation, best_of")

	return cmd
}

// newEvolveCmd creates the evolve command
func newEvolveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evolve [SYMBOL]",
		Short: "Evolve trading strategies for a symbol across generations",
		Long: `Run the generate -> backtest -> select loop until the fitness plateaus or
the generation budget runs out.
Example: quorumgo evolve AAPL --generations=5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			if generations, _ := cmd.Flags().GetInt("generations"); generations > 0 {
				cfg.MaxGenerations = generations
			}
			return runEvolveCommand(cfg, symbol)
		},
	}

	cmd.Flags().Int("generations", 0, "Maximum generations to run")

	return cmd
}

// newFeedbackCmd creates the feedback command
func newFeedbackCmd(cfg *config.Config) *cobra.Command {
	feedbackCmd := &cobra.Command{
		Use:   "feedback",
		Short: "Reward model feedback management",
		Long:  "Collect preference feedback and train the reward model on it",
	}

	feedbackCmd.AddCommand(&cobra.Command{
		Use:   "train",
		Short: "Train the reward model on the stored feedback samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedbackTrain(cfg)
		},
	})

	feedbackCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show stored sample counts and current model weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedbackStats(cfg)
		},
	})

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Record one human preference between two responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedbackCollect(cfg)
		},
	}
	feedbackCmd.AddCommand(collectCmd)

	return feedbackCmd
}

// newReflectCmd creates the reflect command
func newReflectCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Show recurring lessons and recommendations from past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			task, _ := cmd.Flags().GetString("task")
			recent, _ := cmd.Flags().GetInt("recent")
			return runReflectCommand(cfg, task, recent)
		},
	}

	cmd.Flags().String("task", "", "Task description to match recommendations against")
	cmd.Flags().Int("recent", 10, "Number of recent reflections to mine for patterns")

	return cmd
}

// newResultsCmd creates the results command
func newResultsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "List saved run results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResultsCommand(cfg)
		},
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("QuorumGo v%s\n", version)
			fmt.Println("Multi-Agent Consensus & Deliberation Engine")
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(cfg *config.Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Manage QuorumGo configuration settings",
	}

	// config show subcommand
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			showConfig(cfg)
		},
	})

	// config validate subcommand
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cfg)
		},
	})

	return configCmd
}

// runDeliberateCommand executes one deliberation and renders the outcome.
func runDeliberateCommand(cfg *config.Config, question string, agents []string, voting deliberation.VotingStrategy, choices []string) error {
	ctx := context.Background()
	a := newApp(cfg)

	pool, err := a.modelPool(ctx)
	if err != nil {
		return err
	}

	opts := a.deliberationOptions()
	opts.VotingStrategy = voting
	opts.ChoiceOptions = choices

	fmt.Println(titleStyle.Render(" Deliberation "))
	fmt.Printf("Question: %s\nAgents:   %s\n\n", question, strings.Join(agents, ", "))

	started := time.Now()
	result, err := deliberation.New(pool, a.logger).Deliberate(ctx, question, agents, opts)
	if err != nil {
		return err
	}

	DisplayDeliberationResult(result, time.Since(started))

	stamp := time.Now().Format("20060102_150405")
	saveReport(cfg, fmt.Sprintf("deliberation_%s.md", stamp), deliberationMarkdown(result))
	return saveResult(cfg, fmt.Sprintf("deliberation_%s.json", stamp), result)
}

// runAggregateCommand merges a proposals file into one consensus strategy.
func runAggregateCommand(cfg *config.Config, proposalsPath string, method models.AggregationMethod) error {
	data, err := os.ReadFile(proposalsPath)
	if err != nil {
		return fmt.Errorf("read proposals: %w", err)
	}

	var proposals map[string]models.StrategyDefinition
	if err := json.Unmarshal(data, &proposals); err != nil {
		return fmt.Errorf("parse proposals: %w", err)
	}

	a := newApp(cfg)
	result, err := a.consensusEngine().Aggregate(context.Background(), proposals, method)
	if err != nil {
		return err
	}

	DisplayConsensusResult(result)
	return saveResult(cfg, fmt.Sprintf("consensus_%s.json", time.Now().Format("20060102_150405")), result)
}

// runEvolveCommand runs the full evolution loop for one symbol.
func runEvolveCommand(cfg *config.Config, symbol string) error {
	ctx := context.Background()
	a := newApp(cfg)

	evo, engine, err := a.evolutionEngine(ctx, symbol)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(" Strategy Evolution "))
	fmt.Printf("Symbol: %s | Generations: %d | Agents: %s\n\n",
		symbol, cfg.MaxGenerations, strings.Join(cfg.DeliberationAgents, ", "))

	result, err := evo.Run(ctx, a.evolutionConfig())
	if err != nil {
		return err
	}

	DisplayEvolutionResult(result, engine, cfg.DeliberationAgents)

	stamp := time.Now().Format("20060102_150405")
	saveReport(cfg, fmt.Sprintf("evolution_%s_%s.md", symbol, stamp), evolutionMarkdown(symbol, result))
	return saveResult(cfg, fmt.Sprintf("evolution_%s_%s.json", symbol, stamp), result)
}

func runFeedbackTrain(cfg *config.Config) error {
	a := newApp(cfg)
	fs, err := a.feedbackStore()
	if err != nil {
		return err
	}

	metrics, err := fs.TrainRewardModel(true)
	if err != nil {
		return err
	}
	if metrics == nil {
		fmt.Println(pendingStyle.Render(fmt.Sprintf(
			"Not enough samples to train (%d stored, %d required)", fs.Len(), cfg.MinFeedbackSamples)))
		return nil
	}

	fmt.Println(completedStyle.Render("Reward model trained"))
	fmt.Printf("  samples:   %d\n  epochs:    %d\n  loss:      %.4f\n  accuracy:  %.1f%%\n",
		metrics.Samples, metrics.Epochs, metrics.Loss, metrics.Accuracy*100)
	if metrics.StoppedEarly {
		fmt.Println("  stopped early on validation loss")
	}
	return nil
}

func runFeedbackStats(cfg *config.Config) error {
	a := newApp(cfg)
	fs, err := a.feedbackStore()
	if err != nil {
		return err
	}

	bySource := map[models.PreferenceSource]int{}
	for _, s := range fs.Samples() {
		bySource[s.Source]++
	}

	fmt.Println(titleStyle.Render(" Feedback Store "))
	fmt.Printf("Samples: %d (human %d, ai %d, self %d)\n\n",
		fs.Len(), bySource[models.PreferenceSourceHuman], bySource[models.PreferenceSourceAI], bySource[models.PreferenceSourceSelf])

	fmt.Println("Reward model weights:")
	for name, w := range fs.Model().Weights() {
		fmt.Printf("  %-20s %+.4f\n", name, w)
	}
	return nil
}

func runFeedbackCollect(cfg *config.Config) error {
	a := newApp(cfg)
	fs, err := a.feedbackStore()
	if err != nil {
		return err
	}

	prompt, responseA, responseB, preference, reasoning, err := PromptForPreference()
	if err != nil {
		return err
	}

	sample, err := fs.CollectHumanFeedback(prompt, responseA, responseB, preference, reasoning)
	if err != nil {
		return err
	}

	fmt.Println(completedStyle.Render(fmt.Sprintf("Recorded sample %s (%d total)", sample.ID, fs.Len())))
	return nil
}

func runReflectCommand(cfg *config.Config, task string, recent int) error {
	a := newApp(cfg)
	store, err := a.sharedStore()
	if err != nil {
		return err
	}

	// Read-only: no reflect function needed to mine stored history.
	engine := reflection.NewEngine(nil, store, a.logger)

	patterns := engine.ExtractPatterns(recent)
	fmt.Println(titleStyle.Render(" Lessons Learned "))
	if len(patterns) == 0 {
		fmt.Println(pendingStyle.Render("No recurring patterns yet; run some deliberations or evolutions first."))
		return nil
	}
	for _, p := range patterns {
		fmt.Printf("  %s (seen %dx, success %.0f%%)\n", p.Lesson, p.Frequency, p.SuccessRate*100)
		fmt.Printf("    %s\n", p.Recommendation)
	}

	if task != "" {
		fmt.Println()
		fmt.Println(headerStyle.Render("Recommendations for: " + task))
		for _, rec := range engine.GetRecommendations(task, 5) {
			fmt.Printf("  - %s\n", rec)
		}
	}
	return nil
}

// showConfig prints the active configuration as indented JSON.
func showConfig(cfg *config.Config) {
	fmt.Println(titleStyle.Render(" Configuration "))
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Println(errorStyle.Render("failed to render configuration: " + err.Error()))
		return
	}
	fmt.Println(string(data))
}

func validateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		fmt.Println(errorStyle.Render("Configuration invalid: " + err.Error()))
		return err
	}

	fmt.Println(completedStyle.Render("Configuration valid"))
	if cfg.DeepSeekAPIKey == "" && cfg.OpenAIAPIKey == "" {
		fmt.Println(pendingStyle.Render("Warning: no LLM API key set; deliberate/evolve commands will fail"))
	}
	return nil
}

// saveResult writes a command result under the results directory.
func saveResult(cfg *config.Config, fileName string, v any) error {
	if err := utils.WriteJSON(cfg.ResultsDir, fileName, v); err != nil {
		return err
	}
	fmt.Printf("\nResult saved to %s\n", cfg.ResultsDir+"/"+fileName)
	return nil
}
