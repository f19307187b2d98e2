package evolution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
	"github.com/quantmesh/QuorumGo/internal/rlhf"
)

// ErrNoCandidates is returned when a generation produces no strategies.
var ErrNoCandidates = errors.New("evolution: generator produced no candidates")

// Generator proposes one strategy per agent for a generation. Parents carry
// the previous generation's survivors so proposals can build on them.
type Generator interface {
	Generate(ctx context.Context, generation int, parents map[string]models.StrategyDefinition) (map[string]models.StrategyDefinition, error)
}

// Evaluator backtests a single strategy. The dataflows backtest client is
// the production implementation.
type Evaluator interface {
	Backtest(ctx context.Context, strategy models.StrategyDefinition) (models.BacktestMetrics, error)
}

// Reflector records lessons from a completed generation. Optional.
type Reflector interface {
	ReflectOnTask(ctx context.Context, task, solution string, outcome map[string]any, contextData map[string]any) (*models.ReflectionResult, error)
}

// PerformanceSink receives realized backtest outcomes, feeding future
// consensus weights.
type PerformanceSink interface {
	UpdatePerformance(agentID string, sharpe, winRate float64)
}

// FitnessWeights turns backtest metrics into one scalar. Drawdown
// subtracts; everything else adds.
type FitnessWeights struct {
	Sharpe       float64
	WinRate      float64
	Drawdown     float64
	ProfitFactor float64
}

func DefaultFitnessWeights() FitnessWeights {
	return FitnessWeights{
		Sharpe:       0.4,
		WinRate:      0.3,
		Drawdown:     0.2,
		ProfitFactor: 0.1,
	}
}

// ComputeFitness is a pure weighted scalarization of backtest metrics.
// Sharpe is normalized against a ceiling of 3, profit factor against 3;
// drawdown counts against the score.
func ComputeFitness(m models.BacktestMetrics, w FitnessWeights) float64 {
	sharpe := clamp01(m.SharpeRatio / 3)
	profitFactor := clamp01(m.ProfitFactor / 3)
	return w.Sharpe*sharpe +
		w.WinRate*clamp01(m.WinRate) -
		w.Drawdown*clamp01(m.MaxDrawdown) +
		w.ProfitFactor*profitFactor
}

// Config bounds one evolution run.
type Config struct {
	MaxGenerations  int
	SurvivorCount   int
	PlateauPatience int
	PlateauEpsilon  float64
	Weights         FitnessWeights
}

func DefaultConfig() Config {
	return Config{
		MaxGenerations:  5,
		SurvivorCount:   2,
		PlateauPatience: 2,
		PlateauEpsilon:  0.01,
		Weights:         DefaultFitnessWeights(),
	}
}

// Evolution runs the generational propose -> backtest -> reflect -> rank ->
// select loop.
type Evolution struct {
	generator Generator
	evaluator Evaluator
	reflector Reflector
	feedback  *rlhf.FeedbackStore
	sink      PerformanceSink
	logger    *logrus.Logger
}

func New(generator Generator, evaluator Evaluator, reflector Reflector, feedback *rlhf.FeedbackStore, sink PerformanceSink, logger *logrus.Logger) *Evolution {
	if logger == nil {
		logger = logrus.New()
	}
	return &Evolution{
		generator: generator,
		evaluator: evaluator,
		reflector: reflector,
		feedback:  feedback,
		sink:      sink,
		logger:    logger,
	}
}

// Run executes generations until the budget is spent or best fitness
// plateaus for the configured patience window.
func (e *Evolution) Run(ctx context.Context, cfg Config) (*models.EvolutionResult, error) {
	if cfg.MaxGenerations < 1 {
		cfg.MaxGenerations = DefaultConfig().MaxGenerations
	}
	if cfg.SurvivorCount < 1 {
		cfg.SurvivorCount = DefaultConfig().SurvivorCount
	}
	if cfg.PlateauPatience < 1 {
		cfg.PlateauPatience = DefaultConfig().PlateauPatience
	}
	if cfg.Weights == (FitnessWeights{}) {
		cfg.Weights = DefaultFitnessWeights()
	}

	result := &models.EvolutionResult{BestFitness: math.Inf(-1)}
	parents := map[string]models.StrategyDefinition{}
	prevBest := math.Inf(-1)
	stale := 0

	for gen := 1; gen <= cfg.MaxGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates, err := e.generator.Generate(ctx, gen, parents)
		if err != nil {
			return nil, fmt.Errorf("generation %d: %w", gen, err)
		}
		if len(candidates) == 0 {
			return nil, ErrNoCandidates
		}

		record := models.GenerationRecord{
			Index:     gen,
			Fitness:   make(map[string]float64, len(candidates)),
			Timestamp: time.Now(),
		}

		metricsByAgent := make(map[string]models.BacktestMetrics, len(candidates))
		for agent, strategy := range candidates {
			metrics, err := e.evaluator.Backtest(ctx, strategy)
			if err != nil {
				e.logger.WithError(err).WithFields(logrus.Fields{
					"agent":      agent,
					"generation": gen,
				}).Warn("backtest failed, candidate excluded from generation")
				continue
			}
			metricsByAgent[agent] = metrics
			record.Fitness[agent] = ComputeFitness(metrics, cfg.Weights)

			if e.sink != nil {
				e.sink.UpdatePerformance(agent, metrics.SharpeRatio, metrics.WinRate)
			}
		}
		if len(record.Fitness) == 0 {
			return nil, fmt.Errorf("generation %d: every backtest failed", gen)
		}

		e.reflectOnGeneration(ctx, gen, candidates, metricsByAgent, record.Fitness)
		e.rankSiblings(gen, candidates, record.Fitness)

		survivors := selectSurvivors(record.Fitness, cfg.SurvivorCount)
		record.Survivors = survivors
		result.Generations = append(result.Generations, record)

		genBestAgent := survivors[0]
		genBest := record.Fitness[genBestAgent]
		if genBest > result.BestFitness {
			result.BestFitness = genBest
			result.BestAgent = genBestAgent
			result.Best = candidates[genBestAgent].Clone()
		}

		e.logger.WithFields(logrus.Fields{
			"generation": gen,
			"candidates": len(record.Fitness),
			"best_agent": genBestAgent,
			"fitness":    genBest,
		}).Info("generation complete")

		if genBest <= prevBest+cfg.PlateauEpsilon {
			if stale++; stale >= cfg.PlateauPatience {
				result.Plateaued = true
				e.logger.WithField("generation", gen).Info("fitness plateaued, stopping")
				break
			}
		} else {
			stale = 0
		}
		prevBest = math.Max(prevBest, genBest)

		parents = make(map[string]models.StrategyDefinition, len(survivors))
		for _, agent := range survivors {
			parents[agent] = candidates[agent]
		}
	}

	return result, nil
}

// reflectOnGeneration records one reflection for the generation's best
// candidate. Reflection failures never abort the run.
func (e *Evolution) reflectOnGeneration(ctx context.Context, gen int, candidates map[string]models.StrategyDefinition, metrics map[string]models.BacktestMetrics, fitness map[string]float64) {
	if e.reflector == nil {
		return
	}

	best := selectSurvivors(fitness, 1)[0]
	m := metrics[best]
	outcome := map[string]any{
		"success":       fitness[best] > 0,
		"sharpe_ratio":  m.SharpeRatio,
		"win_rate":      m.WinRate,
		"max_drawdown":  m.MaxDrawdown,
		"profit_factor": m.ProfitFactor,
	}

	task := fmt.Sprintf("evolve trading strategy, generation %d", gen)
	solution := fmt.Sprintf("agent %s proposed strategy %q", best, candidates[best].Name)
	if _, err := e.reflector.ReflectOnTask(ctx, task, solution, outcome, nil); err != nil {
		e.logger.WithError(err).WithField("generation", gen).Warn("generation reflection failed")
	}
}

// rankSiblings records pairwise consensus-source feedback samples between
// generation siblings, ordered by realized fitness.
func (e *Evolution) rankSiblings(gen int, candidates map[string]models.StrategyDefinition, fitness map[string]float64) {
	if e.feedback == nil || len(fitness) < 2 {
		return
	}

	agents := make([]string, 0, len(fitness))
	for agent := range fitness {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	prompt := fmt.Sprintf("rank strategy proposals for generation %d", gen)
	summaries := make([]string, len(agents))
	for i, agent := range agents {
		summaries[i] = describeStrategy(candidates[agent])
	}

	evaluator := func(_, a, b string) (int, float64, string, error) {
		fa, fb := fitnessFor(agents, summaries, fitness, a), fitnessFor(agents, summaries, fitness, b)
		diff := fb - fa
		if math.Abs(diff) < 1e-6 {
			return models.PreferTie, 0.5, "equal realized fitness", nil
		}
		confidence := clamp01(0.5 + math.Abs(diff))
		if diff > 0 {
			return models.PreferB, confidence, "higher realized backtest fitness", nil
		}
		return models.PreferA, confidence, "higher realized backtest fitness", nil
	}

	e.feedback.CollectAIFeedback(prompt, summaries, evaluator)
}

func fitnessFor(agents, summaries []string, fitness map[string]float64, summary string) float64 {
	for i, s := range summaries {
		if s == summary {
			return fitness[agents[i]]
		}
	}
	return 0
}

func describeStrategy(s models.StrategyDefinition) string {
	types := make([]string, 0, len(s.Signals))
	for t := range s.SignalTypes() {
		types = append(types, t)
	}
	sort.Strings(types)
	return fmt.Sprintf("%s: signals=%v stop=%.2f take=%.2f",
		s.Name, types, s.Exits.StopLoss.Value, s.Exits.TakeProfit.Value)
}

// selectSurvivors returns the top-n agents by fitness, ties broken by
// agent id for determinism.
func selectSurvivors(fitness map[string]float64, n int) []string {
	agents := make([]string, 0, len(fitness))
	for agent := range fitness {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool {
		if fitness[agents[i]] != fitness[agents[j]] {
			return fitness[agents[i]] > fitness[agents[j]]
		}
		return agents[i] < agents[j]
	})

	if n > len(agents) {
		n = len(agents)
	}
	return agents[:n]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
