package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/config"
	"github.com/quantmesh/QuorumGo/internal/consensus"
	"github.com/quantmesh/QuorumGo/internal/dataflows"
	"github.com/quantmesh/QuorumGo/internal/deliberation"
	"github.com/quantmesh/QuorumGo/internal/evolution"
	"github.com/quantmesh/QuorumGo/internal/llm"
	"github.com/quantmesh/QuorumGo/internal/models"
	"github.com/quantmesh/QuorumGo/internal/reflection"
	"github.com/quantmesh/QuorumGo/internal/rlhf"
	"github.com/quantmesh/QuorumGo/internal/storage"
)

// app wires the engines behind the CLI commands. Components are built
// lazily so that commands which never talk to an LLM (aggregate, feedback
// stats) work without API keys.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	pool     *llm.ModelPool
	store    *storage.Store
	feedback *rlhf.FeedbackStore
}

func newApp(cfg *config.Config) *app {
	logger := logrus.New()
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return &app{cfg: cfg, logger: logger}
}

func (a *app) modelPool(ctx context.Context) (*llm.ModelPool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := llm.NewModelPool(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initialize model pool: %w", err)
	}
	a.pool = pool
	return pool, nil
}

func (a *app) sharedStore() (*storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.Shared(a.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	return store, nil
}

func (a *app) feedbackStore() (*rlhf.FeedbackStore, error) {
	if a.feedback != nil {
		return a.feedback, nil
	}
	store, err := a.sharedStore()
	if err != nil {
		return nil, err
	}

	opts := rlhf.DefaultFeedbackOptions()
	opts.MinSamples = a.cfg.MinFeedbackSamples
	opts.TrainEpochs = a.cfg.TrainEpochs
	opts.LearningRate = a.cfg.LearningRate

	a.feedback = rlhf.NewFeedbackStore(rlhf.NewRewardModel(a.logger), store, opts, a.logger)
	return a.feedback, nil
}

func (a *app) consensusEngine() *consensus.Engine {
	return consensus.NewEngine(consensus.NewMemoryPerformanceStore(), consensus.DefaultOptions(), a.logger)
}

func (a *app) deliberationOptions() deliberation.Options {
	opts := deliberation.DefaultOptions()
	opts.MaxRounds = a.cfg.MaxDeliberationRounds
	opts.MinConfidence = a.cfg.MinConfidence
	opts.ConvergenceThreshold = a.cfg.ConvergenceThreshold
	opts.CallTimeout = time.Duration(a.cfg.CallTimeoutSeconds) * time.Second
	opts.MaxConcurrentCalls = a.cfg.MaxConcurrentCalls
	opts.EnableParallelCalls = a.cfg.EnableParallelCalls
	return opts
}

func (a *app) reflectionEngine(ctx context.Context) (*reflection.Engine, error) {
	store, err := a.sharedStore()
	if err != nil {
		return nil, err
	}
	pool, err := a.modelPool(ctx)
	if err != nil {
		return nil, err
	}

	reflectAgent := "deepseek"
	if len(a.cfg.DeliberationAgents) > 0 {
		reflectAgent = a.cfg.DeliberationAgents[0]
	}
	reflect := func(ctx context.Context, promptKey, prompt string) (string, error) {
		return pool.Ask(ctx, reflectAgent, prompt)
	}
	return reflection.NewEngine(reflect, store, a.logger), nil
}

func (a *app) evolutionEngine(ctx context.Context, symbol string) (*evolution.Evolution, *consensus.Engine, error) {
	pool, err := a.modelPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	feedback, err := a.feedbackStore()
	if err != nil {
		return nil, nil, err
	}
	reflector, err := a.reflectionEngine(ctx)
	if err != nil {
		return nil, nil, err
	}

	generator := evolution.NewLLMGenerator(pool, a.cfg.DeliberationAgents, symbol, a.logger)
	backtester := dataflows.NewBacktestClient(a.cfg.BacktestServiceURL, a.logger)
	market := dataflows.NewMarketDataClient(a.cfg.DataDir, a.cfg.CacheEnabled)
	engine := a.consensusEngine()

	evaluator := newBacktestEvaluator(backtester, market, symbol, a.logger)
	evo := evolution.New(generator, evaluator, reflector, feedback, engine, a.logger)
	return evo, engine, nil
}

// backtestEvaluator backtests strategies against recent candles for one
// symbol. Candles are fetched once and reused across generations.
type backtestEvaluator struct {
	client  *dataflows.BacktestClient
	market  *dataflows.MarketDataClient
	symbol  string
	candles []dataflows.MarketData
	logger  *logrus.Logger
}

func newBacktestEvaluator(client *dataflows.BacktestClient, market *dataflows.MarketDataClient, symbol string, logger *logrus.Logger) *backtestEvaluator {
	return &backtestEvaluator{client: client, market: market, symbol: symbol, logger: logger}
}

func (e *backtestEvaluator) Backtest(ctx context.Context, strategy models.StrategyDefinition) (models.BacktestMetrics, error) {
	if e.candles == nil && e.market != nil {
		candles, err := e.market.GetHistoricalDataWindow(e.symbol, 180)
		if err != nil {
			e.logger.WithError(err).WithField("symbol", e.symbol).Warn("historical data unavailable, backtest service will fetch its own")
		} else {
			e.candles = candles
		}
	}
	return e.client.BacktestWithData(ctx, strategy, e.symbol, e.candles)
}

func (a *app) evolutionConfig() evolution.Config {
	cfg := evolution.DefaultConfig()
	cfg.MaxGenerations = a.cfg.MaxGenerations
	cfg.PlateauPatience = a.cfg.PlateauPatience
	cfg.PlateauEpsilon = a.cfg.PlateauEpsilon
	return cfg
}
