package models

import "time"

// BacktestMetrics summarizes the performance of one strategy over a backtest run.
// Produced by the external backtest engine; consumed by performance tracking
// and fitness computation.
type BacktestMetrics struct {
	SharpeRatio  float64 `json:"sharpe_ratio"`
	WinRate      float64 `json:"win_rate"` // 0-1
	MaxDrawdown  float64 `json:"max_drawdown"` // 0-1, fraction of equity
	ProfitFactor float64 `json:"profit_factor"`
	TotalTrades  int     `json:"total_trades"`
	TotalReturn  float64 `json:"total_return"`
}

// GenerationRecord captures one generation of the evolution loop.
type GenerationRecord struct {
	Index     int                `json:"index"`
	Fitness   map[string]float64 `json:"fitness"` // agent id -> fitness
	Survivors []string           `json:"survivors"`
	Timestamp time.Time          `json:"timestamp"`
}

// EvolutionResult aggregates a full evolution run.
type EvolutionResult struct {
	Generations []GenerationRecord `json:"generations"`
	Best        StrategyDefinition `json:"best"`
	BestAgent   string             `json:"best_agent"`
	BestFitness float64            `json:"best_fitness"`
	Plateaued   bool               `json:"plateaued"`
}
