package models

import "time"

// AggregationMethod selects how multiple strategy proposals are combined.
type AggregationMethod string

const (
	MethodWeightedVoting       AggregationMethod = "weighted_voting"
	MethodBayesianAggregation  AggregationMethod = "bayesian_aggregation"
	MethodBestOf               AggregationMethod = "best_of"
	MethodSingleAgent          AggregationMethod = "single_agent"
)

// AgentPerformance tracks the running backtest quality of one agent's proposals.
type AgentPerformance struct {
	AgentID    string    `json:"agent_id"`
	AvgSharpe  float64   `json:"avg_sharpe"`
	AvgWinRate float64   `json:"avg_win_rate"`
	Samples    int       `json:"samples"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ConsensusResult is the output of one aggregation call.
type ConsensusResult struct {
	Strategy       StrategyDefinition `json:"strategy"`
	Method         AggregationMethod  `json:"method"`
	Weights        map[string]float64 `json:"weights"`         // agent id -> weight, sums to 1.0
	AgreementScore float64            `json:"agreement_score"` // Jaccard similarity of signal-type sets
	SignalVotes    map[string]int     `json:"signal_votes"`    // signal type -> proposing agent count
	InputAgents    []string           `json:"input_agents"`
	CreatedAt      time.Time          `json:"created_at"`
}
