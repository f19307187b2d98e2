// Package consensus merges independently proposed trading strategies into a
// single statistically justified one. Agent trust is weighted dynamically from
// historical backtest performance.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/models"
)

// ErrEmptyInput is returned when Aggregate is called with no strategies.
var ErrEmptyInput = errors.New("consensus: no strategies to aggregate")

const epsilon = 1e-9

// NumericMergeMode selects how numeric signal parameters are combined.
type NumericMergeMode string

const (
	MergeWeightedMedian NumericMergeMode = "weighted_median"
	MergeWeightedMean   NumericMergeMode = "weighted_mean"
)

// Options hold the tunable constants of the aggregation heuristics.
type Options struct {
	// SharpeWeight and WinRateWeight blend historical performance into a trust weight.
	SharpeWeight  float64
	WinRateWeight float64
	// WeightFloor keeps any agent from being zeroed out entirely.
	WeightFloor float64
	// SurvivalThreshold is the combined proposer weight a signal type needs to
	// survive into the merged strategy.
	SurvivalThreshold float64
	// FilterThreshold is the combined proposer weight a filter needs for inclusion.
	FilterThreshold float64
	NumericMerge    NumericMergeMode
}

func DefaultOptions() Options {
	return Options{
		SharpeWeight:      0.6,
		WinRateWeight:     0.4,
		WeightFloor:       0.05,
		SurvivalThreshold: 0.5,
		FilterThreshold:   0.1,
		NumericMerge:      MergeWeightedMedian,
	}
}

// Engine aggregates strategy proposals from multiple agents.
type Engine struct {
	opts   Options
	store  PerformanceStore
	logger *logrus.Logger
}

func NewEngine(store PerformanceStore, opts Options, logger *logrus.Logger) *Engine {
	if store == nil {
		store = NewMemoryPerformanceStore()
	}
	if opts.SharpeWeight == 0 && opts.WinRateWeight == 0 {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{opts: opts, store: store, logger: logger}
}

// UpdatePerformance feeds a backtest outcome into the trust weighting for
// future aggregations.
func (e *Engine) UpdatePerformance(agentID string, sharpe, winRate float64) {
	e.store.Update(agentID, sharpe, winRate)
}

// Performance exposes the tracked record for an agent, for display and audit.
func (e *Engine) Performance(agentID string) (models.AgentPerformance, bool) {
	return e.store.Get(agentID)
}

// Aggregate merges the given strategies into one ConsensusResult using the
// requested method. The input map is never mutated.
func (e *Engine) Aggregate(ctx context.Context, strategies map[string]models.StrategyDefinition, method models.AggregationMethod) (*models.ConsensusResult, error) {
	if len(strategies) == 0 {
		return nil, ErrEmptyInput
	}

	agents := make([]string, 0, len(strategies))
	for id := range strategies {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	if len(strategies) == 1 {
		only := agents[0]
		return &models.ConsensusResult{
			Strategy:       strategies[only].Clone(),
			Method:         models.MethodSingleAgent,
			Weights:        map[string]float64{only: 1.0},
			AgreementScore: 1.0,
			SignalVotes:    countSignalVotes(strategies),
			InputAgents:    agents,
			CreatedAt:      time.Now(),
		}, nil
	}

	weights := e.performanceWeights(agents)
	agreement := agreementScore(strategies)
	votes := countSignalVotes(strategies)

	var merged models.StrategyDefinition
	switch method {
	case models.MethodWeightedVoting:
		merged = e.merge(strategies, weights, votes)
	case models.MethodBayesianAggregation:
		weights = e.posteriorWeights(strategies, weights)
		merged = e.merge(strategies, weights, votes)
	case models.MethodBestOf:
		best := e.selectBest(strategies, weights)
		merged = strategies[best].Clone()
		for id := range weights {
			weights[id] = 0
		}
		weights[best] = 1.0
	case models.MethodSingleAgent:
		return nil, fmt.Errorf("consensus: method %q requires exactly one strategy, got %d", method, len(strategies))
	default:
		return nil, fmt.Errorf("consensus: unknown aggregation method %q", method)
	}

	e.logger.WithFields(logrus.Fields{
		"method":    method,
		"agents":    len(agents),
		"agreement": agreement,
		"signals":   len(merged.Signals),
	}).Debug("strategies aggregated")

	return &models.ConsensusResult{
		Strategy:       merged,
		Method:         method,
		Weights:        weights,
		AgreementScore: agreement,
		SignalVotes:    votes,
		InputAgents:    agents,
		CreatedAt:      time.Now(),
	}, nil
}

// performanceWeights blends each agent's historical Sharpe and win rate into a
// normalized trust weight. Agents without history get a neutral share.
func (e *Engine) performanceWeights(agents []string) map[string]float64 {
	raw := make(map[string]float64, len(agents))

	// Normalize Sharpe ratios against the best observed among the inputs so a
	// single strong performer does not flatten everyone else to the floor.
	maxSharpe := epsilon
	for _, id := range agents {
		if perf, ok := e.store.Get(id); ok && perf.AvgSharpe > maxSharpe {
			maxSharpe = perf.AvgSharpe
		}
	}

	neutral := 1.0 / float64(len(agents))
	for _, id := range agents {
		perf, ok := e.store.Get(id)
		if !ok || perf.Samples == 0 {
			raw[id] = neutral
			continue
		}
		normSharpe := math.Max(0, perf.AvgSharpe) / maxSharpe
		w := e.opts.SharpeWeight*normSharpe + e.opts.WinRateWeight*perf.AvgWinRate
		if w < e.opts.WeightFloor {
			w = e.opts.WeightFloor
		}
		raw[id] = w
	}

	return normalize(raw)
}

// posteriorWeights combines the performance prior with per-strategy evidence:
// richer signal sets and present risk controls raise the likelihood.
func (e *Engine) posteriorWeights(strategies map[string]models.StrategyDefinition, prior map[string]float64) map[string]float64 {
	posterior := make(map[string]float64, len(prior))
	for id, p := range prior {
		s := strategies[id]
		evidence := 0.5
		evidence += 0.25 * math.Min(1, float64(len(s.Signals))/4.0)
		if s.HasRiskControls() {
			evidence += 0.25
		}
		posterior[id] = p * evidence
	}
	return normalize(posterior)
}

// selectBest scores each candidate on proposer trust plus structural
// completeness and returns the winning agent id.
func (e *Engine) selectBest(strategies map[string]models.StrategyDefinition, weights map[string]float64) string {
	bestID := ""
	bestScore := math.Inf(-1)

	ids := make([]string, 0, len(strategies))
	for id := range strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := strategies[id]
		structural := 0.3 * math.Min(1, float64(len(s.Signals))/3.0)
		if s.HasRiskControls() {
			structural += 0.5
		}
		if len(s.Filters) > 0 {
			structural += 0.2
		}
		score := 0.6*weights[id] + 0.4*structural
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	return bestID
}

// merge builds the consensus strategy under the given weights. A signal type
// survives when its proposers hold a combined weight above the survival
// threshold or form a simple majority.
func (e *Engine) merge(strategies map[string]models.StrategyDefinition, weights map[string]float64, votes map[string]int) models.StrategyDefinition {
	majority := len(strategies)/2 + 1

	proposers := make(map[string][]string) // signal type -> agent ids
	for id, s := range strategies {
		for t := range s.SignalTypes() {
			proposers[t] = append(proposers[t], id)
		}
	}

	types := make([]string, 0, len(proposers))
	for t := range proposers {
		types = append(types, t)
	}
	sort.Strings(types)

	out := models.StrategyDefinition{Name: "consensus"}
	for _, t := range types {
		weightSum := 0.0
		for _, id := range proposers[t] {
			weightSum += weights[id]
		}
		if weightSum+epsilon < e.opts.SurvivalThreshold && votes[t] < majority {
			continue
		}
		out.Signals = append(out.Signals, e.mergeSignal(t, proposers[t], strategies, weights))
	}

	out.Filters = e.mergeFilters(strategies, weights)
	out.Exits = mergeExits(strategies, weights)
	return out
}

// mergeSignal combines all instances of one signal type across its proposers.
// Numeric parameters merge by weighted median (or mean), strings by weighted mode.
func (e *Engine) mergeSignal(signalType string, agentIDs []string, strategies map[string]models.StrategyDefinition, weights map[string]float64) models.Signal {
	sort.Strings(agentIDs)

	type instance struct {
		sig    models.Signal
		weight float64
	}
	var instances []instance
	for _, id := range agentIDs {
		for _, sig := range strategies[id].Signals {
			if sig.Type == signalType {
				instances = append(instances, instance{sig: sig, weight: weights[id]})
			}
		}
	}

	// Take identity fields from the heaviest proposer.
	heaviest := instances[0]
	for _, in := range instances[1:] {
		if in.weight > heaviest.weight {
			heaviest = in
		}
	}

	paramKeys := make(map[string]struct{})
	for _, in := range instances {
		for k := range in.sig.Parameters {
			paramKeys[k] = struct{}{}
		}
	}

	params := make(map[string]any, len(paramKeys))
	keys := make([]string, 0, len(paramKeys))
	for k := range paramKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var numeric []weightedValue
		textVotes := make(map[string]float64)
		for _, in := range instances {
			v, ok := in.sig.Parameters[k]
			if !ok {
				continue
			}
			if f, isNum := asFloat(v); isNum {
				numeric = append(numeric, weightedValue{value: f, weight: in.weight})
			} else {
				textVotes[fmt.Sprint(v)] += in.weight
			}
		}
		switch {
		case len(numeric) > 0:
			if e.opts.NumericMerge == MergeWeightedMean {
				params[k] = weightedMean(numeric)
			} else {
				params[k] = weightedMedian(numeric)
			}
		case len(textVotes) > 0:
			params[k] = weightedMode(textVotes)
		}
	}

	conditionVotes := make(map[string]float64)
	for _, in := range instances {
		conditionVotes[in.sig.Condition] += in.weight
	}

	return models.Signal{
		ID:         heaviest.sig.ID,
		Type:       signalType,
		Parameters: params,
		Condition:  weightedMode(conditionVotes),
	}
}

// mergeFilters deduplicates on (type, condition) and keeps filters whose
// proposers clear the inclusion threshold.
func (e *Engine) mergeFilters(strategies map[string]models.StrategyDefinition, weights map[string]float64) []models.Filter {
	type key struct{ typ, cond string }
	weightByKey := make(map[key]float64)
	filterByKey := make(map[key]models.Filter)

	ids := make([]string, 0, len(strategies))
	for id := range strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		seen := make(map[key]struct{})
		for _, f := range strategies[id].Filters {
			k := key{f.Type, f.Condition}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			weightByKey[k] += weights[id]
			if _, ok := filterByKey[k]; !ok {
				filterByKey[k] = f
			}
		}
	}

	kept := make([]models.Filter, 0, len(filterByKey))
	for k, f := range filterByKey {
		if weightByKey[k]+epsilon >= e.opts.FilterThreshold {
			kept = append(kept, f)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Type != kept[j].Type {
			return kept[i].Type < kept[j].Type
		}
		return kept[i].Condition < kept[j].Condition
	})
	return kept
}

// mergeExits averages stop-loss and take-profit values across every input
// agent, weighted by trust. All agents contribute, not only signal proposers.
func mergeExits(strategies map[string]models.StrategyDefinition, weights map[string]float64) models.ExitConditions {
	var stopSum, takeSum, weightSum float64
	stopTypes := make(map[string]float64)
	takeTypes := make(map[string]float64)

	for id, s := range strategies {
		w := weights[id]
		stopSum += s.Exits.StopLoss.Value * w
		takeSum += s.Exits.TakeProfit.Value * w
		weightSum += w
		if s.Exits.StopLoss.Type != "" {
			stopTypes[s.Exits.StopLoss.Type] += w
		}
		if s.Exits.TakeProfit.Type != "" {
			takeTypes[s.Exits.TakeProfit.Type] += w
		}
	}

	if weightSum < epsilon {
		weightSum = epsilon
	}
	return models.ExitConditions{
		StopLoss:   models.ExitRule{Type: weightedMode(stopTypes), Value: stopSum / weightSum},
		TakeProfit: models.ExitRule{Type: weightedMode(takeTypes), Value: takeSum / weightSum},
	}
}

// agreementScore is the Jaccard similarity of the signal-type sets across all
// input strategies: |intersection| / |union|.
func agreementScore(strategies map[string]models.StrategyDefinition) float64 {
	union := make(map[string]int)
	n := 0
	for _, s := range strategies {
		n++
		for t := range s.SignalTypes() {
			union[t]++
		}
	}
	if len(union) == 0 {
		return 0
	}

	intersection := 0
	for _, count := range union {
		if count == n {
			intersection++
		}
	}
	return float64(intersection) / float64(len(union))
}

// countSignalVotes counts, per signal type, how many distinct agents proposed it.
func countSignalVotes(strategies map[string]models.StrategyDefinition) map[string]int {
	votes := make(map[string]int)
	for _, s := range strategies {
		for t := range s.SignalTypes() {
			votes[t]++
		}
	}
	return votes
}

type weightedValue struct {
	value  float64
	weight float64
}

func weightedMean(values []weightedValue) float64 {
	var sum, weightSum float64
	for _, v := range values {
		sum += v.value * v.weight
		weightSum += v.weight
	}
	if weightSum < epsilon {
		weightSum = epsilon
	}
	return sum / weightSum
}

func weightedMedian(values []weightedValue) float64 {
	sort.Slice(values, func(i, j int) bool { return values[i].value < values[j].value })

	var total float64
	for _, v := range values {
		total += v.weight
	}
	half := total / 2
	var cum float64
	for _, v := range values {
		cum += v.weight
		if cum+epsilon >= half {
			return v.value
		}
	}
	return values[len(values)-1].value
}

// weightedMode returns the value backed by the most weight. Ties break
// lexicographically for determinism.
func weightedMode(votes map[string]float64) string {
	best := ""
	bestWeight := math.Inf(-1)
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if votes[k] > bestWeight+epsilon {
			bestWeight = votes[k]
			best = k
		}
	}
	return best
}

func normalize(weights map[string]float64) map[string]float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total < epsilon {
		total = epsilon
	}
	out := make(map[string]float64, len(weights))
	for id, w := range weights {
		out[id] = w / total
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
