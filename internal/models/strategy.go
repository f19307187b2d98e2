package models

// Signal is one entry/exit trigger inside a strategy, e.g. an RSI crossover.
type Signal struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
	Condition  string         `json:"condition"`
}

// Filter gates signals, e.g. a minimum-volume or trend filter.
type Filter struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Condition string `json:"condition"`
}

// ExitRule is a stop-loss or take-profit specification.
type ExitRule struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type ExitConditions struct {
	StopLoss   ExitRule `json:"stop_loss"`
	TakeProfit ExitRule `json:"take_profit"`
}

// StrategyDefinition is a structured strategy proposal produced by one agent.
// Instances are treated as immutable once parsed; merging always builds new values.
type StrategyDefinition struct {
	Name    string         `json:"name"`
	Signals []Signal       `json:"signals"`
	Filters []Filter       `json:"filters"`
	Exits   ExitConditions `json:"exit_conditions"`
}

// SignalTypes returns the set of distinct signal types proposed by the strategy.
func (s StrategyDefinition) SignalTypes() map[string]struct{} {
	types := make(map[string]struct{}, len(s.Signals))
	for _, sig := range s.Signals {
		types[sig.Type] = struct{}{}
	}
	return types
}

// HasRiskControls reports whether both stop-loss and take-profit are set.
func (s StrategyDefinition) HasRiskControls() bool {
	return s.Exits.StopLoss.Value != 0 && s.Exits.TakeProfit.Value != 0
}

// Clone returns a deep copy so merge output never aliases input maps.
func (s StrategyDefinition) Clone() StrategyDefinition {
	out := StrategyDefinition{
		Name:  s.Name,
		Exits: s.Exits,
	}
	out.Signals = make([]Signal, len(s.Signals))
	for i, sig := range s.Signals {
		params := make(map[string]any, len(sig.Parameters))
		for k, v := range sig.Parameters {
			params[k] = v
		}
		out.Signals[i] = Signal{ID: sig.ID, Type: sig.Type, Parameters: params, Condition: sig.Condition}
	}
	out.Filters = make([]Filter, len(s.Filters))
	copy(out.Filters, s.Filters)
	return out
}
