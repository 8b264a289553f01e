package model

// WindowType selects the windowing strategy for a correlation rule.
type WindowType string

const (
	WindowFixed   WindowType = "fixed"
	WindowSliding WindowType = "sliding"
	WindowSession WindowType = "session"
)

// StrategyType selects how a rule's conditions are evaluated.
type StrategyType string

const (
	StrategyThreshold StrategyType = "threshold"
	StrategyComposite StrategyType = "composite"
	StrategyFrequency StrategyType = "frequency"
)

// FilterCondition is one structured sub-condition of a rule:
// AGG(field) OP value, e.g. AVG(value) >= 80.
type FilterCondition struct {
	Field       string  `json:"field" yaml:"field"`
	Operator    string  `json:"operator" yaml:"operator"`
	Value       float64 `json:"value" yaml:"value"`
	Aggregation string  `json:"aggregation" yaml:"aggregation"` // COUNT, AVG, MIN, MAX, SUM, STDDEV
}

// SessionClose optionally terminates a session window when a condition holds.
type SessionClose struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value" yaml:"value"`
}

// AggregationRule is one nested condition block of a CorrelationRule.
type AggregationRule struct {
	RuleID             string            `json:"rule_id" yaml:"rule_id"`
	Filter             []FilterCondition `json:"filter" yaml:"filter"`
	Logic              string            `json:"logic" yaml:"logic"` // AND (default) or OR, composite only
	AggregationKey     []string          `json:"aggregation_key" yaml:"aggregation_key"`
	MinEventCount      int               `json:"min_event_count" yaml:"min_event_count"`
	CountThreshold     int               `json:"count_threshold" yaml:"count_threshold"` // frequency only
	CustomAggregations map[string]string `json:"custom_aggregations" yaml:"custom_aggregations"`
	SessionClose       *SessionClose     `json:"session_close,omitempty" yaml:"session_close,omitempty"`
}

// CorrelationRule is a user-authored aggregation rule. Window durations use
// the compact grammar accepted by aggregation.ParseWindow ("30s", "5min",
// "2h", "1d"). Required fields depend on WindowType:
// fixed needs WindowSize; sliding needs WindowSize and SlideInterval;
// session needs SessionTimeout and optionally MaxWindowSize.
type CorrelationRule struct {
	RuleID         string            `json:"rule_id" yaml:"rule_id"`
	Name           string            `json:"name" yaml:"name"`
	WindowType     WindowType        `json:"window_type" yaml:"window_type"`
	StrategyType   StrategyType      `json:"strategy_type" yaml:"strategy_type"`
	WindowSize     string            `json:"window_size,omitempty" yaml:"window_size,omitempty"`
	SlideInterval  string            `json:"slide_interval,omitempty" yaml:"slide_interval,omitempty"`
	SessionTimeout string            `json:"session_timeout,omitempty" yaml:"session_timeout,omitempty"`
	MaxWindowSize  string            `json:"max_window_size,omitempty" yaml:"max_window_size,omitempty"`
	IsActive       bool              `json:"is_active" yaml:"is_active"`
	Aggregations   []AggregationRule `json:"aggregation_rules" yaml:"aggregation_rules"`
}

// FirstAggregation returns the rule's first nested condition block, or nil.
func (r *CorrelationRule) FirstAggregation() *AggregationRule {
	if len(r.Aggregations) == 0 {
		return nil
	}
	return &r.Aggregations[0]
}
