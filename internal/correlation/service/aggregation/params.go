package aggregation

import (
	"fmt"
	"strings"
	"time"

	"github.com/opswatch/correlate/internal/correlation/model"
)

// Aggregate functions understood by the engine.
const (
	AggCount    = "COUNT"
	AggSum      = "SUM"
	AggAvg      = "AVG"
	AggMin      = "MIN"
	AggMax      = "MAX"
	AggStddev   = "STDDEV"
	AggFirst    = "FIRST"
	AggLast     = "LAST"
	AggTimeSpan = "TIME_SPAN" // seconds between first and last event
)

var validAggFuncs = map[string]bool{
	AggCount: true, AggSum: true, AggAvg: true, AggMin: true, AggMax: true,
	AggStddev: true, AggFirst: true, AggLast: true, AggTimeSpan: true,
}

// Numeric event fields an aggregate expression may reference. "*" is only
// valid with COUNT; received_at only with FIRST/LAST/TIME_SPAN.
var aggregatableFields = map[string]bool{
	"value": true, "level": true, "*": true, "received_at": true,
}

// Event fields usable as grouping keys.
var groupableFields = map[string]bool{
	"fingerprint": true, "resource_id": true, "resource_type": true,
	"resource_name": true, "item": true, "source_id": true,
	"alert_source": true, "rule_id": true, "level": true,
}

// AggExpr is one aggregate expression, e.g. {Func: AVG, Field: value}.
type AggExpr struct {
	Func  string
	Field string
}

func (e AggExpr) String() string { return fmt.Sprintf("%s(%s)", e.Func, e.Field) }

// Condition is a HAVING-style predicate over an aggregated group:
// AggExpr OP Value.
type Condition struct {
	Expr     AggExpr
	Operator string
	Value    float64
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Expr, c.Operator, c.Value)
}

// WindowParams is the window-type tag plus its per-type parameters.
type WindowParams struct {
	Type model.WindowType

	WindowSize    time.Duration // fixed, sliding
	SlideInterval time.Duration // sliding
	SessionGap    time.Duration // session: gap that starts a new session
	MaxWindowSize time.Duration // session, zero when unlimited
}

// AggregationParams is the fully resolved execution input for one rule:
// every field is validated and typed, so the engine never sees a partially
// built query.
type AggregationParams struct {
	RuleID        string
	GroupBy       []string
	Conditions    []Condition
	Logic         string // AND or OR across Conditions
	Aggregations  map[string]AggExpr
	MinEventCount int
	Window        WindowParams
	SessionClose  *model.SessionClose
}

// ParamsResolver turns a CorrelationRule into AggregationParams.
type ParamsResolver struct {
	// DefaultMinEventCount applies when a rule omits min_event_count.
	DefaultMinEventCount int
}

func NewParamsResolver(defaultMinEventCount int) *ParamsResolver {
	if defaultMinEventCount <= 0 {
		defaultMinEventCount = 1
	}
	return &ParamsResolver{DefaultMinEventCount: defaultMinEventCount}
}

// Resolve validates the rule and produces typed aggregation parameters.
// Any malformed sub-condition fails the whole resolution with a
// ConfigurationError; callers must not execute a partially resolved rule.
func (r *ParamsResolver) Resolve(rule *model.CorrelationRule) (*AggregationParams, error) {
	window, err := r.resolveWindow(rule)
	if err != nil {
		return nil, err
	}

	params := &AggregationParams{
		RuleID:        rule.RuleID,
		Logic:         "AND",
		Aggregations:  map[string]AggExpr{},
		MinEventCount: r.DefaultMinEventCount,
		Window:        window,
	}

	switch rule.StrategyType {
	case model.StrategyThreshold:
		err = r.resolveThreshold(rule, params)
	case model.StrategyComposite:
		err = r.resolveComposite(rule, params)
	case model.StrategyFrequency:
		err = r.resolveFrequency(rule, params)
	default:
		err = model.NewConfigurationError(rule.RuleID, "unknown strategy_type %q", rule.StrategyType)
	}
	if err != nil {
		return nil, err
	}

	if len(params.GroupBy) == 0 {
		params.GroupBy = []string{"fingerprint"}
	}
	for _, key := range params.GroupBy {
		if !groupableFields[key] {
			return nil, model.NewConfigurationError(rule.RuleID, "aggregation_key %q is not a groupable field", key)
		}
	}
	return params, nil
}

func (r *ParamsResolver) resolveWindow(rule *model.CorrelationRule) (WindowParams, error) {
	w := WindowParams{Type: rule.WindowType}
	var err error
	switch rule.WindowType {
	case model.WindowFixed:
		if w.WindowSize, err = ParseWindow(rule.WindowSize); err != nil {
			return w, model.NewConfigurationError(rule.RuleID, "fixed window requires window_size: %v", err)
		}
	case model.WindowSliding:
		if w.WindowSize, err = ParseWindow(rule.WindowSize); err != nil {
			return w, model.NewConfigurationError(rule.RuleID, "sliding window requires window_size: %v", err)
		}
		if w.SlideInterval, err = ParseWindow(rule.SlideInterval); err != nil {
			return w, model.NewConfigurationError(rule.RuleID, "sliding window requires slide_interval: %v", err)
		}
	case model.WindowSession:
		if w.SessionGap, err = ParseWindow(rule.SessionTimeout); err != nil {
			return w, model.NewConfigurationError(rule.RuleID, "session window requires session_timeout: %v", err)
		}
		if rule.MaxWindowSize != "" {
			if w.MaxWindowSize, err = ParseWindow(rule.MaxWindowSize); err != nil {
				return w, model.NewConfigurationError(rule.RuleID, "session max_window_size: %v", err)
			}
		}
	default:
		return w, model.NewConfigurationError(rule.RuleID, "unknown window_type %q", rule.WindowType)
	}
	return w, nil
}

func (r *ParamsResolver) resolveThreshold(rule *model.CorrelationRule, params *AggregationParams) error {
	agg := rule.FirstAggregation()
	if agg == nil {
		return model.NewConfigurationError(rule.RuleID, "threshold strategy requires an aggregation rule")
	}
	if len(agg.Filter) == 0 {
		return model.NewConfigurationError(rule.RuleID, "threshold strategy requires one filter condition")
	}
	cond, err := r.buildCondition(rule.RuleID, agg.Filter[0])
	if err != nil {
		return err
	}
	params.Conditions = []Condition{cond}
	params.GroupBy = agg.AggregationKey
	if agg.MinEventCount > 0 {
		params.MinEventCount = agg.MinEventCount
	}

	// default numeric profile of the thresholded field
	field := cond.Expr.Field
	lower := strings.ToLower(cond.Expr.Func)
	params.Aggregations[lower+"_"+field] = cond.Expr
	params.Aggregations["avg_"+field] = AggExpr{Func: AggAvg, Field: field}
	params.Aggregations["min_"+field] = AggExpr{Func: AggMin, Field: field}
	params.Aggregations["max_"+field] = AggExpr{Func: AggMax, Field: field}
	params.Aggregations["sample_count"] = AggExpr{Func: AggCount, Field: "*"}

	return r.mergeCustomAggregations(rule.RuleID, params, agg.CustomAggregations)
}

func (r *ParamsResolver) resolveComposite(rule *model.CorrelationRule, params *AggregationParams) error {
	if len(rule.Aggregations) == 0 {
		return model.NewConfigurationError(rule.RuleID, "composite strategy requires at least one aggregation rule")
	}
	for i := range rule.Aggregations {
		agg := &rule.Aggregations[i]
		if logic := strings.ToUpper(agg.Logic); logic == "OR" {
			params.Logic = "OR"
		}
		for _, f := range agg.Filter {
			cond, err := r.buildCondition(rule.RuleID, f)
			if err != nil {
				return err
			}
			params.Conditions = append(params.Conditions, cond)
			params.Aggregations[strings.ToLower(cond.Expr.Func)+"_"+cond.Expr.Field] = cond.Expr
		}
		if len(agg.AggregationKey) > 0 && len(params.GroupBy) == 0 {
			params.GroupBy = agg.AggregationKey
		}
		if agg.MinEventCount > 0 {
			params.MinEventCount = agg.MinEventCount
		}
		if err := r.mergeCustomAggregations(rule.RuleID, params, agg.CustomAggregations); err != nil {
			return err
		}
		if agg.SessionClose != nil && rule.WindowType == model.WindowSession {
			params.SessionClose = agg.SessionClose
		}
	}
	if len(params.Conditions) == 0 {
		return model.NewConfigurationError(rule.RuleID, "composite strategy resolved zero conditions")
	}
	return nil
}

func (r *ParamsResolver) resolveFrequency(rule *model.CorrelationRule, params *AggregationParams) error {
	agg := rule.FirstAggregation()
	if agg == nil {
		return model.NewConfigurationError(rule.RuleID, "frequency strategy requires an aggregation rule")
	}
	params.GroupBy = agg.AggregationKey
	switch {
	case agg.CountThreshold > 0:
		params.MinEventCount = agg.CountThreshold
	case agg.MinEventCount > 0:
		params.MinEventCount = agg.MinEventCount
	}
	for _, f := range agg.Filter {
		cond, err := r.buildCondition(rule.RuleID, f)
		if err != nil {
			return err
		}
		params.Conditions = append(params.Conditions, cond)
	}

	params.Aggregations["event_count"] = AggExpr{Func: AggCount, Field: "*"}
	params.Aggregations["first_event"] = AggExpr{Func: AggFirst, Field: "received_at"}
	params.Aggregations["last_event"] = AggExpr{Func: AggLast, Field: "received_at"}
	params.Aggregations["time_span_seconds"] = AggExpr{Func: AggTimeSpan, Field: "received_at"}

	return r.mergeCustomAggregations(rule.RuleID, params, agg.CustomAggregations)
}

func (r *ParamsResolver) buildCondition(ruleID string, f model.FilterCondition) (Condition, error) {
	if f.Field == "" || f.Operator == "" {
		return Condition{}, model.NewConfigurationError(ruleID, "filter condition missing field or operator")
	}
	fn := strings.ToUpper(f.Aggregation)
	if fn == "" {
		fn = AggAvg
	}
	expr := AggExpr{Func: fn, Field: f.Field}
	if err := validateAggExpr(ruleID, expr); err != nil {
		return Condition{}, err
	}
	switch f.Operator {
	case ">", ">=", "<", "<=", "=", "==", "!=":
	default:
		return Condition{}, model.NewConfigurationError(ruleID, "unsupported operator %q", f.Operator)
	}
	return Condition{Expr: expr, Operator: f.Operator, Value: f.Value}, nil
}

func (r *ParamsResolver) mergeCustomAggregations(ruleID string, params *AggregationParams, custom map[string]string) error {
	for name, raw := range custom {
		expr, err := ParseAggExpr(raw)
		if err != nil {
			return model.NewConfigurationError(ruleID, "custom aggregation %q: %v", name, err)
		}
		if err := validateAggExpr(ruleID, expr); err != nil {
			return err
		}
		params.Aggregations[name] = expr
	}
	return nil
}

// ParseAggExpr parses textual forms such as "AVG(value)" or "COUNT(*)".
func ParseAggExpr(raw string) (AggExpr, error) {
	raw = strings.TrimSpace(raw)
	open := strings.IndexByte(raw, '(')
	if open <= 0 || !strings.HasSuffix(raw, ")") {
		return AggExpr{}, fmt.Errorf("expected FUNC(field), got %q", raw)
	}
	fn := strings.ToUpper(strings.TrimSpace(raw[:open]))
	field := strings.TrimSpace(raw[open+1 : len(raw)-1])
	if fn == "" || field == "" {
		return AggExpr{}, fmt.Errorf("expected FUNC(field), got %q", raw)
	}
	return AggExpr{Func: fn, Field: field}, nil
}

func validateAggExpr(ruleID string, e AggExpr) error {
	if !validAggFuncs[e.Func] {
		return model.NewConfigurationError(ruleID, "unknown aggregate function %q", e.Func)
	}
	if !aggregatableFields[e.Field] {
		return model.NewConfigurationError(ruleID, "aggregate over unresolvable field %q", e.Field)
	}
	if e.Field == "*" && e.Func != AggCount {
		return model.NewConfigurationError(ruleID, "%s cannot aggregate over *", e.Func)
	}
	return nil
}
