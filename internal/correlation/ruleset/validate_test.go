package ruleset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opswatch/correlate/internal/correlation/model"
)

func validRule() *model.CorrelationRule {
	return &model.CorrelationRule{
		RuleID: "r1", Name: "rule one",
		WindowType: model.WindowFixed, StrategyType: model.StrategyThreshold,
		WindowSize: "5min",
		Aggregations: []model.AggregationRule{{
			RuleID: "r1",
			Filter: []model.FilterCondition{{Field: "value", Operator: ">", Value: 10, Aggregation: "AVG"}},
		}},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(validRule()))
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.CorrelationRule)
	}{
		{"missing rule id", func(r *model.CorrelationRule) { r.RuleID = "" }},
		{"missing name", func(r *model.CorrelationRule) { r.Name = "" }},
		{"bad window size", func(r *model.CorrelationRule) { r.WindowSize = "sometime" }},
		{"unknown strategy", func(r *model.CorrelationRule) { r.StrategyType = "bayesian" }},
		{"unknown window type", func(r *model.CorrelationRule) { r.WindowType = "hopping" }},
		{"no aggregation rules", func(r *model.CorrelationRule) { r.Aggregations = nil }},
		{"bad group key", func(r *model.CorrelationRule) { r.Aggregations[0].AggregationKey = []string{"payload"} }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := validRule()
			c.mutate(r)
			require.Error(t, Validate(r))
		})
	}
	require.Error(t, Validate(nil))
}
