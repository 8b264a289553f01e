package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/correlate/internal/correlation/model"
)

func thresholdRule() *model.CorrelationRule {
	return &model.CorrelationRule{
		RuleID: "cpu-high", Name: "CPU high",
		WindowType: model.WindowFixed, StrategyType: model.StrategyThreshold,
		WindowSize: "5min",
		Aggregations: []model.AggregationRule{{
			RuleID: "cpu-high",
			Filter: []model.FilterCondition{{
				Field: "value", Operator: ">", Value: 90, Aggregation: "AVG",
			}},
			AggregationKey: []string{"resource_id", "item"},
			MinEventCount:  3,
		}},
	}
}

func TestResolveThreshold(t *testing.T) {
	params, err := NewParamsResolver(1).Resolve(thresholdRule())
	require.NoError(t, err)

	require.Len(t, params.Conditions, 1)
	assert.Equal(t, AggExpr{Func: AggAvg, Field: "value"}, params.Conditions[0].Expr)
	assert.Equal(t, ">", params.Conditions[0].Operator)
	assert.Equal(t, 90.0, params.Conditions[0].Value)
	assert.Equal(t, []string{"resource_id", "item"}, params.GroupBy)
	assert.Equal(t, 3, params.MinEventCount)

	// the thresholded field gets a numeric profile by default
	for _, name := range []string{"avg_value", "min_value", "max_value", "sample_count"} {
		assert.Contains(t, params.Aggregations, name)
	}
}

func TestResolveThresholdMissingFilter(t *testing.T) {
	rule := thresholdRule()
	rule.Aggregations[0].Filter = nil
	_, err := NewParamsResolver(1).Resolve(rule)
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestResolveCompositeUnionsConditions(t *testing.T) {
	rule := &model.CorrelationRule{
		RuleID: "disk-and-cpu", Name: "Disk and CPU",
		WindowType: model.WindowSliding, StrategyType: model.StrategyComposite,
		WindowSize: "10min", SlideInterval: "2min",
		Aggregations: []model.AggregationRule{
			{
				RuleID: "disk-and-cpu",
				Logic:  "or",
				Filter: []model.FilterCondition{
					{Field: "value", Operator: ">", Value: 85, Aggregation: "MAX"},
					{Field: "value", Operator: "<", Value: 10, Aggregation: "MIN"},
				},
				AggregationKey:     []string{"resource_id"},
				CustomAggregations: map[string]string{"spread": "STDDEV(value)"},
			},
		},
	}
	params, err := NewParamsResolver(1).Resolve(rule)
	require.NoError(t, err)
	assert.Equal(t, "OR", params.Logic)
	assert.Len(t, params.Conditions, 2)
	assert.Contains(t, params.Aggregations, "spread")
}

func TestResolveCompositeRejectsMalformedSubCondition(t *testing.T) {
	rule := &model.CorrelationRule{
		RuleID: "half-broken", Name: "half broken",
		WindowType: model.WindowFixed, StrategyType: model.StrategyComposite,
		WindowSize: "5min",
		Aggregations: []model.AggregationRule{{
			RuleID: "half-broken",
			Filter: []model.FilterCondition{
				{Field: "value", Operator: ">", Value: 1, Aggregation: "AVG"},
				{Field: "value", Operator: "", Value: 2}, // malformed
			},
		}},
	}
	_, err := NewParamsResolver(1).Resolve(rule)
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr, "one bad sub-condition must fail the whole resolution")
}

func TestResolveFrequency(t *testing.T) {
	rule := &model.CorrelationRule{
		RuleID: "flood", Name: "event flood",
		WindowType: model.WindowSession, StrategyType: model.StrategyFrequency,
		SessionTimeout: "5min",
		Aggregations: []model.AggregationRule{{
			RuleID:         "flood",
			AggregationKey: []string{"fingerprint"},
			CountThreshold: 20,
		}},
	}
	params, err := NewParamsResolver(1).Resolve(rule)
	require.NoError(t, err)
	assert.Equal(t, 20, params.MinEventCount, "count threshold doubles as the minimum event count")
	for _, name := range []string{"event_count", "first_event", "last_event", "time_span_seconds"} {
		assert.Contains(t, params.Aggregations, name)
	}
}

func TestResolveDefaultsGroupByToFingerprint(t *testing.T) {
	rule := &model.CorrelationRule{
		RuleID: "nokey", Name: "no key",
		WindowType: model.WindowFixed, StrategyType: model.StrategyFrequency,
		WindowSize:   "5min",
		Aggregations: []model.AggregationRule{{RuleID: "nokey", CountThreshold: 2}},
	}
	params, err := NewParamsResolver(1).Resolve(rule)
	require.NoError(t, err)
	assert.Equal(t, []string{"fingerprint"}, params.GroupBy)
}

func TestResolveRejectsUnknownOperatorAndField(t *testing.T) {
	rule := thresholdRule()
	rule.Aggregations[0].Filter[0].Operator = "~"
	_, err := NewParamsResolver(1).Resolve(rule)
	require.Error(t, err)

	rule = thresholdRule()
	rule.Aggregations[0].Filter[0].Field = "payload"
	_, err = NewParamsResolver(1).Resolve(rule)
	require.Error(t, err)
}

func TestParseAggExpr(t *testing.T) {
	expr, err := ParseAggExpr("avg(value)")
	require.NoError(t, err)
	assert.Equal(t, AggExpr{Func: AggAvg, Field: "value"}, expr)

	expr, err = ParseAggExpr("COUNT(*)")
	require.NoError(t, err)
	assert.Equal(t, AggExpr{Func: AggCount, Field: "*"}, expr)

	for _, bad := range []string{"", "value", "AVG()", "(value)"} {
		if _, err := ParseAggExpr(bad); err == nil {
			t.Fatalf("ParseAggExpr(%q): expected error", bad)
		}
	}
}
