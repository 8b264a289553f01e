package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are package-level: one pipeline per process.
var (
	ruleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "correlate",
		Subsystem: "aggregation",
		Name:      "rule_evaluations_total",
		Help:      "Rule evaluations by outcome (ok, skipped, error).",
	}, []string{"rule_id", "outcome"})

	ruleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "correlate",
		Subsystem: "aggregation",
		Name:      "rule_duration_seconds",
		Help:      "Wall time of one rule evaluation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"window_type"})

	eventsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "correlate",
		Subsystem: "aggregation",
		Name:      "events_fetched_total",
		Help:      "Events loaded from the store per rule.",
	}, []string{"rule_id"})

	rowsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "correlate",
		Subsystem: "aggregation",
		Name:      "result_rows_total",
		Help:      "Aggregation rows surviving conditions and dedup.",
	}, []string{"rule_id"})
)
