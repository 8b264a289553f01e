package aggregation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opswatch/correlate/internal/correlation/model"
	"github.com/opswatch/correlate/internal/correlation/service/state"
)

// RuleProvider supplies the active correlation rules for one cycle.
type RuleProvider interface {
	ListActiveRules(ctx context.Context) ([]model.CorrelationRule, error)
}

// AlertSink receives the surviving rows of one rule evaluation.
type AlertSink interface {
	HandleRows(ctx context.Context, rule *model.CorrelationRule, rows []model.ResultRow) error
}

type Deps struct {
	Rules    RuleProvider
	Events   *EventQueryStrategy
	Resolver *ParamsResolver
	Engine   *Engine
	Windows  *state.WindowStateStore
	Sink     AlertSink

	ProcessorDeps ProcessorDeps

	Interval      time.Duration
	MaxConcurrent int
	SmartSchedule bool
}

// StartScheduler runs the aggregation loop until ctx is cancelled. Each
// tick lists the active rules and evaluates them on a bounded worker
// pool; one rule's failure never stops the others.
func StartScheduler(ctx context.Context, deps Deps) {
	if deps.Interval <= 0 {
		deps.Interval = time.Minute
	}
	if deps.MaxConcurrent <= 0 {
		deps.MaxConcurrent = 10
	}
	t := time.NewTicker(deps.Interval)
	defer t.Stop()

	runCycle(ctx, deps)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runCycle(ctx, deps)
		}
	}
}

// windowPriority orders rule evaluation: session windows are the most
// latency-sensitive, fixed the least.
func windowPriority(t model.WindowType) int {
	switch t {
	case model.WindowSession:
		return 0
	case model.WindowSliding:
		return 1
	default:
		return 2
	}
}

func runCycle(ctx context.Context, deps Deps) {
	rules, err := deps.Rules.ListActiveRules(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not list active rules")
		return
	}
	if len(rules) == 0 {
		return
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return windowPriority(rules[i].WindowType) < windowPriority(rules[j].WindowType)
	})

	sem := make(chan struct{}, deps.MaxConcurrent)
	var wg sync.WaitGroup
	for i := range rules {
		rule := rules[i]
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					ruleEvaluations.WithLabelValues(rule.RuleID, "error").Inc()
					log.Error().Str("rule_id", rule.RuleID).Interface("panic", p).
						Msg("rule evaluation panicked")
				}
			}()
			evaluateRule(ctx, deps, &rule)
		}()
	}
	wg.Wait()
}

func evaluateRule(ctx context.Context, deps Deps, rule *model.CorrelationRule) {
	started := time.Now()
	defer func() {
		ruleDuration.WithLabelValues(string(rule.WindowType)).Observe(time.Since(started).Seconds())
	}()
	log.Debug().Str("rule_id", rule.RuleID).Str("rule", rule.Name).
		Str("window_type", string(rule.WindowType)).
		Str("strategy_type", string(rule.StrategyType)).
		Msg("evaluating rule")

	lastExec, err := deps.Windows.GetLastExecution(ctx, rule.RuleID)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", rule.RuleID).Msg("could not read last execution time")
	}
	if deps.SmartSchedule && !deps.Events.ShouldRun(ctx, rule, lastExec) {
		ruleEvaluations.WithLabelValues(rule.RuleID, "skipped").Inc()
		log.Debug().Str("rule_id", rule.RuleID).Msg("no new events, skipping rule")
		return
	}

	params, err := deps.Resolver.Resolve(rule)
	if err != nil {
		ruleEvaluations.WithLabelValues(rule.RuleID, "error").Inc()
		log.Error().Err(err).Str("rule_id", rule.RuleID).Msg("rule configuration rejected")
		return
	}

	batch, queryEnd, err := deps.Events.FetchBatch(ctx, rule, started)
	if err != nil {
		ruleEvaluations.WithLabelValues(rule.RuleID, "error").Inc()
		log.Error().Err(err).Str("rule_id", rule.RuleID).Msg("event fetch failed")
		return
	}
	eventsFetched.WithLabelValues(rule.RuleID).Add(float64(batch.Len()))
	if batch.Empty() {
		ruleEvaluations.WithLabelValues(rule.RuleID, "ok").Inc()
		markExecuted(ctx, deps, rule.RuleID, started)
		return
	}

	rows, err := deps.Engine.Execute(params, batch, queryEnd)
	if err != nil {
		ruleEvaluations.WithLabelValues(rule.RuleID, "error").Inc()
		log.Error().Err(err).Str("rule_id", rule.RuleID).Msg("aggregation failed")
		return
	}

	proc := NewProcessor(rule.WindowType, deps.ProcessorDeps)
	rows, err = proc.Process(ctx, rule, params, rows)
	if err != nil {
		ruleEvaluations.WithLabelValues(rule.RuleID, "error").Inc()
		log.Error().Err(err).Str("rule_id", rule.RuleID).Msg("window processing failed")
		return
	}
	rowsEmitted.WithLabelValues(rule.RuleID).Add(float64(len(rows)))

	if len(rows) > 0 {
		if err := deps.Sink.HandleRows(ctx, rule, rows); err != nil {
			ruleEvaluations.WithLabelValues(rule.RuleID, "error").Inc()
			log.Error().Err(err).Str("rule_id", rule.RuleID).Int("rows", len(rows)).
				Msg("alert delivery failed")
			return
		}
		var eventIDs []string
		for _, row := range rows {
			eventIDs = append(eventIDs, row.EventIDs...)
		}
		deps.Events.MarkEventsProcessed(ctx, rule.RuleID, eventIDs)
	}

	log.Info().Str("rule_id", rule.RuleID).
		Str("window_type", string(rule.WindowType)).
		Int("events", batch.Len()).Int("rows", len(rows)).
		Dur("took", time.Since(started)).
		Msg("rule evaluation finished")

	ruleEvaluations.WithLabelValues(rule.RuleID, "ok").Inc()
	markExecuted(ctx, deps, rule.RuleID, started)
}

func markExecuted(ctx context.Context, deps Deps, ruleID string, at time.Time) {
	if err := deps.Windows.SetLastExecution(ctx, ruleID, at); err != nil {
		log.Warn().Err(err).Str("rule_id", ruleID).Msg("could not record execution time")
	}
}
