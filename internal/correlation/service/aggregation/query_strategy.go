package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opswatch/correlate/internal/correlation/model"
)

// EventQueryStrategy decides what slice of the event store one rule
// evaluation looks at, and whether the rule needs to run at all.
type EventQueryStrategy struct {
	dao        EventDAO
	ranges     *TimeRangeCalculator
	maxResults int
}

func NewEventQueryStrategy(dao EventDAO, ranges *TimeRangeCalculator, maxResults int) *EventQueryStrategy {
	if maxResults <= 0 {
		maxResults = 10000
	}
	return &EventQueryStrategy{dao: dao, ranges: ranges, maxResults: maxResults}
}

// FetchBatch resolves the rule's query range and loads the candidate
// events. An empty batch is a normal outcome, not an error. Sliding and
// session windows need to re-see events across overlapping evaluations,
// so those include already-processed events; only fixed windows restrict
// to fresh ones.
func (s *EventQueryStrategy) FetchBatch(ctx context.Context, rule *model.CorrelationRule, now time.Time) (model.EventBatch, time.Time, error) {
	start, end, err := s.ranges.QueryRange(rule, now)
	if err != nil {
		return model.EventBatch{}, time.Time{}, err
	}
	includeProcessed := rule.WindowType != model.WindowFixed
	events, err := s.dao.QueryRange(ctx, start, end, includeProcessed, s.maxResults)
	if err != nil {
		return model.EventBatch{}, time.Time{}, fmt.Errorf("fetch events for rule %s: %w", rule.RuleID, err)
	}
	if len(events) == s.maxResults {
		log.Warn().Str("rule_id", rule.RuleID).Int("limit", s.maxResults).
			Msg("event query hit the result cap, window may be truncated")
	}
	return model.EventBatch{Events: events}, end, nil
}

// MarkEventsProcessed moves aggregated events out of the fresh-event set.
// Best effort: losing the status update only means the events can be
// aggregated again, and the alert upsert already deduplicates that.
func (s *EventQueryStrategy) MarkEventsProcessed(ctx context.Context, ruleID string, eventIDs []string) {
	if len(eventIDs) == 0 {
		return
	}
	if err := s.dao.UpdateStatus(ctx, eventIDs, model.EventStatusProcessing); err != nil {
		log.Warn().Err(err).Str("rule_id", ruleID).Int("events", len(eventIDs)).
			Msg("could not mark events processed")
	}
}

// ShouldRun reports whether any new events arrived since the rule's last
// execution. When lastExec is zero the rule has never run and must run
// now. Count failures err on the side of running the rule.
func (s *EventQueryStrategy) ShouldRun(ctx context.Context, rule *model.CorrelationRule, lastExec time.Time) bool {
	if lastExec.IsZero() {
		return true
	}
	n, err := s.dao.CountSince(ctx, lastExec)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", rule.RuleID).
			Msg("could not count new events, running rule anyway")
		return true
	}
	return n > 0
}
