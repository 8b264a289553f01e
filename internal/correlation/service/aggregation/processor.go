package aggregation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opswatch/correlate/internal/correlation/model"
	"github.com/opswatch/correlate/internal/correlation/service/state"
)

// Processor post-filters engine output for one window type, using
// cross-cycle state to suppress rows that were already alerted. State
// failures degrade to passing rows through; suppression is best effort,
// alerting is not.
type Processor interface {
	Process(ctx context.Context, rule *model.CorrelationRule, params *AggregationParams, rows []model.ResultRow) ([]model.ResultRow, error)
}

// ProcessorDeps bundles what every processor may need.
type ProcessorDeps struct {
	Windows  *state.WindowStateStore
	Sessions *state.SessionStateManager

	SessionMaxDuration time.Duration
	SessionMaxEvents   int
}

// NewProcessor returns the processor for the rule's window type.
func NewProcessor(windowType model.WindowType, deps ProcessorDeps) Processor {
	switch windowType {
	case model.WindowSliding:
		return &SlidingProcessor{deps: deps}
	case model.WindowSession:
		return &SessionProcessor{deps: deps}
	default:
		return &FixedProcessor{deps: deps}
	}
}

// FixedProcessor drops window instances that were already alerted and
// records the ones it lets through.
type FixedProcessor struct {
	deps ProcessorDeps
}

func (p *FixedProcessor) Process(ctx context.Context, rule *model.CorrelationRule, _ *AggregationParams, rows []model.ResultRow) ([]model.ResultRow, error) {
	kept := rows[:0]
	var emitted []string
	for _, row := range rows {
		if p.deps.Windows.IsProcessed(ctx, rule.RuleID, row.WindowID+":"+row.Fingerprint) {
			continue
		}
		kept = append(kept, row)
		emitted = append(emitted, row.WindowID+":"+row.Fingerprint)
	}
	if err := p.deps.Windows.MarkProcessed(ctx, rule.RuleID, emitted); err != nil {
		log.Warn().Err(err).Str("rule_id", rule.RuleID).
			Msg("could not record processed windows, duplicates possible next cycle")
	}
	return kept, nil
}

// SlidingProcessor first collapses same-fingerprint rows within the
// batch, then suppresses a fingerprint until it has events newer than the
// last emission, advancing the stored watermark.
type SlidingProcessor struct {
	deps ProcessorDeps
}

func (p *SlidingProcessor) Process(ctx context.Context, rule *model.CorrelationRule, _ *AggregationParams, rows []model.ResultRow) ([]model.ResultRow, error) {
	rows = collapseByFingerprint(rows)

	st, err := p.deps.Windows.GetSlidingState(ctx, rule.RuleID)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", rule.RuleID).
			Msg("could not load sliding state, emitting without dedup")
	}
	if st == nil {
		st = &state.SlidingState{RuleID: rule.RuleID, Fingerprints: map[string]time.Time{}}
	}

	kept := rows[:0]
	for _, row := range rows {
		seen, ok := st.Fingerprints[row.Fingerprint]
		if ok && !row.LastEventTime.After(seen) {
			continue
		}
		st.Fingerprints[row.Fingerprint] = row.LastEventTime
		kept = append(kept, row)
	}
	if err := p.deps.Windows.SaveSlidingState(ctx, st); err != nil {
		log.Warn().Err(err).Str("rule_id", rule.RuleID).
			Msg("could not save sliding state, duplicates possible next cycle")
	}
	return kept, nil
}

// collapseByFingerprint keeps one row per fingerprint, the one with the
// latest last-event time. A grouping key finer than the fingerprint
// fields produces several same-fingerprint rows per batch; only one alert
// per fingerprint may come out of a sliding evaluation.
func collapseByFingerprint(rows []model.ResultRow) []model.ResultRow {
	index := map[string]int{}
	out := rows[:0]
	for _, row := range rows {
		i, ok := index[row.Fingerprint]
		if !ok {
			index[row.Fingerprint] = len(out)
			out = append(out, row)
			continue
		}
		if row.LastEventTime.After(out[i].LastEventTime) {
			out[i] = row
		}
	}
	return out
}

// SessionProcessor reconciles engine sessions with tracked session state
// and enforces the session duration and event caps.
type SessionProcessor struct {
	deps ProcessorDeps
}

func (p *SessionProcessor) Process(ctx context.Context, rule *model.CorrelationRule, params *AggregationParams, rows []model.ResultRow) ([]model.ResultRow, error) {
	maxDuration := p.deps.SessionMaxDuration
	if params.Window.MaxWindowSize > 0 {
		maxDuration = params.Window.MaxWindowSize
	}

	kept := rows[:0]
	dropped := 0
	for _, row := range rows {
		if maxDuration > 0 && row.SessionDuration > maxDuration {
			dropped++
			continue
		}
		if p.deps.SessionMaxEvents > 0 && row.EventCount > p.deps.SessionMaxEvents {
			dropped++
			continue
		}
		if p.suppressed(ctx, rule, params, row) {
			continue
		}
		kept = append(kept, row)
	}
	if dropped > 0 {
		log.Warn().Str("rule_id", rule.RuleID).
			Int("dropped", dropped).Int("kept", len(kept)).
			Dur("max_duration", maxDuration).
			Msg("dropped sessions exceeding limits")
	}
	return kept, nil
}

// suppressed tracks the session in Redis and reports whether this row
// repeats an already-alerted, still-open session with no new events.
func (p *SessionProcessor) suppressed(ctx context.Context, rule *model.CorrelationRule, params *AggregationParams, row model.ResultRow) bool {
	if p.deps.Sessions == nil {
		return false
	}
	key := SessionKey(row.Fingerprint, row.SessionID)
	w, err := p.deps.Sessions.Get(ctx, rule.RuleID, key)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", rule.RuleID).Msg("session lookup failed, emitting row")
		return false
	}
	now := time.Now()
	if w == nil {
		w = &state.SessionWindow{
			RuleID:        rule.RuleID,
			SessionKey:    key,
			Fingerprint:   row.Fingerprint,
			SessionID:     row.SessionID,
			StartTime:     row.FirstEventTime,
			LastEventTime: row.LastEventTime,
			EventCount:    row.EventCount,
			EventIDs:      row.EventIDs,
		}
	} else {
		if w.Closed {
			return true
		}
		if !row.LastEventTime.After(w.LastEventTime) {
			return true
		}
		w.LastEventTime = row.LastEventTime
		w.EventCount = row.EventCount
		w.EventIDs = row.EventIDs
	}
	if w.ShouldClose(now, params.Window.SessionGap, p.deps.SessionMaxDuration, p.deps.SessionMaxEvents) {
		if err := p.deps.Sessions.Close(ctx, w, now); err != nil {
			log.Warn().Err(err).Str("rule_id", rule.RuleID).Msg("could not close session window")
		}
		return false
	}
	if err := p.deps.Sessions.Save(ctx, w); err != nil {
		log.Warn().Err(err).Str("rule_id", rule.RuleID).Msg("could not save session window")
	}
	return false
}
