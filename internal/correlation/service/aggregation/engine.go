package aggregation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opswatch/correlate/internal/correlation/model"
)

// Engine evaluates resolved aggregation parameters against an event batch
// entirely in memory. One Execute call covers one rule evaluation; the
// engine itself keeps no state between calls.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Execute groups the batch per the window type, computes the requested
// aggregates, applies the rule's conditions and minimum event count, and
// returns the surviving rows. The batch is not mutated; events are sorted
// on a copy.
func (e *Engine) Execute(params *AggregationParams, batch model.EventBatch, queryEnd time.Time) ([]model.ResultRow, error) {
	if batch.Empty() {
		return nil, nil
	}
	events := make([]model.Event, len(batch.Events))
	copy(events, batch.Events)
	sort.Slice(events, func(i, j int) bool { return events[i].ReceivedAt.Before(events[j].ReceivedAt) })

	var rows []model.ResultRow
	var err error
	switch params.Window.Type {
	case model.WindowFixed:
		rows, err = e.executeFixed(params, events, queryEnd)
	case model.WindowSliding:
		rows, err = e.executeSliding(params, events, queryEnd)
	case model.WindowSession:
		rows, err = e.executeSession(params, events)
	default:
		return nil, model.NewConfigurationError(params.RuleID, "unknown window_type %q", params.Window.Type)
	}
	if err != nil {
		return nil, err
	}
	return e.filterRows(params, rows)
}

// executeFixed buckets events into aligned tumbling windows and groups
// within each bucket. Only complete buckets are emitted: the in-progress
// one would be marked processed and its late events lost, so it waits for
// the next evaluation.
func (e *Engine) executeFixed(params *AggregationParams, events []model.Event, queryEnd time.Time) ([]model.ResultRow, error) {
	buckets := map[time.Time][]model.Event{}
	for _, ev := range events {
		start := AlignToWindow(ev.ReceivedAt, params.Window.WindowSize)
		buckets[start] = append(buckets[start], ev)
	}
	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	var rows []model.ResultRow
	for _, start := range starts {
		end := start.Add(params.Window.WindowSize)
		if end.After(queryEnd) {
			continue
		}
		groups := groupEvents(params.GroupBy, buckets[start])
		for _, g := range groups {
			row, err := e.buildRow(params, g, start, end)
			if err != nil {
				return nil, err
			}
			row.WindowID = fmt.Sprintf("fixed-%d", start.Unix())
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// executeSliding evaluates a single window ending at queryEnd. Overlap
// between consecutive evaluations is handled by the caller's dedup state,
// not here.
func (e *Engine) executeSliding(params *AggregationParams, events []model.Event, queryEnd time.Time) ([]model.ResultRow, error) {
	start := queryEnd.Add(-params.Window.WindowSize)
	inWindow := events[:0:0]
	for _, ev := range events {
		if !ev.ReceivedAt.Before(start) && !ev.ReceivedAt.After(queryEnd) {
			inWindow = append(inWindow, ev)
		}
	}
	var rows []model.ResultRow
	for _, g := range groupEvents(params.GroupBy, inWindow) {
		row, err := e.buildRow(params, g, start, queryEnd)
		if err != nil {
			return nil, err
		}
		row.WindowID = fmt.Sprintf("sliding-%d", queryEnd.Unix())
		rows = append(rows, row)
	}
	return rows, nil
}

// executeSession splits each group's event stream into sessions: a gap
// longer than the session timeout between consecutive events starts a new
// session. Session numbering is per group, starting at 1.
func (e *Engine) executeSession(params *AggregationParams, events []model.Event) ([]model.ResultRow, error) {
	var rows []model.ResultRow
	for _, g := range groupEvents(params.GroupBy, events) {
		sessionID := 1
		sessionStart := 0
		for i := 1; i <= len(g.events); i++ {
			boundary := i == len(g.events) ||
				g.events[i].ReceivedAt.Sub(g.events[i-1].ReceivedAt) > params.Window.SessionGap ||
				sessionCloseMatch(params.SessionClose, g.events[i-1])
			if !boundary {
				continue
			}
			session := group{key: g.key, values: g.values, events: g.events[sessionStart:i]}
			start := session.events[0].ReceivedAt
			end := session.events[len(session.events)-1].ReceivedAt
			row, err := e.buildRow(params, session, start, end)
			if err != nil {
				return nil, err
			}
			row.SessionID = sessionID
			row.SessionDuration = end.Sub(start)
			row.WindowID = fmt.Sprintf("session-%d-%d", start.Unix(), sessionID)
			rows = append(rows, row)
			sessionID++
			sessionStart = i
		}
	}
	return rows, nil
}

// sessionCloseMatch reports whether an event terminates its session under
// the rule's optional close condition.
func sessionCloseMatch(sc *model.SessionClose, ev model.Event) bool {
	if sc == nil {
		return false
	}
	v := stringField(ev, sc.Field)
	switch sc.Operator {
	case "=", "==":
		return v == sc.Value
	case "!=":
		return v != sc.Value
	default:
		return false
	}
}

func (e *Engine) filterRows(params *AggregationParams, rows []model.ResultRow) ([]model.ResultRow, error) {
	kept := rows[:0]
	for _, row := range rows {
		if row.EventCount < params.MinEventCount {
			continue
		}
		ok, err := e.conditionsHold(params, row)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

func (e *Engine) conditionsHold(params *AggregationParams, row model.ResultRow) (bool, error) {
	if len(params.Conditions) == 0 {
		return true, nil
	}
	for _, cond := range params.Conditions {
		val, ok := row.Aggregates[aggregateName(cond.Expr)]
		if !ok {
			return false, &model.AggregationExecutionError{
				RuleID:     params.RuleID,
				Expression: cond.String(),
				Err:        fmt.Errorf("aggregate %s was not computed", cond.Expr),
			}
		}
		holds := compare(val, cond.Operator, cond.Value)
		if params.Logic == "OR" && holds {
			return true, nil
		}
		if params.Logic != "OR" && !holds {
			return false, nil
		}
	}
	// AND: every condition held; OR: none did.
	return params.Logic != "OR", nil
}

// buildRow computes all aggregates for one group of events.
func (e *Engine) buildRow(params *AggregationParams, g group, start, end time.Time) (model.ResultRow, error) {
	row := model.ResultRow{
		GroupValues:    g.values,
		WindowStart:    start,
		WindowEnd:      end,
		EventCount:     len(g.events),
		EventIDs:       make([]string, 0, len(g.events)),
		FirstEventTime: g.events[0].ReceivedAt,
		LastEventTime:  g.events[len(g.events)-1].ReceivedAt,
		MaxLevel:       g.events[0].Level,
		Aggregates:     map[string]float64{},
	}
	row.Fingerprint = g.values["fingerprint"]
	if row.Fingerprint == "" {
		row.Fingerprint = groupFingerprint(g.events[0])
	}
	for _, ev := range g.events {
		row.EventIDs = append(row.EventIDs, ev.EventID)
		if ev.Level < row.MaxLevel { // inverted levels: lower is worse
			row.MaxLevel = ev.Level
		}
	}
	for name, expr := range params.Aggregations {
		val, err := computeAggregate(expr, g.events)
		if err != nil {
			return row, &model.AggregationExecutionError{RuleID: params.RuleID, Expression: expr.String(), Err: err}
		}
		row.Aggregates[name] = val
	}
	// condition expressions must be resolvable even when no custom
	// aggregation column carries them
	for _, cond := range params.Conditions {
		name := aggregateName(cond.Expr)
		if _, ok := row.Aggregates[name]; ok {
			continue
		}
		val, err := computeAggregate(cond.Expr, g.events)
		if err != nil {
			return row, &model.AggregationExecutionError{RuleID: params.RuleID, Expression: cond.Expr.String(), Err: err}
		}
		row.Aggregates[name] = val
	}
	return row, nil
}

func aggregateName(e AggExpr) string {
	field := e.Field
	if field == "*" {
		field = "all"
	}
	return strings.ToLower(e.Func) + "_" + field
}

func computeAggregate(expr AggExpr, events []model.Event) (float64, error) {
	switch expr.Func {
	case AggCount:
		return float64(len(events)), nil
	case AggFirst:
		return float64(events[0].ReceivedAt.Unix()), nil
	case AggLast:
		return float64(events[len(events)-1].ReceivedAt.Unix()), nil
	case AggTimeSpan:
		return events[len(events)-1].ReceivedAt.Sub(events[0].ReceivedAt).Seconds(), nil
	}

	values := make([]float64, 0, len(events))
	for _, ev := range events {
		v, ok := numericField(ev, expr.Field)
		if ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0, nil // all nulls aggregate to zero
	}
	switch expr.Func {
	case AggSum:
		return sum(values), nil
	case AggAvg:
		return sum(values) / float64(len(values)), nil
	case AggMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case AggMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case AggStddev:
		if len(values) < 2 {
			return 0, nil
		}
		mean := sum(values) / float64(len(values))
		var sq float64
		for _, v := range values {
			sq += (v - mean) * (v - mean)
		}
		return math.Sqrt(sq / float64(len(values)-1)), nil
	default:
		return 0, fmt.Errorf("unknown aggregate function %q", expr.Func)
	}
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func numericField(ev model.Event, field string) (float64, bool) {
	switch field {
	case "value":
		if ev.Value == nil {
			return 0, false
		}
		return *ev.Value, true
	case "level":
		return float64(ev.Level), true
	case "received_at":
		return float64(ev.ReceivedAt.Unix()), true
	default:
		return 0, false
	}
}

func compare(val float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return val > threshold
	case ">=":
		return val >= threshold
	case "<":
		return val < threshold
	case "<=":
		return val <= threshold
	case "=", "==":
		return val == threshold
	case "!=":
		return val != threshold
	default:
		return false
	}
}

// group is one grouping-key bucket with its events in time order.
type group struct {
	key    string
	values map[string]string
	events []model.Event
}

// groupEvents partitions events by the grouping fields, preserving the
// input time order inside each group. Output order follows first
// appearance, which keeps results deterministic for sorted input.
func groupEvents(groupBy []string, events []model.Event) []group {
	index := map[string]int{}
	var groups []group
	for _, ev := range events {
		values := map[string]string{}
		parts := make([]string, 0, len(groupBy))
		for _, field := range groupBy {
			v := stringField(ev, field)
			values[field] = v
			parts = append(parts, v)
		}
		key := strings.Join(parts, "\x1f")
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{key: key, values: values})
		}
		groups[i].events = append(groups[i].events, ev)
	}
	return groups
}

func stringField(ev model.Event, field string) string {
	switch field {
	case "fingerprint":
		if ev.Fingerprint != "" {
			return ev.Fingerprint
		}
		return groupFingerprint(ev)
	case "resource_id":
		return ev.ResourceID
	case "resource_type":
		return ev.ResourceType
	case "resource_name":
		return ev.ResourceName
	case "item":
		return ev.Item
	case "source_id":
		return ev.SourceID
	case "alert_source":
		return ev.SourceName
	case "rule_id":
		return ev.RuleID
	case "status":
		return string(ev.Status)
	case "level":
		return strconv.Itoa(ev.Level)
	default:
		return ""
	}
}

func groupFingerprint(ev model.Event) string {
	return EventFingerprint(ev.Item, ev.ResourceID, ev.ResourceType, ev.SourceName)
}
