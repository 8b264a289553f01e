package aggregation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/correlate/internal/correlation/model"
	"github.com/opswatch/correlate/internal/correlation/service/state"
)

type fakeRuleProvider struct {
	rules []model.CorrelationRule
}

func (f fakeRuleProvider) ListActiveRules(_ context.Context) ([]model.CorrelationRule, error) {
	return f.rules, nil
}

type recordingSink struct {
	mu      sync.Mutex
	panicOn string
	handled []string
	rows    int
}

func (s *recordingSink) HandleRows(_ context.Context, rule *model.CorrelationRule, rows []model.ResultRow) error {
	if rule.RuleID == s.panicOn {
		panic("sink blew up")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled = append(s.handled, rule.RuleID)
	s.rows += len(rows)
	return nil
}

func TestRunCycleSurvivesPanickingRule(t *testing.T) {
	// two events in a bucket that has already closed by evaluation time
	bucket := time.Now().Add(-10 * time.Minute).Truncate(5 * time.Minute)
	dao := &fakeEventDAO{events: []model.Event{
		makeEvent("e1", bucket.Add(10*time.Second), 2, 95),
		makeEvent("e2", bucket.Add(20*time.Second), 3, 95),
	}}

	boom := *thresholdRule()
	boom.RuleID = "boom"
	boom.Aggregations[0].MinEventCount = 2
	ok := *thresholdRule()
	ok.RuleID = "ok"
	ok.Aggregations[0].MinEventCount = 2

	windows := state.NewWindowStateStore(nil, 0, 0, false)
	sink := &recordingSink{panicOn: "boom"}
	deps := Deps{
		Rules:         fakeRuleProvider{rules: []model.CorrelationRule{boom, ok}},
		Events:        NewEventQueryStrategy(dao, NewTimeRangeCalculator(2), 100),
		Resolver:      NewParamsResolver(1),
		Engine:        NewEngine(),
		Windows:       windows,
		Sink:          sink,
		ProcessorDeps: ProcessorDeps{Windows: windows},
		MaxConcurrent: 2,
	}

	runCycle(context.Background(), deps)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []string{"ok"}, sink.handled, "the panicking rule must not take the others down")
	assert.Greater(t, sink.rows, 0)
}
