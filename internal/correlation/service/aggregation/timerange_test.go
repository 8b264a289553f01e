package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/correlate/internal/correlation/model"
)

func TestParseWindow(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"5min", 5 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"15", 15 * time.Minute, false},
		{"", 0, true},
		{"abc", 0, true},
		{"0min", 0, true},
		{"-5min", 0, true},
	}
	for _, c := range cases {
		got, err := ParseWindow(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParseWindow(%q): expected error, got %v", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseWindow(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseWindow(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAlignToWindow(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 37, 42, 0, time.UTC)
	if got := AlignToWindow(ts, 5*time.Minute); got != time.Date(2025, 3, 1, 10, 35, 0, 0, time.UTC) {
		t.Fatalf("unexpected alignment: %v", got)
	}
	if got := AlignToWindow(ts, time.Hour); got != time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) {
		t.Fatalf("unexpected alignment: %v", got)
	}
}

func TestQueryRangeFixedUsesBuffer(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	calc := NewTimeRangeCalculator(2.0)
	rule := &model.CorrelationRule{RuleID: "r1", WindowType: model.WindowFixed, WindowSize: "10min"}

	start, end, err := calc.QueryRange(rule, now)
	require.NoError(t, err)
	assert.Equal(t, now, end)
	assert.Equal(t, now.Add(-20*time.Minute), start)
}

func TestQueryRangeSlidingAddsSlide(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	calc := NewTimeRangeCalculator(2.0)
	rule := &model.CorrelationRule{
		RuleID: "r2", WindowType: model.WindowSliding,
		WindowSize: "10min", SlideInterval: "2min",
	}

	start, _, err := calc.QueryRange(rule, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-12*time.Minute), start)
}

func TestQueryRangeSession(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	calc := NewTimeRangeCalculator(2.0)

	withMax := &model.CorrelationRule{
		RuleID: "r3", WindowType: model.WindowSession,
		SessionTimeout: "5min", MaxWindowSize: "30min",
	}
	start, _, err := calc.QueryRange(withMax, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*time.Minute), start)

	withoutMax := &model.CorrelationRule{
		RuleID: "r4", WindowType: model.WindowSession, SessionTimeout: "5min",
	}
	start, _, err = calc.QueryRange(withoutMax, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-10*time.Minute), start, "lookback should be twice the timeout")
}

func TestQueryRangeBadDuration(t *testing.T) {
	calc := NewTimeRangeCalculator(2.0)
	rule := &model.CorrelationRule{RuleID: "bad", WindowType: model.WindowFixed, WindowSize: "soon"}
	_, _, err := calc.QueryRange(rule, time.Now())
	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
