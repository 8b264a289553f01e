package aggregation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opswatch/correlate/internal/correlation/model"
	"github.com/rs/zerolog/log"
)

// ParseWindow parses the compact duration grammar used by rule configs:
// "30s", "5min", "2h", "1d". A bare integer is taken as minutes.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty window duration")
	}
	var unit time.Duration
	var num string
	switch {
	case strings.HasSuffix(s, "min"):
		unit, num = time.Minute, strings.TrimSuffix(s, "min")
	case strings.HasSuffix(s, "h"):
		unit, num = time.Hour, strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "d"):
		unit, num = 24*time.Hour, strings.TrimSuffix(s, "d")
	case strings.HasSuffix(s, "s"):
		unit, num = time.Second, strings.TrimSuffix(s, "s")
	default:
		unit, num = time.Minute, s
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid window duration %q", s)
	}
	return time.Duration(n) * unit, nil
}

// AlignToWindow floors t to the window boundary of the given size,
// e.g. 14:37:45 with a 5 minute window aligns to 14:35:00.
func AlignToWindow(t time.Time, size time.Duration) time.Time {
	if size <= 0 {
		return t
	}
	return t.Truncate(size)
}

// TimeRangeCalculator computes the query lookback window for a rule.
// Deterministic given (rule, now); no side effects beyond a warn log for
// unknown window types.
type TimeRangeCalculator struct {
	// BufferMultiplier widens the fixed-window lookback so the previous
	// complete bucket and the in-progress one are both visible. Must be >= 2.
	BufferMultiplier float64
}

func NewTimeRangeCalculator(bufferMultiplier float64) *TimeRangeCalculator {
	if bufferMultiplier < 2 {
		bufferMultiplier = 2
	}
	return &TimeRangeCalculator{BufferMultiplier: bufferMultiplier}
}

// QueryRange returns [start, end) for the rule's window type:
// fixed: now - windowSize*multiplier; sliding: now - windowSize - slide;
// session: now - maxWindowSize (or 2x sessionTimeout when unset).
// An unknown window type degrades to a one hour lookback.
func (c *TimeRangeCalculator) QueryRange(rule *model.CorrelationRule, now time.Time) (time.Time, time.Time, error) {
	switch rule.WindowType {
	case model.WindowFixed:
		size, err := ParseWindow(rule.WindowSize)
		if err != nil {
			return time.Time{}, time.Time{}, model.NewConfigurationError(rule.RuleID, "fixed window_size: %v", err)
		}
		start := now.Add(-time.Duration(float64(size) * c.BufferMultiplier))
		return start, now, nil

	case model.WindowSliding:
		size, err := ParseWindow(rule.WindowSize)
		if err != nil {
			return time.Time{}, time.Time{}, model.NewConfigurationError(rule.RuleID, "sliding window_size: %v", err)
		}
		slide, err := ParseWindow(rule.SlideInterval)
		if err != nil {
			return time.Time{}, time.Time{}, model.NewConfigurationError(rule.RuleID, "sliding slide_interval: %v", err)
		}
		return now.Add(-size - slide), now, nil

	case model.WindowSession:
		var lookback time.Duration
		if rule.MaxWindowSize != "" {
			max, err := ParseWindow(rule.MaxWindowSize)
			if err != nil {
				return time.Time{}, time.Time{}, model.NewConfigurationError(rule.RuleID, "session max_window_size: %v", err)
			}
			lookback = max
		} else {
			timeout, err := ParseWindow(rule.SessionTimeout)
			if err != nil {
				return time.Time{}, time.Time{}, model.NewConfigurationError(rule.RuleID, "session session_timeout: %v", err)
			}
			lookback = 2 * timeout
		}
		return now.Add(-lookback), now, nil

	default:
		log.Warn().Str("rule", rule.RuleID).Str("window_type", string(rule.WindowType)).
			Msg("unknown window type, falling back to 1h lookback")
		return now.Add(-time.Hour), now, nil
	}
}
