package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	windowStatePrefix = "alerts:agg:window_state"
	processedPrefix   = "alerts:agg:processed"
	lastExecPrefix    = "alerts:agg:last_exec"
)

// SlidingState is the per-rule dedup record for sliding windows: the most
// recent last-event time emitted per fingerprint.
type SlidingState struct {
	RuleID       string               `json:"rule_id"`
	Fingerprints map[string]time.Time `json:"fingerprints"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// WindowStateStore keeps cross-cycle aggregation state in Redis. Every
// operation is best effort from the pipeline's point of view: a Redis
// outage degrades dedup and smart scheduling but never blocks alerting.
// Callers that must distinguish "absent" from "failed" get (nil, error).
type WindowStateStore struct {
	redis           *redis.Client
	slidingTTL      time.Duration
	processedTTL    time.Duration
	trackingEnabled bool
}

func NewWindowStateStore(rdb *redis.Client, slidingTTL, processedTTL time.Duration, trackingEnabled bool) *WindowStateStore {
	if slidingTTL <= 0 {
		slidingTTL = time.Hour
	}
	if processedTTL <= 0 {
		processedTTL = 24 * time.Hour
	}
	return &WindowStateStore{
		redis:           rdb,
		slidingTTL:      slidingTTL,
		processedTTL:    processedTTL,
		trackingEnabled: trackingEnabled,
	}
}

// Enabled reports whether window tracking is on. When off, every method
// is a no-op and reads return absent.
func (s *WindowStateStore) Enabled() bool { return s.trackingEnabled && s.redis != nil }

// GetSlidingState returns the rule's sliding dedup record, or nil when
// none exists.
func (s *WindowStateStore) GetSlidingState(ctx context.Context, ruleID string) (*SlidingState, error) {
	if !s.Enabled() {
		return nil, nil
	}
	key := fmt.Sprintf("%s:%s", windowStatePrefix, ruleID)
	data, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sliding state: %w", err)
	}
	var st SlidingState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sliding state: %w", err)
	}
	return &st, nil
}

// SaveSlidingState stores the rule's sliding dedup record with the
// configured TTL.
func (s *WindowStateStore) SaveSlidingState(ctx context.Context, st *SlidingState) error {
	if !s.Enabled() {
		return nil
	}
	st.UpdatedAt = time.Now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal sliding state: %w", err)
	}
	key := fmt.Sprintf("%s:%s", windowStatePrefix, st.RuleID)
	if err := s.redis.Set(ctx, key, data, s.slidingTTL).Err(); err != nil {
		return fmt.Errorf("failed to store sliding state: %w", err)
	}
	return nil
}

// MarkProcessed records window instances as already alerted so fixed
// windows are not re-emitted on the next cycle.
func (s *WindowStateStore) MarkProcessed(ctx context.Context, ruleID string, windowIDs []string) error {
	if !s.Enabled() || len(windowIDs) == 0 {
		return nil
	}
	key := fmt.Sprintf("%s:%s", processedPrefix, ruleID)
	members := make([]interface{}, len(windowIDs))
	for i, id := range windowIDs {
		members[i] = id
	}
	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, s.processedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark windows processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether a window instance was already alerted.
// On error it reports false so the window is processed again rather
// than silently dropped.
func (s *WindowStateStore) IsProcessed(ctx context.Context, ruleID, windowID string) bool {
	if !s.Enabled() {
		return false
	}
	key := fmt.Sprintf("%s:%s", processedPrefix, ruleID)
	ok, err := s.redis.SIsMember(ctx, key, windowID).Result()
	if err != nil {
		log.Warn().Err(err).Str("rule_id", ruleID).Msg("processed-window lookup failed")
		return false
	}
	return ok
}

// GetLastExecution returns when the rule last ran, or the zero time when
// unknown.
func (s *WindowStateStore) GetLastExecution(ctx context.Context, ruleID string) (time.Time, error) {
	if !s.Enabled() {
		return time.Time{}, nil
	}
	key := fmt.Sprintf("%s:%s", lastExecPrefix, ruleID)
	data, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get last execution: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, data)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last execution time: %w", err)
	}
	return t, nil
}

// SetLastExecution records the rule's execution time with the processed
// TTL so stale rules eventually fall back to a cold start.
func (s *WindowStateStore) SetLastExecution(ctx context.Context, ruleID string, t time.Time) error {
	if !s.Enabled() {
		return nil
	}
	key := fmt.Sprintf("%s:%s", lastExecPrefix, ruleID)
	if err := s.redis.Set(ctx, key, t.Format(time.RFC3339Nano), s.processedTTL).Err(); err != nil {
		return fmt.Errorf("failed to store last execution: %w", err)
	}
	return nil
}
