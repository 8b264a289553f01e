package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "alerts:agg:session"

// SessionWindow is one open session tracked across evaluation cycles.
type SessionWindow struct {
	RuleID        string    `json:"rule_id"`
	SessionKey    string    `json:"session_key"`
	Fingerprint   string    `json:"fingerprint"`
	SessionID     int       `json:"session_id"`
	StartTime     time.Time `json:"start_time"`
	LastEventTime time.Time `json:"last_event_time"`
	EventCount    int       `json:"event_count"`
	EventIDs      []string  `json:"event_ids"`
	Closed        bool      `json:"closed"`
	ClosedAt      time.Time `json:"closed_at,omitempty"`
}

// Duration is the elapsed time between the first and the latest event.
func (w *SessionWindow) Duration() time.Duration {
	return w.LastEventTime.Sub(w.StartTime)
}

// AddEvent extends the session with one more event.
func (w *SessionWindow) AddEvent(eventID string, at time.Time) {
	w.EventCount++
	w.EventIDs = append(w.EventIDs, eventID)
	if at.After(w.LastEventTime) {
		w.LastEventTime = at
	}
	if at.Before(w.StartTime) {
		w.StartTime = at
	}
}

// ShouldClose reports whether the session is over: the inactivity gap
// passed, the session outlived the maximum duration, or it accumulated
// the maximum number of events.
func (w *SessionWindow) ShouldClose(now time.Time, gap, maxDuration time.Duration, maxEvents int) bool {
	if now.Sub(w.LastEventTime) > gap {
		return true
	}
	if maxDuration > 0 && w.Duration() >= maxDuration {
		return true
	}
	if maxEvents > 0 && w.EventCount >= maxEvents {
		return true
	}
	return false
}

// SessionStateManager persists open sessions in Redis so a session can
// span many evaluation cycles and a process restart.
type SessionStateManager struct {
	redis        *redis.Client
	openTTL      time.Duration
	processedTTL time.Duration
}

func NewSessionStateManager(rdb *redis.Client, openTTL, processedTTL time.Duration) *SessionStateManager {
	if openTTL <= 0 {
		openTTL = 2 * time.Hour
	}
	if processedTTL <= 0 {
		processedTTL = 24 * time.Hour
	}
	return &SessionStateManager{redis: rdb, openTTL: openTTL, processedTTL: processedTTL}
}

func (m *SessionStateManager) key(ruleID, sessionKey string) string {
	return fmt.Sprintf("%s:%s:%s", sessionPrefix, ruleID, sessionKey)
}

// Get returns the tracked session, or nil when none exists.
func (m *SessionStateManager) Get(ctx context.Context, ruleID, sessionKey string) (*SessionWindow, error) {
	if m.redis == nil {
		return nil, nil
	}
	data, err := m.redis.Get(ctx, m.key(ruleID, sessionKey)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session window: %w", err)
	}
	var w SessionWindow
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session window: %w", err)
	}
	return &w, nil
}

// Save stores an open session. Closed sessions keep a shorter record so
// late events do not resurrect them immediately.
func (m *SessionStateManager) Save(ctx context.Context, w *SessionWindow) error {
	if m.redis == nil {
		return nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal session window: %w", err)
	}
	ttl := m.openTTL
	if w.Closed {
		ttl = m.processedTTL
	}
	if err := m.redis.Set(ctx, m.key(w.RuleID, w.SessionKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session window: %w", err)
	}
	return nil
}

// Close marks the session closed and persists it with the processed TTL.
func (m *SessionStateManager) Close(ctx context.Context, w *SessionWindow, now time.Time) error {
	w.Closed = true
	w.ClosedAt = now
	return m.Save(ctx, w)
}
