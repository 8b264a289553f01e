package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestWindowStateStoreDisabled(t *testing.T) {
	s := NewWindowStateStore(nil, 0, 0, false)
	ctx := context.Background()

	st, err := s.GetSlidingState(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoError(t, s.SaveSlidingState(ctx, &SlidingState{RuleID: "r1"}))
	assert.False(t, s.IsProcessed(ctx, "r1", "w1"))
	assert.NoError(t, s.MarkProcessed(ctx, "r1", []string{"w1"}))

	last, err := s.GetLastExecution(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestSlidingStateRoundTrip(t *testing.T) {
	rdb := testRedis(t)
	s := NewWindowStateStore(rdb, time.Minute, time.Minute, true)
	ctx := context.Background()
	ruleID := "rt-" + uuid.NewString()

	st, err := s.GetSlidingState(ctx, ruleID)
	require.NoError(t, err)
	assert.Nil(t, st, "absent state reads as nil, not error")

	now := time.Now().Truncate(time.Second).UTC()
	err = s.SaveSlidingState(ctx, &SlidingState{
		RuleID:       ruleID,
		Fingerprints: map[string]time.Time{"f1": now},
	})
	require.NoError(t, err)

	st, err = s.GetSlidingState(ctx, ruleID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Fingerprints["f1"].Equal(now))
}

func TestProcessedWindows(t *testing.T) {
	rdb := testRedis(t)
	s := NewWindowStateStore(rdb, time.Minute, time.Minute, true)
	ctx := context.Background()
	ruleID := "pw-" + uuid.NewString()

	assert.False(t, s.IsProcessed(ctx, ruleID, "w1"))
	require.NoError(t, s.MarkProcessed(ctx, ruleID, []string{"w1", "w2"}))
	assert.True(t, s.IsProcessed(ctx, ruleID, "w1"))
	assert.True(t, s.IsProcessed(ctx, ruleID, "w2"))
	assert.False(t, s.IsProcessed(ctx, ruleID, "w3"))
}

func TestLastExecutionRoundTrip(t *testing.T) {
	rdb := testRedis(t)
	s := NewWindowStateStore(rdb, time.Minute, time.Minute, true)
	ctx := context.Background()
	ruleID := "le-" + uuid.NewString()

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SetLastExecution(ctx, ruleID, at))

	got, err := s.GetLastExecution(ctx, ruleID)
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
}
