package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opswatch/correlate/internal/correlation/model"
)

type fakeEventDAO struct {
	events          []model.Event
	lastIncludeProc bool
	countSince      int
	countErr        error
	statusUpdates   [][]string
	statusUpdatedTo model.EventStatus
}

func (f *fakeEventDAO) QueryRange(_ context.Context, _, _ time.Time, includeProcessed bool, _ int) ([]model.Event, error) {
	f.lastIncludeProc = includeProcessed
	return f.events, nil
}

func (f *fakeEventDAO) CountSince(_ context.Context, _ time.Time) (int, error) {
	return f.countSince, f.countErr
}

func (f *fakeEventDAO) UpdateStatus(_ context.Context, ids []string, status model.EventStatus) error {
	f.statusUpdates = append(f.statusUpdates, ids)
	f.statusUpdatedTo = status
	return nil
}

func TestFetchBatchEmptyIsNotAnError(t *testing.T) {
	dao := &fakeEventDAO{}
	s := NewEventQueryStrategy(dao, NewTimeRangeCalculator(2), 100)
	rule := &model.CorrelationRule{RuleID: "r1", WindowType: model.WindowFixed, WindowSize: "5min"}

	batch, end, err := s.FetchBatch(context.Background(), rule, time.Now())
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	assert.False(t, end.IsZero())
}

func TestFetchBatchProcessedVisibility(t *testing.T) {
	dao := &fakeEventDAO{}
	s := NewEventQueryStrategy(dao, NewTimeRangeCalculator(2), 100)
	now := time.Now()

	fixed := &model.CorrelationRule{RuleID: "f", WindowType: model.WindowFixed, WindowSize: "5min"}
	_, _, err := s.FetchBatch(context.Background(), fixed, now)
	require.NoError(t, err)
	assert.False(t, dao.lastIncludeProc, "fixed windows only see fresh events")

	sliding := &model.CorrelationRule{RuleID: "s", WindowType: model.WindowSliding, WindowSize: "10min", SlideInterval: "2min"}
	_, _, err = s.FetchBatch(context.Background(), sliding, now)
	require.NoError(t, err)
	assert.True(t, dao.lastIncludeProc, "overlapping windows must re-see processed events")
}

func TestShouldRun(t *testing.T) {
	dao := &fakeEventDAO{countSince: 0}
	s := NewEventQueryStrategy(dao, NewTimeRangeCalculator(2), 100)
	rule := &model.CorrelationRule{RuleID: "r1"}
	ctx := context.Background()

	assert.True(t, s.ShouldRun(ctx, rule, time.Time{}), "a never-run rule always runs")
	assert.False(t, s.ShouldRun(ctx, rule, time.Now()), "no new events means skip")

	dao.countSince = 3
	assert.True(t, s.ShouldRun(ctx, rule, time.Now()))

	dao.countErr = errors.New("store down")
	assert.True(t, s.ShouldRun(ctx, rule, time.Now()), "count failures err on the side of running")
}

func TestMarkEventsProcessed(t *testing.T) {
	dao := &fakeEventDAO{}
	s := NewEventQueryStrategy(dao, NewTimeRangeCalculator(2), 100)

	s.MarkEventsProcessed(context.Background(), "r1", nil)
	assert.Empty(t, dao.statusUpdates, "no write for an empty id list")

	s.MarkEventsProcessed(context.Background(), "r1", []string{"e1", "e2"})
	require.Len(t, dao.statusUpdates, 1)
	assert.Equal(t, model.EventStatusProcessing, dao.statusUpdatedTo)
}
