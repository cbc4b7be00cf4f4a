package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/models"
)

func mismatchFixture(t *testing.T) (*MismatchCalculator, *memoryStore, *captureTelemetry) {
	t.Helper()
	ctx := context.Background()
	store := newMemoryStore()
	telemetry := &captureTelemetry{}

	parent := &models.Broker{ID: "parent-1", Name: "PeopleFinder", Schedule: testSchedule}
	child := &models.Broker{ID: "child-1", Name: "PeopleFinder Mirror", ParentID: parent.ID, Schedule: testSchedule}
	require.NoError(t, store.SaveBroker(ctx, parent))
	require.NoError(t, store.SaveBroker(ctx, child))
	require.NoError(t, store.SaveProfileQuery(ctx, &models.ProfileQuery{ID: "pq-1"}))

	return NewMismatchCalculator(store, telemetry, arbor.NewLogger()), store, telemetry
}

func appendMatches(t *testing.T, store *memoryStore, brokerID string, count int, at time.Time) {
	t.Helper()
	ev := models.NewHistoryEvent(brokerID, "pq-1", models.EventMatchesFound, at)
	ev.MatchCount = count
	require.NoError(t, store.AppendEvent(context.Background(), ev))
}

func TestMismatch_ParentHasMore(t *testing.T) {
	calc, store, telemetry := mismatchFixture(t)
	now := time.Now()

	appendMatches(t, store, "parent-1", 3, now.Add(-2*time.Hour))
	appendMatches(t, store, "child-1", 1, now.Add(-time.Hour))

	results, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.MismatchParentMore, results[0].Status)
	assert.Equal(t, 3, results[0].ParentMatches)
	assert.Equal(t, 1, results[0].ChildMatches)
	assert.Len(t, telemetry.mismatches, 1)
}

func TestMismatch_ChildHasMore(t *testing.T) {
	calc, store, _ := mismatchFixture(t)
	now := time.Now()

	appendMatches(t, store, "parent-1", 1, now.Add(-2*time.Hour))
	appendMatches(t, store, "child-1", 4, now.Add(-time.Hour))

	results, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.MismatchChildMore, results[0].Status)
}

func TestMismatch_EqualCountsNoMismatch(t *testing.T) {
	calc, store, _ := mismatchFixture(t)
	now := time.Now()

	appendMatches(t, store, "parent-1", 2, now.Add(-2*time.Hour))
	appendMatches(t, store, "child-1", 2, now.Add(-time.Hour))

	results, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.MismatchNone, results[0].Status)
}

func TestMismatch_UsesLatestCountOnly(t *testing.T) {
	calc, store, _ := mismatchFixture(t)
	now := time.Now()

	appendMatches(t, store, "parent-1", 9, now.Add(-3*time.Hour))
	appendMatches(t, store, "parent-1", 2, now.Add(-2*time.Hour))
	appendMatches(t, store, "child-1", 2, now.Add(-time.Hour))

	results, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.MismatchNone, results[0].Status)
}

func TestMismatch_DoesNotTouchSchedules(t *testing.T) {
	calc, store, _ := mismatchFixture(t)
	ctx := context.Background()
	now := time.Now()

	preferred := now.Add(time.Hour)
	require.NoError(t, store.SaveScanJob(ctx, &models.ScanJobData{
		BrokerID: "child-1", ProfileQueryID: "pq-1", PreferredRunDate: &preferred,
	}))
	appendMatches(t, store, "parent-1", 2, now.Add(-time.Hour))

	_, err := calc.Calculate(ctx)
	require.NoError(t, err)

	job, err := store.GetScanJob(ctx, "child-1", "pq-1")
	require.NoError(t, err)
	require.NotNil(t, job.PreferredRunDate)
	assert.Equal(t, preferred, *job.PreferredRunDate)
}
