package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/common/logger"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository(), logger.Default())
}

func TestTrackAndComplete(t *testing.T) {
	svc := newTestService()
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	ctx := context.Background()

	execID := "exec-1"
	a, err := svc.Track(ctx, TrackInput{
		AgentName:          "alpha",
		ActivityType:       TypeScheduleStart,
		TriggeredBy:        "schedule",
		RelatedExecutionID: &execID,
	})
	require.NoError(t, err)
	assert.Equal(t, StateStarted, a.ActivityState)
	assert.Equal(t, start, a.StartedAt)
	require.NotNil(t, a.RelatedExecutionID)

	svc.now = func() time.Time { return start.Add(1500 * time.Millisecond) }
	done, err := svc.Complete(ctx, a.ID, CompleteInput{Status: StateCompleted})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.ActivityState)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.DurationMS)
	assert.Equal(t, int64(1500), *done.DurationMS)
}

func TestCompleteFailedWithError(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.Track(ctx, TrackInput{AgentName: "alpha", ActivityType: TypeChatStart})
	require.NoError(t, err)

	msg := "runtime unreachable"
	done, err := svc.Complete(ctx, a.ID, CompleteInput{Status: StateFailed, Error: &msg})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, done.ActivityState)
	require.NotNil(t, done.Error)
	assert.Equal(t, msg, *done.Error)
}

func TestCompleteIsMonotonic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.Track(ctx, TrackInput{AgentName: "alpha", ActivityType: TypeChatStart})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, a.ID, CompleteInput{Status: StateCompleted})
	require.NoError(t, err)

	// A second transition out of the terminal state is rejected.
	_, err = svc.Complete(ctx, a.ID, CompleteInput{Status: StateFailed})
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.Track(ctx, TrackInput{AgentName: "alpha", ActivityType: TypeChatStart})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, a.ID, CompleteInput{Status: StateStarted})
	assert.Error(t, err)
}

func TestCompleteMergesDetails(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.Track(ctx, TrackInput{
		AgentName:    "alpha",
		ActivityType: TypeScheduleStart,
		Details:      map[string]interface{}{"schedule_name": "ping"},
	})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, a.ID, CompleteInput{
		Status:  StateCompleted,
		Details: map[string]interface{}{"cost": 0.001},
	})
	require.NoError(t, err)
	assert.Equal(t, "ping", done.Details["schedule_name"])
	assert.Equal(t, 0.001, done.Details["cost"])
}

func TestListMostRecentFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return tick }
		_, err := svc.Track(ctx, TrackInput{AgentName: "alpha", ActivityType: TypeChatStart})
		require.NoError(t, err)
	}

	list, err := svc.List(ctx, "alpha", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].StartedAt.After(list[1].StartedAt))
}
