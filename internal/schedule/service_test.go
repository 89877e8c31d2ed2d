package schedule

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

func TestCreateComputesNextRun(t *testing.T) {
	svc := newTestService()
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 2, 0, 0, time.UTC) }

	sched, err := svc.Create(context.Background(), CreateInput{
		AgentName:      "alpha",
		Name:           "ping",
		CronExpression: "*/5 * * * *",
		Message:        "ping",
	})
	require.NoError(t, err)

	assert.True(t, sched.Enabled)
	assert.Equal(t, "UTC", sched.Timezone)
	assert.Equal(t, DefaultTimeoutSeconds, sched.TimeoutSeconds)
	require.NotNil(t, sched.NextRunAt)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC), *sched.NextRunAt)
	assert.Nil(t, sched.LastRunAt)
}

func TestCreateDisabledHasNoNextRun(t *testing.T) {
	svc := newTestService()
	disabled := false

	sched, err := svc.Create(context.Background(), CreateInput{
		AgentName:      "alpha",
		Name:           "ping",
		CronExpression: "* * * * *",
		Message:        "ping",
		Enabled:        &disabled,
	})
	require.NoError(t, err)
	assert.Nil(t, sched.NextRunAt)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		AgentName: "alpha", Name: "x", Message: "m",
		CronExpression: "not a cron",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cron_expression", verr.Field)

	_, err = svc.Create(ctx, CreateInput{
		AgentName: "alpha", Name: "x", Message: "m",
		CronExpression: "* * * * *", Timezone: "Mars/Olympus",
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timezone", verr.Field)

	_, err = svc.Create(ctx, CreateInput{
		AgentName: "alpha", Name: "x", Message: "m",
		CronExpression: "* * * * *", TimeoutSeconds: 60,
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timeout_seconds", verr.Field)

	_, err = svc.Create(ctx, CreateInput{
		AgentName: "alpha", Name: "x", Message: "m",
		CronExpression: "* * * * *", TimeoutSeconds: 7201,
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timeout_seconds", verr.Field)
}

func TestUpdateRecomputesNextRun(t *testing.T) {
	svc := newTestService()
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 30, 0, time.UTC) }
	ctx := context.Background()

	sched, err := svc.Create(ctx, CreateInput{
		AgentName: "alpha", Name: "x", Message: "m",
		CronExpression: "*/5 * * * *",
	})
	require.NoError(t, err)

	hourly := "0 * * * *"
	updated, err := svc.Update(ctx, sched.ID, UpdateInput{CronExpression: &hourly})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.Equal(t, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), *updated.NextRunAt)
}

func TestUpdateDisableClearsNextRun(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sched, err := svc.Create(ctx, CreateInput{
		AgentName: "alpha", Name: "x", Message: "m",
		CronExpression: "* * * * *",
	})
	require.NoError(t, err)
	require.NotNil(t, sched.NextRunAt)

	disabled := false
	updated, err := svc.Update(ctx, sched.ID, UpdateInput{Enabled: &disabled})
	require.NoError(t, err)
	assert.Nil(t, updated.NextRunAt)
	assert.False(t, updated.Enabled)
}

func TestUpdateAllowedToolsEmptyVsAbsent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sched, err := svc.Create(ctx, CreateInput{
		AgentName: "alpha", Name: "x", Message: "m",
		CronExpression: "* * * * *",
	})
	require.NoError(t, err)
	assert.Nil(t, sched.AllowedTools)

	empty := []string{}
	updated, err := svc.Update(ctx, sched.ID, UpdateInput{AllowedTools: &empty})
	require.NoError(t, err)
	require.NotNil(t, updated.AllowedTools)
	assert.Empty(t, *updated.AllowedTools)
}

func TestUpdateMissingSchedule(t *testing.T) {
	svc := newTestService()
	_, err := svc.Update(context.Background(), "missing", UpdateInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}
