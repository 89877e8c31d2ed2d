package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	return NewMemoryEventBus(logger.Default())
}

func waitForEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 1)
	_, err := b.Subscribe("scheduler.events", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	event := NewEvent("schedule_execution_started", "scheduler", map[string]interface{}{
		"agent": "research-bot",
	})
	require.NoError(t, b.Publish(context.Background(), "scheduler.events", event))

	got := waitForEvent(t, received)
	assert.Equal(t, "schedule_execution_started", got.Type)
	assert.Equal(t, "research-bot", got.Data["agent"])
}

func TestMemoryBusWildcardSubject(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 2)
	_, err := b.Subscribe("queue.*", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "queue.submitted", NewEvent("submitted", "queue", nil)))
	require.NoError(t, b.Publish(context.Background(), "queue.completed", NewEvent("completed", "queue", nil)))

	first := waitForEvent(t, received)
	second := waitForEvent(t, received)
	types := map[string]bool{first.Type: true, second.Type: true}
	assert.True(t, types["submitted"])
	assert.True(t, types["completed"])
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan *Event, 1)
	sub, err := b.Subscribe("scheduler.events", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "scheduler.events", NewEvent("x", "scheduler", nil)))
	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusClosedRejectsPublish(t *testing.T) {
	b := newTestBus(t)
	b.Close()

	assert.False(t, b.IsConnected())
	err := b.Publish(context.Background(), "scheduler.events", NewEvent("x", "scheduler", nil))
	assert.Error(t, err)
}
