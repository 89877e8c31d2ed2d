package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// EventChannel is the Redis pub/sub channel scheduler events go out on.
// The control plane relays them onto the in-process event bus.
const EventChannel = "scheduler:events"

// Event type names.
const (
	EventExecutionStarted   = "schedule_execution_started"
	EventExecutionCompleted = "schedule_execution_completed"
)

// StartedEvent announces a firing that has begun executing.
type StartedEvent struct {
	Type         string `json:"type"`
	Agent        string `json:"agent"`
	ScheduleID   string `json:"schedule_id"`
	ExecutionID  string `json:"execution_id"`
	ScheduleName string `json:"schedule_name"`
}

// CompletedEvent announces a firing that reached a terminal status. The
// error field is present (null on success) so consumers need no shape
// branching.
type CompletedEvent struct {
	Type        string  `json:"type"`
	Agent       string  `json:"agent"`
	ScheduleID  string  `json:"schedule_id"`
	ExecutionID string  `json:"execution_id"`
	Status      string  `json:"status"`
	Error       *string `json:"error"`
}

// Publisher sends scheduler events to whoever is listening.
type Publisher interface {
	PublishStarted(ctx context.Context, ev StartedEvent) error
	PublishCompleted(ctx context.Context, ev CompletedEvent) error
}

// RedisPublisher publishes events as JSON on the shared Redis channel.
type RedisPublisher struct {
	client *goredis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher over the given Redis client.
func NewRedisPublisher(client *goredis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishStarted(ctx context.Context, ev StartedEvent) error {
	ev.Type = EventExecutionStarted
	return p.publish(ctx, ev)
}

func (p *RedisPublisher) PublishCompleted(ctx context.Context, ev CompletedEvent) error {
	ev.Type = EventExecutionCompleted
	return p.publish(ctx, ev)
}

func (p *RedisPublisher) publish(ctx context.Context, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal scheduler event: %w", err)
	}
	return p.client.Publish(ctx, EventChannel, data).Err()
}

// MemoryPublisher collects events in memory. Used by tests and when
// event publishing is disabled.
type MemoryPublisher struct {
	mu        sync.Mutex
	Started   []StartedEvent
	Completed []CompletedEvent
}

var _ Publisher = (*MemoryPublisher)(nil)

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) PublishStarted(ctx context.Context, ev StartedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev.Type = EventExecutionStarted
	p.Started = append(p.Started, ev)
	return nil
}

func (p *MemoryPublisher) PublishCompleted(ctx context.Context, ev CompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev.Type = EventExecutionCompleted
	p.Completed = append(p.Completed, ev)
	return nil
}

// Events returns snapshots of what was published.
func (p *MemoryPublisher) Events() ([]StartedEvent, []CompletedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	started := make([]StartedEvent, len(p.Started))
	copy(started, p.Started)
	completed := make([]CompletedEvent, len(p.Completed))
	copy(completed, p.Completed)
	return started, completed
}
