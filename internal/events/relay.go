// Package events bridges the scheduler's Redis event channel onto the
// in-process event bus so UI-facing subscribers see scheduler events
// without holding their own Redis connection.
package events

import (
	"context"
	"encoding/json"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/events/bus"
	"github.com/agentplane/agentplane/internal/scheduler"
)

// BusSubject is the subject scheduler events are republished on.
const BusSubject = "scheduler.events"

// Relay subscribes to the scheduler's Redis channel and republishes
// each event on the process bus.
type Relay struct {
	client *goredis.Client
	bus    bus.EventBus
	log    *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a relay; Start begins forwarding.
func NewRelay(client *goredis.Client, eventBus bus.EventBus, log *logger.Logger) *Relay {
	return &Relay{
		client: client,
		bus:    eventBus,
		log:    log.WithFields(zap.String("component", "event-relay")),
	}
}

// Start subscribes to the Redis channel and forwards events until Stop
// or context cancellation. Malformed payloads are logged and dropped.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	sub := r.client.Subscribe(ctx, scheduler.EventChannel)
	go r.run(ctx, sub)
}

func (r *Relay) run(ctx context.Context, sub *goredis.PubSub) {
	defer close(r.done)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.forward(ctx, msg.Payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload string) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		r.log.WithError(err).Warn("Dropping malformed scheduler event")
		return
	}
	eventType, _ := data["type"].(string)
	if eventType == "" {
		r.log.Warn("Dropping scheduler event without type")
		return
	}

	event := bus.NewEvent(eventType, "scheduler", data)
	if err := r.bus.Publish(ctx, BusSubject, event); err != nil {
		r.log.WithError(err).Warn("Failed to republish scheduler event")
	}
}

// Stop ends forwarding and waits for the relay goroutine.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
