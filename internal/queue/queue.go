package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
)

// ExecutionQueue serializes task execution per agent. At most one entry
// runs per agent at a time; further submissions wait in a bounded FIFO
// list and are promoted when the running entry completes.
type ExecutionQueue struct {
	store   Store
	maxSize int
	ttl     time.Duration
	log     *logger.Logger
}

// Options tunes queue behavior.
type Options struct {
	// MaxSize caps the wait list per agent.
	MaxSize int
	// ExecutionTTL bounds how long a running slot survives without being
	// completed, so a crashed worker cannot wedge the agent forever.
	ExecutionTTL time.Duration
}

// NewExecutionQueue creates the queue service over the given store.
func NewExecutionQueue(store Store, opts Options, log *logger.Logger) *ExecutionQueue {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 3
	}
	if opts.ExecutionTTL <= 0 {
		opts.ExecutionTTL = 600 * time.Second
	}
	return &ExecutionQueue{
		store:   store,
		maxSize: opts.MaxSize,
		ttl:     opts.ExecutionTTL,
		log:     log,
	}
}

// MaxSize returns the configured wait-list capacity.
func (q *ExecutionQueue) MaxSize() int { return q.maxSize }

// Create allocates a new entry without touching the store.
func (q *ExecutionQueue) Create(p CreateParams) *Entry {
	return NewEntry(p)
}

// Submit places entry into the agent's queue. If the running slot is
// free the entry starts immediately; otherwise, when waitIfBusy is set
// and the wait list has room, the entry is appended and its queue
// position returned. A full wait list yields QueueFullError; a busy
// agent with waitIfBusy=false yields AgentBusyError.
func (q *ExecutionQueue) Submit(ctx context.Context, entry *Entry, waitIfBusy bool) (*SubmitResult, error) {
	acquired, err := q.tryStart(ctx, entry)
	if err != nil {
		return nil, err
	}
	if acquired {
		q.log.WithAgent(entry.AgentName).WithFields(
			zap.String("entry_id", entry.ID),
			zap.String("source", string(entry.Source)),
		).Debug("Queue entry started immediately")
		return &SubmitResult{State: SubmitStateRunning, Entry: entry}, nil
	}

	if !waitIfBusy {
		current, err := q.store.GetSlot(ctx, entry.AgentName)
		if err != nil {
			return nil, err
		}
		return nil, &AgentBusyError{AgentName: entry.AgentName, Current: current}
	}

	newLen, pushed, err := q.store.PushWait(ctx, entry.AgentName, entry, q.maxSize)
	if err != nil {
		return nil, err
	}
	if !pushed {
		return nil, &QueueFullError{
			AgentName:         entry.AgentName,
			QueueLength:       newLen,
			RetryAfterSeconds: int(q.ttl / time.Second),
		}
	}

	q.log.WithAgent(entry.AgentName).WithFields(
		zap.String("entry_id", entry.ID),
		zap.Int("position", newLen-1),
	).Debug("Queue entry waiting")
	return &SubmitResult{State: SubmitStateQueued, Position: newLen - 1, Entry: entry}, nil
}

// Complete releases the agent's running slot and promotes the head of
// the wait list, if any. The promoted entry (already marked running and
// holding the slot) is returned so the caller can dispatch it; nil means
// nothing was waiting.
func (q *ExecutionQueue) Complete(ctx context.Context, agentName string) (*Entry, error) {
	if _, err := q.store.ReleaseSlot(ctx, agentName); err != nil {
		return nil, err
	}
	return q.promote(ctx, agentName)
}

// IsBusy reports whether the agent's running slot is occupied.
func (q *ExecutionQueue) IsBusy(ctx context.Context, agentName string) (bool, error) {
	entry, err := q.store.GetSlot(ctx, agentName)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// Status returns a snapshot of the agent's queue.
func (q *ExecutionQueue) Status(ctx context.Context, agentName string) (*Status, error) {
	running, err := q.store.GetSlot(ctx, agentName)
	if err != nil {
		return nil, err
	}
	waiting, err := q.store.ListWait(ctx, agentName)
	if err != nil {
		return nil, err
	}
	return &Status{
		AgentName:   agentName,
		Running:     running,
		Waiting:     waiting,
		QueueLength: len(waiting),
		MaxSize:     q.maxSize,
	}, nil
}

// ClearQueue drops all waiting entries for the agent. The running entry
// is untouched. Returns the number of entries removed.
func (q *ExecutionQueue) ClearQueue(ctx context.Context, agentName string) (int, error) {
	n, err := q.store.ClearWait(ctx, agentName)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.WithAgent(agentName).WithFields(zap.Int("cleared", n)).Info("Cleared queue")
	}
	return n, nil
}

// ForceRelease clears the running slot without promoting. Operators use
// it to recover an agent wedged by a lost worker; the next Submit or
// Complete resumes normal flow.
func (q *ExecutionQueue) ForceRelease(ctx context.Context, agentName string) (bool, error) {
	released, err := q.store.ReleaseSlot(ctx, agentName)
	if err != nil {
		return false, err
	}
	if released {
		q.log.WithAgent(agentName).Warn("Force-released running slot")
	}
	return released, nil
}

// tryStart attempts to take the running slot for entry, marking it
// running on success.
func (q *ExecutionQueue) tryStart(ctx context.Context, entry *Entry) (bool, error) {
	now := time.Now().UTC()
	running := *entry
	running.Status = StatusRunning
	running.StartedAt = &now

	acquired, err := q.store.AcquireSlot(ctx, entry.AgentName, &running, q.ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		*entry = running
	}
	return acquired, nil
}

// promote pops the wait-list head and starts it. If the slot was taken
// between the pop and the CAS, the entry goes back to the front of the
// list so ordering is preserved.
func (q *ExecutionQueue) promote(ctx context.Context, agentName string) (*Entry, error) {
	next, err := q.store.PopWait(ctx, agentName)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, nil
	}

	acquired, err := q.tryStart(ctx, next)
	if err != nil {
		return nil, err
	}
	if !acquired {
		if err := q.store.PushWaitFront(ctx, agentName, next); err != nil {
			return nil, err
		}
		return nil, nil
	}

	q.log.WithAgent(agentName).WithFields(zap.String("entry_id", next.ID)).Debug("Promoted waiting entry")
	return next, nil
}
