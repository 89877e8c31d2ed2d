package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
)

// Runner executes one running entry against the agent runtime. The
// returned status is recorded on the entry; the dispatcher completes
// the slot regardless of the error.
type Runner func(ctx context.Context, entry *Entry) (EntryStatus, error)

// Dispatcher drives running entries to completion. After an entry
// finishes it releases the slot and keeps executing promoted entries
// until the wait list drains or the slot is lost to another submitter.
type Dispatcher struct {
	queue *ExecutionQueue
	run   Runner
	log   *logger.Logger
}

// NewDispatcher wires a runner to the queue.
func NewDispatcher(q *ExecutionQueue, run Runner, log *logger.Logger) *Dispatcher {
	return &Dispatcher{queue: q, run: run, log: log}
}

// Dispatch executes entry (which must already hold the running slot)
// and then chains through any promoted successors. Blocks until the
// chain ends; callers that need async behavior run it in a goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, entry *Entry) {
	for entry != nil {
		status, err := d.run(ctx, entry)
		if err != nil {
			d.log.WithAgent(entry.AgentName).WithError(err).WithFields(
				zap.String("entry_id", entry.ID),
			).Error("Queue entry execution failed")
		}
		if status == "" {
			status = StatusFailed
		}
		entry.Status = status

		next, err := d.queue.Complete(ctx, entry.AgentName)
		if err != nil {
			d.log.WithAgent(entry.AgentName).WithError(err).Error("Failed to complete queue entry")
			return
		}
		entry = next
	}
}
