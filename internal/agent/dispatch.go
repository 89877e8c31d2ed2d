package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/agent/runtime"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/queue"
)

// RuntimeCaller is the slice of the runtime client the dispatch path
// uses.
type RuntimeCaller interface {
	Task(ctx context.Context, req *runtime.TaskRequest) (*runtime.TaskResponse, error)
	Chat(ctx context.Context, req *runtime.ChatRequest) (*runtime.ChatResponse, error)
}

// RuntimeFactory builds a runtime client for an agent.
type RuntimeFactory func(a *Agent) RuntimeCaller

// DefaultRuntimeFactory dials the agent's registered runtime URL.
func DefaultRuntimeFactory(log *logger.Logger) RuntimeFactory {
	return func(a *Agent) RuntimeCaller {
		return runtime.NewClient(a.RuntimeURL, log)
	}
}

// NewQueueRunner returns the queue.Runner the control plane registers
// with the dispatcher: promoted user entries go to the runtime's chat
// endpoint, schedule and agent entries to the task endpoint.
func NewQueueRunner(repo Repository, runtimes RuntimeFactory, taskTimeoutSeconds int, log *logger.Logger) queue.Runner {
	return func(ctx context.Context, entry *queue.Entry) (queue.EntryStatus, error) {
		a, err := repo.GetAgent(ctx, entry.AgentName)
		if err != nil {
			return queue.StatusFailed, err
		}
		caller := runtimes(a)

		switch entry.Source {
		case queue.SourceUser:
			_, err = caller.Chat(ctx, &runtime.ChatRequest{
				Message:   entry.Message,
				UserID:    entry.SourceUserID,
				UserEmail: entry.SourceUserEmail,
			})
		default:
			_, err = caller.Task(ctx, &runtime.TaskRequest{
				Message:        entry.Message,
				TimeoutSeconds: taskTimeoutSeconds,
			})
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return queue.StatusTimeout, err
			}
			return queue.StatusFailed, err
		}

		log.WithAgent(entry.AgentName).WithFields(
			zap.String("entry_id", entry.ID),
			zap.String("source", string(entry.Source)),
		).Debug("Promoted entry dispatched")
		return queue.StatusCompleted, nil
	}
}
