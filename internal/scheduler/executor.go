package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/activity"
	"github.com/agentplane/agentplane/internal/agent"
	"github.com/agentplane/agentplane/internal/agent/runtime"
	"github.com/agentplane/agentplane/internal/common/config"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/common/stringutil"
	"github.com/agentplane/agentplane/internal/lock"
	"github.com/agentplane/agentplane/internal/queue"
	"github.com/agentplane/agentplane/internal/schedule"
)

// minLeaseSeconds floors the lock lease so very short task timeouts
// still cover lock bookkeeping.
const minLeaseSeconds = 60

// RuntimeCaller is the slice of the runtime client the executor needs.
type RuntimeCaller interface {
	Task(ctx context.Context, req *runtime.TaskRequest) (*runtime.TaskResponse, error)
}

// RuntimeFactory builds a runtime caller for an agent. The default
// implementation dials the agent's registered runtime URL.
type RuntimeFactory func(a *agent.Agent) RuntimeCaller

// Executor runs the fire pipeline for one schedule: lock, gate, record,
// dispatch, parse, finalize, publish.
type Executor struct {
	schedules  schedule.Repository
	agents     agent.Repository
	tracker    activity.Tracker
	locker     lock.Locker
	queue      *queue.ExecutionQueue
	dispatcher *queue.Dispatcher
	publisher  Publisher
	runtimes   RuntimeFactory
	cfg        config.SchedulerConfig
	log        *logger.Logger
	now        func() time.Time
}

// SetDispatcher wires the dispatcher that executes entries promoted
// when a firing releases the agent's slot. Without one, promoted
// entries would hold the slot with no worker until the TTL clears it.
func (e *Executor) SetDispatcher(d *queue.Dispatcher) {
	e.dispatcher = d
}

// NewExecutor wires the fire pipeline.
func NewExecutor(
	schedules schedule.Repository,
	agents agent.Repository,
	tracker activity.Tracker,
	locker lock.Locker,
	q *queue.ExecutionQueue,
	publisher Publisher,
	runtimes RuntimeFactory,
	cfg config.SchedulerConfig,
	log *logger.Logger,
) *Executor {
	return &Executor{
		schedules: schedules,
		agents:    agents,
		tracker:   tracker,
		locker:    locker,
		queue:     q,
		publisher: publisher,
		runtimes:  runtimes,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// DefaultRuntimeFactory dials each agent's registered runtime URL.
func DefaultRuntimeFactory(log *logger.Logger) RuntimeFactory {
	return func(a *agent.Agent) RuntimeCaller {
		return runtime.NewClient(a.RuntimeURL, log)
	}
}

// Fire executes one firing of the schedule. Safe to call concurrently
// across replicas; the per-agent lock arbitrates.
func (e *Executor) Fire(ctx context.Context, scheduleID string, triggeredBy schedule.TriggeredBy) {
	sched, err := e.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		e.log.WithSchedule(scheduleID).WithError(err).Warn("Skipping fire: schedule not loadable")
		return
	}
	log := e.log.WithSchedule(sched.ID).WithAgent(sched.AgentName)

	lease := time.Duration(max(sched.TimeoutSeconds, minLeaseSeconds)+e.cfg.LockLeaseMargin) * time.Second
	acquireTimeout := time.Duration(e.cfg.LockAcquireTimeout) * time.Second
	l, err := e.locker.Acquire(ctx, lock.AgentKey(sched.AgentName), lease, acquireTimeout)
	if err != nil {
		switch {
		case !errors.Is(err, lock.ErrNotAcquired):
			log.WithError(err).Error("Failed to acquire agent lock")
		case triggeredBy == schedule.TriggeredByManual:
			// Cron contention is routine and skips silently; an operator
			// who triggered by hand gets a visible record of why nothing
			// ran.
			log.Info("Agent lock held elsewhere, recording failed manual trigger")
			e.recordLockedFire(ctx, sched, triggeredBy, log)
		default:
			log.Info("Skipping fire: agent lock held elsewhere")
		}
		return
	}
	defer func() {
		if err := l.Release(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to release agent lock")
		}
	}()

	ag, err := e.agents.GetAgent(ctx, sched.AgentName)
	if err != nil {
		log.WithError(err).Warn("Skipping fire: agent not registered")
		return
	}
	if !ag.AutonomyEnabled {
		log.Info("Skipping fire: agent autonomy disabled")
		return
	}

	exec := &schedule.Execution{
		ScheduleID:  sched.ID,
		AgentName:   sched.AgentName,
		Status:      schedule.ExecutionRunning,
		StartedAt:   e.now().UTC(),
		Message:     sched.Message,
		TriggeredBy: triggeredBy,
	}
	if err := e.schedules.CreateExecution(ctx, exec); err != nil {
		log.WithError(err).Error("Failed to create execution record")
		return
	}
	log = log.WithExecution(exec.ID)

	activityID := e.trackStart(ctx, sched, exec, triggeredBy, log)
	e.publishStarted(ctx, sched, exec, log)

	response, runErr := e.dispatch(ctx, sched, ag, exec)
	e.finalize(ctx, sched, exec, response, runErr, log)
	e.completeActivity(ctx, activityID, exec, log)
	e.publishCompleted(ctx, sched, exec, log)
	e.updateRunTimes(ctx, sched, log)
}

// recordLockedFire files a failed execution for a manual trigger that
// lost the per-agent lock. No events or activities are emitted; nothing
// started.
func (e *Executor) recordLockedFire(ctx context.Context, sched *schedule.Schedule, triggeredBy schedule.TriggeredBy, log *logger.Logger) {
	exec := &schedule.Execution{
		ScheduleID:  sched.ID,
		AgentName:   sched.AgentName,
		Status:      schedule.ExecutionRunning,
		StartedAt:   e.now().UTC(),
		Message:     sched.Message,
		TriggeredBy: triggeredBy,
	}
	if err := e.schedules.CreateExecution(ctx, exec); err != nil {
		log.WithError(err).Error("Failed to create execution record")
		return
	}
	e.finalize(ctx, sched, exec, nil, errors.New("locked: agent is locked by another execution"), log.WithExecution(exec.ID))
}

// dispatch routes the firing through the execution queue and, when the
// agent is free, posts the task to its runtime.
func (e *Executor) dispatch(ctx context.Context, sched *schedule.Schedule, ag *agent.Agent, exec *schedule.Execution) (*runtime.TaskResponse, error) {
	entry := e.queue.Create(queue.CreateParams{
		AgentName: sched.AgentName,
		Message:   sched.Message,
		Source:    queue.SourceSchedule,
	})
	if _, err := e.queue.Submit(ctx, entry, false); err != nil {
		var full *queue.QueueFullError
		if errors.As(err, &full) {
			return nil, fmt.Errorf("Agent queue full (%d waiting), skipping scheduled execution", full.QueueLength)
		}
		var busy *queue.AgentBusyError
		if errors.As(err, &busy) {
			return nil, errors.New("Agent busy")
		}
		return nil, err
	}
	defer func() {
		next, err := e.queue.Complete(context.Background(), sched.AgentName)
		if err != nil {
			e.log.WithAgent(sched.AgentName).WithError(err).Warn("Failed to release queue slot")
			return
		}
		if next != nil && e.dispatcher != nil {
			go e.dispatcher.Dispatch(context.Background(), next)
		}
	}()

	resp, err := e.runtimes(ag).Task(ctx, &runtime.TaskRequest{
		Message:        sched.Message,
		TimeoutSeconds: sched.TimeoutSeconds,
		AllowedTools:   sched.AllowedTools,
		ExecutionID:    exec.ID,
	})
	if err != nil {
		var reqErr *runtime.RequestError
		if errors.As(err, &reqErr) {
			return nil, fmt.Errorf("agent returned status %d: %s",
				reqErr.StatusCode, stringutil.TruncateWithEllipsis(reqErr.Body, 200))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("execution timed out after %d seconds", sched.TimeoutSeconds)
		}
		return nil, fmt.Errorf("Agent not reachable: %v", err)
	}
	return resp, nil
}

// finalize writes the terminal execution record with parsed metrics and
// the truncated response text.
func (e *Executor) finalize(ctx context.Context, sched *schedule.Schedule, exec *schedule.Execution, resp *runtime.TaskResponse, runErr error, log *logger.Logger) {
	now := e.now().UTC()
	duration := now.Sub(exec.StartedAt).Milliseconds()
	exec.CompletedAt = &now
	exec.DurationMS = &duration

	if runErr != nil {
		msg := runErr.Error()
		exec.Status = schedule.ExecutionFailed
		exec.Error = &msg
		log.WithError(runErr).Warn("Scheduled execution failed")
	} else {
		exec.Status = schedule.ExecutionSuccess
		exec.Response = stringutil.TruncateBytes(resp.ResponseText, e.cfg.ResponseTruncateSize)
		exec.ContextUsed = resp.Metrics.ContextUsed
		exec.ContextMax = resp.Metrics.ContextMax
		exec.Cost = resp.Metrics.CostUSD
		exec.ToolCalls = resp.Metrics.ToolCallsJSON
		exec.ExecutionLog = resp.Metrics.ExecutionLogJSON
		log.Info("Scheduled execution succeeded", zap.Int64("duration_ms", duration))
	}

	if err := e.schedules.UpdateExecution(ctx, exec); err != nil {
		log.WithError(err).Error("Failed to finalize execution record")
	}
}

// trackStart reports the schedule_start activity. Best-effort: an empty
// id means tracking was unavailable.
func (e *Executor) trackStart(ctx context.Context, sched *schedule.Schedule, exec *schedule.Execution, triggeredBy schedule.TriggeredBy, log *logger.Logger) string {
	id, err := e.tracker.Track(ctx, activity.TrackInput{
		AgentName:          sched.AgentName,
		ActivityType:       activity.TypeScheduleStart,
		TriggeredBy:        string(triggeredBy),
		RelatedExecutionID: &exec.ID,
		Details: map[string]interface{}{
			"schedule_name": sched.Name,
		},
	})
	if err != nil {
		log.WithError(err).Warn("Failed to track activity")
		return ""
	}
	return id
}

func (e *Executor) completeActivity(ctx context.Context, activityID string, exec *schedule.Execution, log *logger.Logger) {
	if activityID == "" {
		return
	}
	status := activity.StateCompleted
	if exec.Status == schedule.ExecutionFailed {
		status = activity.StateFailed
	}
	if err := e.tracker.Complete(ctx, activityID, activity.CompleteInput{
		Status: status,
		Error:  exec.Error,
	}); err != nil {
		log.WithError(err).Warn("Failed to complete activity")
	}
}

func (e *Executor) publishStarted(ctx context.Context, sched *schedule.Schedule, exec *schedule.Execution, log *logger.Logger) {
	if !e.cfg.PublishEvents {
		return
	}
	err := e.publisher.PublishStarted(ctx, StartedEvent{
		Agent:        sched.AgentName,
		ScheduleID:   sched.ID,
		ExecutionID:  exec.ID,
		ScheduleName: sched.Name,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to publish started event")
	}
}

func (e *Executor) publishCompleted(ctx context.Context, sched *schedule.Schedule, exec *schedule.Execution, log *logger.Logger) {
	if !e.cfg.PublishEvents {
		return
	}
	err := e.publisher.PublishCompleted(ctx, CompletedEvent{
		Agent:       sched.AgentName,
		ScheduleID:  sched.ID,
		ExecutionID: exec.ID,
		Status:      string(exec.Status),
		Error:       exec.Error,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to publish completed event")
	}
}

// updateRunTimes records the fire and schedules the next one.
func (e *Executor) updateRunTimes(ctx context.Context, sched *schedule.Schedule, log *logger.Logger) {
	now := e.now().UTC()
	next, err := schedule.NextRun(sched.CronExpression, sched.Timezone, now)
	var nextPtr *time.Time
	if err != nil {
		log.WithError(err).Warn("Failed to compute next run time")
	} else {
		nextPtr = &next
	}
	if err := e.schedules.UpdateRunTimes(ctx, sched.ID, &now, nextPtr); err != nil {
		log.WithError(err).Warn("Failed to update schedule run times")
	}
}
