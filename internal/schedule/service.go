package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
)

// Service is the control plane's schedule configuration API. It owns
// validation and next_run_at bookkeeping; the scheduler service reads
// whatever this writes.
type Service struct {
	repo Repository
	log  *logger.Logger
	now  func() time.Time
}

// NewService creates the schedule service.
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// CreateInput is the caller-facing shape for creating a schedule.
type CreateInput struct {
	AgentName      string    `json:"agent_name" binding:"required"`
	Name           string    `json:"name" binding:"required"`
	CronExpression string    `json:"cron_expression" binding:"required"`
	Message        string    `json:"message" binding:"required"`
	Enabled        *bool     `json:"enabled"`
	Timezone       string    `json:"timezone"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	AllowedTools   *[]string `json:"allowed_tools"`
	OwnerID        string    `json:"owner_id"`
}

// UpdateInput carries the mutable schedule fields. Nil pointers leave
// the stored value untouched.
type UpdateInput struct {
	Name           *string   `json:"name"`
	CronExpression *string   `json:"cron_expression"`
	Message        *string   `json:"message"`
	Enabled        *bool     `json:"enabled"`
	Timezone       *string   `json:"timezone"`
	TimeoutSeconds *int      `json:"timeout_seconds"`
	AllowedTools   *[]string `json:"allowed_tools"`
}

// ValidationError marks a caller mistake; handlers map it to HTTP 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Create validates and persists a new schedule, computing next_run_at
// when it is enabled.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Schedule, error) {
	if err := ValidateCron(in.CronExpression); err != nil {
		return nil, &ValidationError{Field: "cron_expression", Reason: err.Error()}
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if err := ValidateTimezone(tz); err != nil {
		return nil, &ValidationError{Field: "timezone", Reason: err.Error()}
	}
	timeout := in.TimeoutSeconds
	if timeout == 0 {
		timeout = DefaultTimeoutSeconds
	}
	if timeout < MinTimeoutSeconds || timeout > MaxTimeoutSeconds {
		return nil, &ValidationError{
			Field:  "timeout_seconds",
			Reason: fmt.Sprintf("must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds),
		}
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	sched := &Schedule{
		AgentName:      in.AgentName,
		Name:           in.Name,
		CronExpression: in.CronExpression,
		Message:        in.Message,
		Enabled:        enabled,
		Timezone:       tz,
		TimeoutSeconds: timeout,
		AllowedTools:   in.AllowedTools,
		OwnerID:        in.OwnerID,
	}
	if enabled {
		next, err := NextRun(sched.CronExpression, sched.Timezone, s.now())
		if err != nil {
			return nil, err
		}
		sched.NextRunAt = &next
	}

	if err := s.repo.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.log.WithSchedule(sched.ID).WithAgent(sched.AgentName).Info("Schedule created",
		zap.String("cron", sched.CronExpression), zap.String("timezone", sched.Timezone))
	return sched, nil
}

// Update applies the provided fields, re-validates, and recomputes
// next_run_at (cleared when the schedule ends up disabled).
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Schedule, error) {
	sched, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		sched.Name = *in.Name
	}
	if in.CronExpression != nil {
		sched.CronExpression = *in.CronExpression
	}
	if in.Message != nil {
		sched.Message = *in.Message
	}
	if in.Enabled != nil {
		sched.Enabled = *in.Enabled
	}
	if in.Timezone != nil {
		sched.Timezone = *in.Timezone
	}
	if in.TimeoutSeconds != nil {
		sched.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.AllowedTools != nil {
		sched.AllowedTools = in.AllowedTools
	}

	if err := ValidateCron(sched.CronExpression); err != nil {
		return nil, &ValidationError{Field: "cron_expression", Reason: err.Error()}
	}
	if err := ValidateTimezone(sched.Timezone); err != nil {
		return nil, &ValidationError{Field: "timezone", Reason: err.Error()}
	}
	if sched.TimeoutSeconds < MinTimeoutSeconds || sched.TimeoutSeconds > MaxTimeoutSeconds {
		return nil, &ValidationError{
			Field:  "timeout_seconds",
			Reason: fmt.Sprintf("must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds),
		}
	}

	if sched.Enabled {
		next, err := NextRun(sched.CronExpression, sched.Timezone, s.now())
		if err != nil {
			return nil, err
		}
		sched.NextRunAt = &next
	} else {
		sched.NextRunAt = nil
	}

	if err := s.repo.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.log.WithSchedule(sched.ID).Info("Schedule updated", zap.Bool("enabled", sched.Enabled))
	return sched, nil
}

// Get returns one schedule by id.
func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

// List returns the agent's schedules.
func (s *Service) List(ctx context.Context, agentName string) ([]*Schedule, error) {
	return s.repo.ListSchedules(ctx, agentName)
}

// Delete removes a schedule; its execution history is kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.log.WithSchedule(id).Info("Schedule deleted")
	return nil
}

// Executions lists the most recent executions of a schedule.
func (s *Service) Executions(ctx context.Context, scheduleID string, limit int) ([]*Execution, error) {
	return s.repo.ListExecutions(ctx, scheduleID, limit)
}
