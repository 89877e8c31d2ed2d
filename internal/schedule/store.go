package schedule

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a schedule or execution does not exist.
var ErrNotFound = errors.New("schedule not found")

// Repository is the persistence boundary for schedules and executions.
// The control plane owns configuration writes; the scheduler only
// touches bookkeeping (last_run_at/next_run_at) and execution records.
type Repository interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, agentName string) ([]*Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id string) error

	// UpdateRunTimes refreshes the bookkeeping fields after a fire.
	// A nil nextRunAt clears next_run_at.
	UpdateRunTimes(ctx context.Context, id string, lastRunAt *time.Time, nextRunAt *time.Time) error

	CreateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*Execution, error)
	UpdateExecution(ctx context.Context, e *Execution) error
}
