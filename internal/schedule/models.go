// Package schedule holds cron schedule configuration and the execution
// records produced when schedules fire.
package schedule

import "time"

// Timeout bounds for a single scheduled execution, in seconds.
const (
	MinTimeoutSeconds     = 300
	MaxTimeoutSeconds     = 7200
	DefaultTimeoutSeconds = 900
)

// Schedule is one cron-triggered task definition for an agent.
//
// AllowedTools distinguishes absent from empty: nil means the execution
// runs unrestricted, an empty slice means no tools at all.
type Schedule struct {
	ID             string     `json:"id"`
	AgentName      string     `json:"agent_name"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	Message        string     `json:"message"`
	Enabled        bool       `json:"enabled"`
	Timezone       string     `json:"timezone"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	AllowedTools   *[]string  `json:"allowed_tools,omitempty"`
	OwnerID        string     `json:"owner_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}

// ExecutionStatus is the lifecycle state of an execution record.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// TriggeredBy identifies what started an execution.
type TriggeredBy string

const (
	TriggeredBySchedule TriggeredBy = "schedule"
	TriggeredByManual   TriggeredBy = "manual"
)

// Execution is the persisted record of one firing of a schedule.
type Execution struct {
	ID          string          `json:"id"`
	ScheduleID  string          `json:"schedule_id"`
	AgentName   string          `json:"agent_name"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMS  *int64          `json:"duration_ms,omitempty"`
	Message     string          `json:"message"`
	Response    string          `json:"response,omitempty"`
	Error       *string         `json:"error,omitempty"`
	TriggeredBy TriggeredBy     `json:"triggered_by"`

	// Observability fields parsed from the runtime's reply.
	ContextUsed  int     `json:"context_used,omitempty"`
	ContextMax   int     `json:"context_max,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	ToolCalls    string  `json:"tool_calls,omitempty"`
	ExecutionLog string  `json:"execution_log,omitempty"`
}

// Terminal reports whether the execution reached a final status.
func (e *Execution) Terminal() bool {
	return e.Status == ExecutionSuccess || e.Status == ExecutionFailed
}

// Fingerprint captures the fields the scheduler must re-register a job
// for when they change.
type Fingerprint struct {
	Cron         string
	Timezone     string
	Timeout      int
	AllowedTools string
}

// FingerprintOf derives the reconciliation fingerprint of a schedule.
func FingerprintOf(s *Schedule) Fingerprint {
	tools := ""
	if s.AllowedTools != nil {
		tools = "["
		for i, t := range *s.AllowedTools {
			if i > 0 {
				tools += ","
			}
			tools += t
		}
		tools += "]"
	}
	return Fingerprint{
		Cron:         s.CronExpression,
		Timezone:     s.Timezone,
		Timeout:      s.TimeoutSeconds,
		AllowedTools: tools,
	}
}
