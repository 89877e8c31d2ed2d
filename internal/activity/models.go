// Package activity records the unified observability trail: one record
// per agent-visible action (scheduled firing, chat turn, agent call),
// with a started/completed/failed lifecycle.
package activity

import "time"

// State is the lifecycle state of an activity. Transitions are strictly
// monotonic: started -> completed or started -> failed.
type State string

const (
	StateStarted   State = "started"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Common activity types.
const (
	TypeScheduleStart      = "schedule_start"
	TypeChatStart          = "chat_start"
	TypeAgentCollaboration = "agent_collaboration"
)

// Activity is one tracked action.
type Activity struct {
	ID                 string                 `json:"id"`
	AgentName          string                 `json:"agent_name"`
	ActivityType       string                 `json:"activity_type"`
	ActivityState      State                  `json:"activity_state"`
	UserID             string                 `json:"user_id,omitempty"`
	TriggeredBy        string                 `json:"triggered_by,omitempty"`
	RelatedExecutionID *string                `json:"related_execution_id,omitempty"`
	StartedAt          time.Time              `json:"started_at"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
	DurationMS         *int64                 `json:"duration_ms,omitempty"`
	Error              *string                `json:"error,omitempty"`
	Details            map[string]interface{} `json:"details,omitempty"`
}

// TrackInput creates a new started activity.
type TrackInput struct {
	AgentName          string                 `json:"agent_name" binding:"required"`
	ActivityType       string                 `json:"activity_type" binding:"required"`
	UserID             string                 `json:"user_id"`
	TriggeredBy        string                 `json:"triggered_by"`
	RelatedExecutionID *string                `json:"related_execution_id"`
	Details            map[string]interface{} `json:"details"`
}

// CompleteInput moves a started activity to a terminal state.
type CompleteInput struct {
	Status  State                  `json:"status" binding:"required"`
	Error   *string                `json:"error"`
	Details map[string]interface{} `json:"details"`
}
