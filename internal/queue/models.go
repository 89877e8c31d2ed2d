// Package queue implements the per-agent execution queue: a running slot
// plus a bounded FIFO wait list, so the downstream agent runtime observes
// at most one in-flight task per agent.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies what triggered a queue entry.
type Source string

const (
	SourceUser     Source = "user"
	SourceSchedule Source = "schedule"
	SourceAgent    Source = "agent"
)

// EntryStatus is the lifecycle state of a queue entry.
type EntryStatus string

const (
	StatusQueued    EntryStatus = "queued"
	StatusRunning   EntryStatus = "running"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
	StatusTimeout   EntryStatus = "timeout"
)

// Entry is one execution request for an agent. Entries are ephemeral:
// they live in the backing store only while queued or running.
type Entry struct {
	ID              string      `json:"id"`
	AgentName       string      `json:"agent_name"`
	Source          Source      `json:"source"`
	SourceAgent     string      `json:"source_agent,omitempty"`
	SourceUserID    string      `json:"source_user_id,omitempty"`
	SourceUserEmail string      `json:"source_user_email,omitempty"`
	Message         string      `json:"message"`
	QueuedAt        time.Time   `json:"queued_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	Status          EntryStatus `json:"status"`
}

// CreateParams holds the caller-supplied fields for a new entry.
type CreateParams struct {
	AgentName       string
	Message         string
	Source          Source
	SourceAgent     string
	SourceUserID    string
	SourceUserEmail string
}

// NewEntry allocates a queue entry. No store mutation happens until the
// entry is submitted.
func NewEntry(p CreateParams) *Entry {
	return &Entry{
		ID:              uuid.New().String(),
		AgentName:       p.AgentName,
		Source:          p.Source,
		SourceAgent:     p.SourceAgent,
		SourceUserID:    p.SourceUserID,
		SourceUserEmail: p.SourceUserEmail,
		Message:         p.Message,
		QueuedAt:        time.Now().UTC(),
		Status:          StatusQueued,
	}
}

// SubmitState describes where a submitted entry landed.
type SubmitState string

const (
	SubmitStateRunning SubmitState = "running"
	SubmitStateQueued  SubmitState = "queued"
)

// SubmitResult is the outcome of a successful Submit.
type SubmitResult struct {
	State    SubmitState `json:"state"`
	Position int         `json:"position"` // 0-based wait-list index; meaningful when queued
	Entry    *Entry      `json:"entry"`
}

// Status is a point-in-time snapshot of one agent's queue.
type Status struct {
	AgentName   string   `json:"agent_name"`
	Running     *Entry   `json:"running,omitempty"`
	Waiting     []*Entry `json:"waiting"`
	QueueLength int      `json:"queue_length"`
	MaxSize     int      `json:"max_size"`
}
