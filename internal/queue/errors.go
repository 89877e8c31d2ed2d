package queue

import "fmt"

// QueueFullError is returned when the wait list is at capacity. Chat
// callers map it to HTTP 429; the scheduler records a failed execution.
type QueueFullError struct {
	AgentName   string
	QueueLength int
	// RetryAfterSeconds hints when retrying may find room: the running
	// slot's TTL bounds how long the current execution can hold it.
	RetryAfterSeconds int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue for agent %s is full (%d waiting)", e.AgentName, e.QueueLength)
}

// AgentBusyError is returned when the running slot is occupied and the
// caller declined to wait.
type AgentBusyError struct {
	AgentName string
	Current   *Entry
}

func (e *AgentBusyError) Error() string {
	return fmt.Sprintf("agent %s is busy", e.AgentName)
}
