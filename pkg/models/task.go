package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been created but is not yet runnable.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are completed and the task can be claimed.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusInProgress indicates an agent has claimed the task and is working on it.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the most recent execution attempt failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the task is held and will not be scheduled.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusEscalated indicates retries are exhausted and manual intervention is required.
	TaskStatusEscalated TaskStatus = "escalated"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked, TaskStatusEscalated:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this status.
// Escalated tasks stay terminal until manual intervention recreates them.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusEscalated
}

// allowedTransitions is the task state machine. Each status maps to the set of
// statuses it may move to. Blocked is additionally reachable from any
// non-terminal status via a manual override (see CanTransitionTo).
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusReady, TaskStatusBlocked},
	TaskStatusReady:      {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusFailed:     {TaskStatusPending, TaskStatusEscalated},
	TaskStatusBlocked:    {TaskStatusPending},
}

// CanTransitionTo returns true if the state machine permits moving from s to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	// Manual override: any non-terminal status may be blocked.
	if next == TaskStatusBlocked && !s.Terminal() {
		return true
	}
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Payload is the opaque execution payload handed to the worker spawner.
	Payload string `json:"payload,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority is the base scheduling priority in [0.0, 1.0].
	Priority float64 `json:"priority"`
	// DependsOn lists task IDs that must complete before this task becomes ready.
	DependsOn []string `json:"depends_on,omitempty"`
	// AssignedAgent is the ID of the agent working on this task.
	// Set if and only if Status is in_progress.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// Capability is the agent capability required to run this task.
	// Empty means any agent may run it.
	Capability string `json:"capability,omitempty"`
	// ManualOverride marks the task as manually prioritized.
	ManualOverride bool `json:"manual_override,omitempty"`
	// OwnerID identifies who submitted the task.
	OwnerID string `json:"owner_id,omitempty"`
	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count,omitempty"`
	// MaxRetries bounds how many times a failed task cycles back to pending.
	MaxRetries int `json:"max_retries"`
	// BlockedReason records why the task is blocked, if applicable.
	BlockedReason string `json:"blocked_reason,omitempty"`
	// Error contains the error message from the most recent failure.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Age returns how long the task has existed as of now.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}
