// Package supervisor wires the heartbeat tracker, failover supervisor, task
// store, and scheduler into the tick-driven control loop.
package supervisor

import (
	"time"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

// EventType represents the type of supervisor event.
type EventType string

const (
	// EventTaskCreated indicates a task was registered with the store.
	EventTaskCreated EventType = "task_created"
	// EventTaskEscalated indicates a task exhausted its retries.
	EventTaskEscalated EventType = "task_escalated"
	// EventOrphanReleased indicates a stuck task was force-released.
	EventOrphanReleased EventType = "orphan_released"
	// EventAgentClassified indicates an agent's liveness verdict changed.
	EventAgentClassified EventType = "agent_classified"
	// EventFailoverActivated indicates the stand-in took over routing.
	EventFailoverActivated EventType = "failover_activated"
	// EventFailoverRecovered indicates the coordinator resumed routing.
	EventFailoverRecovered EventType = "failover_recovered"
)

// Event represents an observable state change in the supervisor.
// Observers drain these to drive status displays and operator tooling.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Classification carries the new verdict for agent_classified events.
	Classification models.Classification
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
