// Package state provides SQLite-based persistence for dispatch.
package state

import (
	"io"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

// AgentStore handles agent-related persistence operations.
type AgentStore interface {
	UpsertAgent(a *models.Agent) error
	GetAgent(id string) (*models.Agent, error)
	ListAgents() ([]models.Agent, error)
}

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	UpsertTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	DeleteTask(id string) error
	ListTasks(status *models.TaskStatus) ([]models.Task, error)
	CompareAndSetTaskStatus(id string, from, to models.TaskStatus) (bool, error)
}

// FailoverStore handles failover event persistence.
type FailoverStore interface {
	SaveFailoverEvent(e *models.FailoverEvent) error
	ListFailoverEvents() ([]models.FailoverEvent, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for durable persistence.
// This interface allows the core to work with any backend without depending
// on the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	AgentStore
	TaskStore
	FailoverStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ AgentStore    = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ FailoverStore = (*DB)(nil)
)
