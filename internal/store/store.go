// Package store holds the shared task state and enforces the task state
// machine. All mutations go through its operations; claims are atomic so at
// most one agent ever holds a task.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/graph"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

var (
	// ErrUnknownTask indicates an operation on a task ID that does not exist.
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrAlreadyClaimed indicates a claim lost to a concurrent claimant.
	// Expected under contention; callers just ask for the next task.
	ErrAlreadyClaimed = errors.New("task already claimed")
	// ErrNotOwner indicates a completion or failure report from an agent that
	// does not hold the task.
	ErrNotOwner = errors.New("agent does not own task")
	// ErrRetryExhausted indicates a failed task has no retry budget left.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrHasDependents indicates a cancellation of a task other tasks still
	// depend on. Cancel the dependents first.
	ErrHasDependents = errors.New("task has dependents")
)

// DefaultMaxRetries bounds the failed -> pending retry cycle when a task does
// not specify its own limit.
const DefaultMaxRetries = 3

// Persister is the durable-store collaborator. Implementations must be
// idempotent; the store treats persistence as write-through and never lets a
// persistence failure block a state transition.
type Persister interface {
	UpsertTask(t *models.Task) error
	DeleteTask(id string) error
}

// Store is the in-memory task store backed by an optional Persister.
type Store struct {
	mu       sync.Mutex
	tasks    map[string]*models.Task
	resolver *graph.Resolver
	clk      clock.Clock

	persist Persister
	// onEscalate fires exactly once per escalation, never per retry.
	onEscalate func(t models.Task)
	// debugLog is an optional logging hook.
	debugLog func(format string, args ...interface{})
}

// New creates a Store using the given clock.
func New(clk clock.Clock) *Store {
	return &Store{
		tasks:    make(map[string]*models.Task),
		resolver: graph.New(),
		clk:      clk,
		debugLog: func(string, ...interface{}) {},
	}
}

// SetPersister sets the write-through persistence collaborator.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = p
}

// SetEscalationHook sets the callback invoked when a task escalates.
func (s *Store) SetEscalationHook(fn func(t models.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEscalate = fn
}

// SetDebugLog sets the debug logging function.
func (s *Store) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.debugLog = fn
	}
}

// Create registers a new task. The task enters pending, or ready immediately
// if it has no unmet dependencies. Returns graph.ErrCyclicDependency if the
// task's dependencies would form a cycle.
func (s *Store) Create(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if t.Status != models.TaskStatusPending {
		return fmt.Errorf("%w: tasks are created pending, got %s", ErrInvalidTransition, t.Status)
	}
	if t.Priority < 0 || t.Priority > 1 {
		return fmt.Errorf("priority %v out of range [0,1]", t.Priority)
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clk.Now()
	}

	if err := s.resolver.Add(t.ID, t.DependsOn); err != nil {
		return err
	}

	if s.resolver.IsReady(t.ID) {
		t.Status = models.TaskStatusReady
	}

	s.tasks[t.ID] = t
	s.debugLog("[store] created task %s status=%s deps=%v", t.ID, t.Status, t.DependsOn)
	s.persistLocked(t)
	return nil
}

// Restore re-registers a task loaded from the durable store at startup.
// Completed tasks are folded into the resolver so surviving dependents see
// them; in_progress tasks lose their assignment and return to ready, since
// the previous process and its claims are gone. Tasks must be restored in
// dependency order.
func (s *Store) Restore(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	if err := s.resolver.Add(t.ID, t.DependsOn); err != nil {
		return err
	}

	switch t.Status {
	case models.TaskStatusCompleted:
		s.resolver.MarkComplete(t.ID)
	case models.TaskStatusInProgress:
		t.Status = models.TaskStatusReady
		t.AssignedAgent = ""
	case models.TaskStatusPending:
		if s.resolver.IsReady(t.ID) {
			t.Status = models.TaskStatusReady
		}
	}

	s.tasks[t.ID] = t
	s.debugLog("[store] restored task %s status=%s", t.ID, t.Status)
	s.persistLocked(t)
	return nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return models.Task{}, ErrUnknownTask
	}
	return copyTask(t), nil
}

// List returns copies of all tasks ordered by creation time.
func (s *Store) List() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListByStatus returns copies of all tasks with the given status, ordered by
// creation time.
func (s *Store) ListByStatus(status models.TaskStatus) []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DependentCount returns how many tasks depend on the given task.
func (s *Store) DependentCount(taskID string) int {
	return s.resolver.DependentCount(taskID)
}

// setStatusLocked applies a transition after checking the state machine.
// Caller must hold s.mu.
func (s *Store) setStatusLocked(t *models.Task, next models.TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrInvalidTransition, t.Status, next, t.ID)
	}
	s.debugLog("[store] task %s: %s -> %s", t.ID, t.Status, next)
	t.Status = next
	return nil
}

// persistLocked writes the task through to the persister. Persistence errors
// are logged and never fail the transition they accompany.
func (s *Store) persistLocked(t *models.Task) {
	if s.persist == nil {
		return
	}
	if err := s.persist.UpsertTask(t); err != nil {
		s.debugLog("[store] persist task %s: %v", t.ID, err)
	}
}

func copyTask(t *models.Task) models.Task {
	out := *t
	out.DependsOn = append([]string(nil), t.DependsOn...)
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}
