package store

import (
	"fmt"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

// Claim atomically moves a ready task to in_progress and assigns it to the
// agent. Exactly one concurrent caller succeeds; losers receive
// ErrAlreadyClaimed and the task is left untouched.
func (s *Store) Claim(taskID, agentID string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return models.Task{}, ErrUnknownTask
	}
	if t.Status == models.TaskStatusInProgress {
		return models.Task{}, fmt.Errorf("%w: task %s held by %s", ErrAlreadyClaimed, taskID, t.AssignedAgent)
	}
	if err := s.setStatusLocked(t, models.TaskStatusInProgress); err != nil {
		return models.Task{}, err
	}
	t.AssignedAgent = agentID
	s.persistLocked(t)
	return copyTask(t), nil
}

// Complete records a successful execution report. Only the current assignee
// may complete a task. Dependents whose dependencies are now all completed
// are promoted to ready in the same operation.
func (s *Store) Complete(taskID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return ErrUnknownTask
	}
	if t.Status == models.TaskStatusInProgress && t.AssignedAgent != agentID {
		return fmt.Errorf("%w: task %s held by %s, reported by %s", ErrNotOwner, taskID, t.AssignedAgent, agentID)
	}
	if err := s.setStatusLocked(t, models.TaskStatusCompleted); err != nil {
		return err
	}
	t.AssignedAgent = ""
	t.Error = ""
	now := s.clk.Now()
	t.CompletedAt = &now
	s.persistLocked(t)

	s.promoteDependentsLocked(taskID)
	return nil
}

// Fail records a failed execution report. Only the current assignee may fail
// a task. Within the retry budget the task cycles back to pending (and to
// ready if its dependencies are still satisfied); once the budget is spent it
// escalates, firing the escalation hook exactly once.
func (s *Store) Fail(taskID, agentID, reason string) error {
	s.mu.Lock()

	t, exists := s.tasks[taskID]
	if !exists {
		s.mu.Unlock()
		return ErrUnknownTask
	}
	if t.Status == models.TaskStatusInProgress && t.AssignedAgent != agentID {
		s.mu.Unlock()
		return fmt.Errorf("%w: task %s held by %s, reported by %s", ErrNotOwner, taskID, t.AssignedAgent, agentID)
	}
	if t.Status == models.TaskStatusEscalated {
		s.mu.Unlock()
		return fmt.Errorf("%w: task %s", ErrRetryExhausted, taskID)
	}
	if err := s.setStatusLocked(t, models.TaskStatusFailed); err != nil {
		s.mu.Unlock()
		return err
	}
	t.AssignedAgent = ""
	t.Error = reason
	t.RetryCount++

	var escalated models.Task
	var escalate func(models.Task)
	if t.RetryCount > t.MaxRetries {
		// Retry budget spent: escalated is terminal until manual intervention.
		if err := s.setStatusLocked(t, models.TaskStatusEscalated); err != nil {
			s.mu.Unlock()
			return err
		}
		escalated = copyTask(t)
		escalate = s.onEscalate
	} else {
		if err := s.setStatusLocked(t, models.TaskStatusPending); err != nil {
			s.mu.Unlock()
			return err
		}
		if s.resolver.IsReady(t.ID) {
			if err := s.setStatusLocked(t, models.TaskStatusReady); err != nil {
				s.mu.Unlock()
				return err
			}
		}
	}
	s.persistLocked(t)
	s.mu.Unlock()

	// Hook runs outside the lock; it may call back into the store.
	if escalate != nil {
		escalate(escalated)
	}
	return nil
}

// Block applies a manual hold. Any task that is not completed or escalated
// may be blocked; an in_progress task loses its assignment.
func (s *Store) Block(taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return ErrUnknownTask
	}
	if err := s.setStatusLocked(t, models.TaskStatusBlocked); err != nil {
		return err
	}
	t.AssignedAgent = ""
	t.BlockedReason = reason
	s.persistLocked(t)
	return nil
}

// Release lifts a manual hold, returning the task to pending, then to ready
// if its dependencies are satisfied.
func (s *Store) Release(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return ErrUnknownTask
	}
	if err := s.setStatusLocked(t, models.TaskStatusPending); err != nil {
		return err
	}
	t.BlockedReason = ""
	if s.resolver.IsReady(t.ID) {
		if err := s.setStatusLocked(t, models.TaskStatusReady); err != nil {
			return err
		}
	}
	s.persistLocked(t)
	return nil
}

// ForceRelease returns an in_progress task to ready, discarding its
// assignment. Used by orphan detection when the assignee is classified
// failed. Racing force-releases are safe: the loser observes the task no
// longer in_progress and gets ErrInvalidTransition.
func (s *Store) ForceRelease(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return ErrUnknownTask
	}
	if t.Status != models.TaskStatusInProgress {
		return fmt.Errorf("%w: force release of %s task %s", ErrInvalidTransition, t.Status, taskID)
	}
	s.debugLog("[store] force releasing task %s from agent %s", taskID, t.AssignedAgent)
	t.Status = models.TaskStatusReady
	t.AssignedAgent = ""
	s.persistLocked(t)
	return nil
}

// Cancel removes a task that has not started. Only pending, ready, and
// blocked tasks may be cancelled; cancelling an in_progress task requires a
// ForceRelease first so a racing completion report cannot be lost. A task
// with live dependents cannot be cancelled, otherwise those dependents would
// wait forever on a completion that can no longer happen.
func (s *Store) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return ErrUnknownTask
	}
	switch t.Status {
	case models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusBlocked:
	default:
		return fmt.Errorf("%w: cancel of %s task %s", ErrInvalidTransition, t.Status, taskID)
	}
	if n := s.resolver.DependentCount(taskID); n > 0 {
		return fmt.Errorf("%w: task %s has %d dependent(s)", ErrHasDependents, taskID, n)
	}
	s.resolver.Remove(taskID)
	delete(s.tasks, taskID)
	if s.persist != nil {
		if err := s.persist.DeleteTask(taskID); err != nil {
			s.debugLog("[store] delete task %s: %v", taskID, err)
		}
	}
	return nil
}

// promoteDependentsLocked pushes a completion into the resolver and promotes
// newly unblocked pending tasks to ready. Caller must hold s.mu.
func (s *Store) promoteDependentsLocked(taskID string) {
	for _, depID := range s.resolver.MarkComplete(taskID) {
		dep, exists := s.tasks[depID]
		if !exists || dep.Status != models.TaskStatusPending {
			// Blocked or already-moved dependents stay where they are;
			// Release re-evaluates readiness when the hold lifts.
			continue
		}
		if err := s.setStatusLocked(dep, models.TaskStatusReady); err != nil {
			continue
		}
		s.persistLocked(dep)
	}
}
