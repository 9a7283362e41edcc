// Package graph provides the dependency resolver for task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCyclicDependency indicates a task would depend, directly or transitively,
// on itself.
var ErrCyclicDependency = errors.New("cyclic dependency detected")

// Resolver tracks task dependency edges and answers readiness queries.
// Tasks are nodes; edges represent "blocked by" relationships. Readiness is
// re-evaluated by pushing completions through the dependents index, so the
// cost of a completion is proportional to the number of dependents touched.
type Resolver struct {
	mu sync.RWMutex
	// deps maps task ID to IDs of tasks it depends on.
	deps map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		completed:  make(map[string]bool),
	}
}

// Add registers a task and its dependencies. Dependencies must already be
// registered. Returns ErrCyclicDependency if the new edges would close a
// cycle; the graph is left unchanged in that case.
func (r *Resolver) Add(taskID string, dependsOn []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.deps[taskID]; exists {
		return fmt.Errorf("task %s already registered", taskID)
	}
	for _, depID := range dependsOn {
		if depID == taskID {
			return ErrCyclicDependency
		}
		if _, exists := r.deps[depID]; !exists {
			return fmt.Errorf("task %s depends on unknown task %s", taskID, depID)
		}
	}

	// Tentatively insert, then check for cycles. A cycle through the new node
	// must pass through its outgoing edges, so a full-graph DFS is sufficient
	// and only runs on task creation.
	r.deps[taskID] = append([]string(nil), dependsOn...)
	if r.hasCycleLocked() {
		delete(r.deps, taskID)
		return ErrCyclicDependency
	}

	for _, depID := range dependsOn {
		r.dependents[depID] = append(r.dependents[depID], taskID)
	}
	return nil
}

// Remove deletes a task and its edges. Used when a task is cancelled.
func (r *Resolver) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, depID := range r.deps[taskID] {
		out := r.dependents[depID][:0]
		for _, id := range r.dependents[depID] {
			if id != taskID {
				out = append(out, id)
			}
		}
		r.dependents[depID] = out
	}
	delete(r.deps, taskID)
	delete(r.dependents, taskID)
	delete(r.completed, taskID)
}

// hasCycleLocked detects cycles with a depth-first search using coloring.
// Caller must hold r.mu.
func (r *Resolver) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(r.deps))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range r.deps[id] {
			switch colors[depID] {
			case 1:
				// Back edge, cycle found.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range r.deps {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// IsReady returns true if every dependency of the task is completed.
// Unregistered tasks are never ready.
func (r *Resolver) IsReady(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isReadyLocked(taskID)
}

func (r *Resolver) isReadyLocked(taskID string) bool {
	deps, exists := r.deps[taskID]
	if !exists {
		return false
	}
	for _, depID := range deps {
		if !r.completed[depID] {
			return false
		}
	}
	return true
}

// MarkComplete records a completion and returns the IDs of dependents whose
// dependencies are now all completed. Only the completed task's dependents
// are re-evaluated.
func (r *Resolver) MarkComplete(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completed[taskID] {
		return nil
	}
	r.completed[taskID] = true

	var unblocked []string
	for _, depID := range r.dependents[taskID] {
		if !r.completed[depID] && r.isReadyLocked(depID) {
			unblocked = append(unblocked, depID)
		}
	}
	return unblocked
}

// Dependents returns the IDs of tasks that depend on the given task.
func (r *Resolver) Dependents(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.dependents[taskID]...)
}

// DependentCount returns how many tasks depend on the given task.
// Used by the scheduler's dependency bonus.
func (r *Resolver) DependentCount(taskID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dependents[taskID])
}

// Size returns the number of registered tasks.
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deps)
}
