package state

import (
	"fmt"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

// LoadTasksForRecovery returns every stored task ordered so that each task
// appears after all of its dependencies. Tasks whose dependencies reference
// rows that no longer exist are returned last, after everything resolvable.
func (db *DB) LoadTasksForRecovery() ([]*models.Task, error) {
	rows, err := db.ListTasks(nil)
	if err != nil {
		return nil, fmt.Errorf("loading tasks for recovery: %w", err)
	}

	tasks := make([]*models.Task, len(rows))
	byID := make(map[string]*models.Task, len(rows))
	for i := range rows {
		tasks[i] = &rows[i]
		byID[rows[i].ID] = tasks[i]
	}

	ordered := make([]*models.Task, 0, len(tasks))
	placed := make(map[string]bool, len(tasks))

	// Repeatedly sweep for tasks whose dependencies are all placed or
	// missing from the snapshot. Cycles cannot appear in committed state,
	// so the sweep always makes progress until only dangling refs remain.
	for len(ordered) < len(tasks) {
		progressed := false
		for _, t := range tasks {
			if placed[t.ID] {
				continue
			}
			ok := true
			for _, dep := range t.DependsOn {
				if _, known := byID[dep]; known && !placed[dep] {
					ok = false
					break
				}
			}
			if ok {
				ordered = append(ordered, t)
				placed[t.ID] = true
				progressed = true
			}
		}
		if !progressed {
			for _, t := range tasks {
				if !placed[t.ID] {
					ordered = append(ordered, t)
					placed[t.ID] = true
				}
			}
		}
	}
	return ordered, nil
}
