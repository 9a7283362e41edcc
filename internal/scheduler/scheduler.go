// Package scheduler orders ready tasks by computed weight and hands the next
// eligible task to a requesting agent.
package scheduler

import (
	"errors"
	"sort"
	"time"

	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/store"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

const (
	// manualOverrideBonus is added when an operator has flagged the task.
	manualOverrideBonus = 0.5
	// ageDecayPerDay is subtracted per day since the task was created.
	ageDecayPerDay = 0.1
	// dependencyBonusPer is added per task depending on this one.
	dependencyBonusPer = 0.1
)

// Scheduler selects the next task for an agent. It never mutates task state
// itself beyond delegating the claim to the store, which keeps claims
// linearizable per task.
type Scheduler struct {
	store *store.Store
	clk   clock.Clock
}

// New creates a Scheduler over the given store.
func New(st *store.Store, clk clock.Clock) *Scheduler {
	return &Scheduler{store: st, clk: clk}
}

// Weight computes the scheduling weight for a task at the given instant:
// base priority, plus the manual override bonus, minus age decay, plus the
// dependency bonus, clamped once to [0, 1] after summing all terms.
func (s *Scheduler) Weight(t *models.Task, now time.Time) float64 {
	w := t.Priority
	if t.ManualOverride {
		w += manualOverrideBonus
	}
	ageDays := t.Age(now).Hours() / 24
	w -= ageDecayPerDay * ageDays
	w += dependencyBonusPer * float64(s.store.DependentCount(t.ID))
	return clamp(w)
}

// NextTask returns the highest-weight ready task matching any of the agent's
// capabilities, claimed for that agent. All capabilities are ranked in one
// pass, so a lower-weight task never wins on capability listing order. An
// empty capability set serves any task. Ties break on earliest creation time.
// Returns (nil, nil) when no eligible task exists; that is a normal outcome,
// not an error. Tasks lost to concurrent claimants are skipped silently.
func (s *Scheduler) NextTask(agentID string, capabilities []string) (*models.Task, error) {
	now := s.clk.Now()

	capSet := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = true
	}

	ready := s.store.ListByStatus(models.TaskStatusReady)
	var candidates []models.Task
	for _, t := range ready {
		if t.Capability == "" || len(capabilities) == 0 || capSet[t.Capability] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// ListByStatus returns tasks in creation order, so a stable sort on
	// weight preserves FIFO fairness between equal weights.
	sort.SliceStable(candidates, func(i, j int) bool {
		return s.Weight(&candidates[i], now) > s.Weight(&candidates[j], now)
	})

	for i := range candidates {
		claimed, err := s.store.Claim(candidates[i].ID, agentID)
		if err == nil {
			return &claimed, nil
		}
		if errors.Is(err, store.ErrAlreadyClaimed) || errors.Is(err, store.ErrInvalidTransition) {
			// Lost the race; try the next candidate.
			continue
		}
		return nil, err
	}
	return nil, nil
}

func clamp(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
