// Package heartbeat tracks per-agent liveness across two independent channels
// and classifies each agent as healthy, stale, or failed.
package heartbeat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

var (
	// ErrUnknownAgent indicates a sample for an agent that was never registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrUnknownChannel indicates a sample on a channel that is neither infra
	// nor functional.
	ErrUnknownChannel = errors.New("unknown heartbeat channel")
)

// Thresholds holds the per-channel staleness thresholds. A channel is stale
// once its last sample is older than the threshold and failed once it is older
// than twice the threshold.
type Thresholds struct {
	// Infra is the sidecar pulse threshold.
	Infra time.Duration
	// Functional is the task-claim pulse threshold.
	Functional time.Duration
}

// DefaultThresholds returns the standard channel thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Infra:      120 * time.Second,
		Functional: 90 * time.Second,
	}
}

// threshold returns the staleness threshold for the given channel.
func (t Thresholds) threshold(ch models.Channel) time.Duration {
	if ch == models.ChannelInfra {
		return t.Infra
	}
	return t.Functional
}

// ChangeFunc is invoked when an agent's combined classification changes.
type ChangeFunc func(agentID string, from, to models.Classification)

// samples holds the latest sample per channel for one agent.
type samples struct {
	infra      time.Time
	functional time.Time
}

// Tracker records heartbeat samples and classifies agents.
// Recording and classification are in-memory map operations under a mutex so
// they complete in bounded time and never queue behind task work.
type Tracker struct {
	mu         sync.RWMutex
	thresholds Thresholds
	agents     map[string]*samples
	// last is the combined classification observed at the previous sweep,
	// used to detect changes for subscribers.
	last map[string]models.Classification
	subs []ChangeFunc
}

// NewTracker creates a Tracker with the given thresholds.
func NewTracker(thresholds Thresholds) *Tracker {
	return &Tracker{
		thresholds: thresholds,
		agents:     make(map[string]*samples),
		last:       make(map[string]models.Classification),
	}
}

// Register adds an agent, seeding both channels at now so a freshly
// provisioned agent starts healthy. Registering twice is a no-op.
func (t *Tracker) Register(agentID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.agents[agentID]; exists {
		return
	}
	t.agents[agentID] = &samples{infra: now, functional: now}
	t.last[agentID] = models.Healthy
}

// Record stores the latest sample for the agent and channel. Samples on an
// unknown channel are rejected rather than dropped on the floor.
// Samples are applied in timestamp order: a sample earlier than the stored one
// is discarded so an out-of-order delivery cannot regress a classification.
func (t *Tracker) Record(agentID string, ch models.Channel, ts time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.agents[agentID]
	if !exists {
		return ErrUnknownAgent
	}

	switch ch {
	case models.ChannelInfra:
		if ts.After(s.infra) {
			s.infra = ts
		}
	case models.ChannelFunctional:
		if ts.After(s.functional) {
			s.functional = ts
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	return nil
}

// LastSample returns the stored timestamp for the agent and channel.
func (t *Tracker) LastSample(agentID string, ch models.Channel) (time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, exists := t.agents[agentID]
	if !exists {
		return time.Time{}, ErrUnknownAgent
	}
	if ch == models.ChannelInfra {
		return s.infra, nil
	}
	return s.functional, nil
}

// Classify returns the agent's combined classification at the given instant:
// each channel is classified independently, then the worse verdict wins.
func (t *Tracker) Classify(agentID string, now time.Time) (models.Classification, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.classifyLocked(agentID, now)
}

func (t *Tracker) classifyLocked(agentID string, now time.Time) (models.Classification, error) {
	s, exists := t.agents[agentID]
	if !exists {
		return models.Failed, ErrUnknownAgent
	}

	infra := classifyChannel(now.Sub(s.infra), t.thresholds.Infra)
	functional := classifyChannel(now.Sub(s.functional), t.thresholds.Functional)
	return models.Worse(infra, functional), nil
}

// ClassifySamples classifies a pair of raw heartbeat timestamps without a
// tracker. Used by status displays reading samples back from the durable
// store.
func (t Thresholds) ClassifySamples(now, infra, functional time.Time) models.Classification {
	i := classifyChannel(now.Sub(infra), t.Infra)
	f := classifyChannel(now.Sub(functional), t.Functional)
	return models.Worse(i, f)
}

// classifyChannel maps elapsed time since the last sample to a verdict.
func classifyChannel(elapsed, threshold time.Duration) models.Classification {
	switch {
	case elapsed > 2*threshold:
		return models.Failed
	case elapsed > threshold:
		return models.Stale
	default:
		return models.Healthy
	}
}

// Subscribe registers a callback for combined-classification changes.
// Callbacks fire during Sweep, on the supervisor's cadence.
func (t *Tracker) Subscribe(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// classificationChange describes one agent whose verdict moved.
type classificationChange struct {
	agentID  string
	from, to models.Classification
}

// Sweep reclassifies every agent and notifies subscribers of changes.
// Callbacks run outside the tracker lock.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	var changes []classificationChange
	for id := range t.agents {
		current, _ := t.classifyLocked(id, now)
		if prev := t.last[id]; prev != current {
			changes = append(changes, classificationChange{agentID: id, from: prev, to: current})
			t.last[id] = current
		}
	}
	subs := make([]ChangeFunc, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, c := range changes {
		for _, fn := range subs {
			fn(c.agentID, c.from, c.to)
		}
	}
}

// AgentIDs returns the IDs of all registered agents.
func (t *Tracker) AgentIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.agents))
	for id := range t.agents {
		ids = append(ids, id)
	}
	return ids
}
