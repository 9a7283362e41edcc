package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/dispatch/internal/agent"
	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/failover"
	"github.com/ShayCichocki/dispatch/internal/heartbeat"
	"github.com/ShayCichocki/dispatch/internal/notify"
	"github.com/ShayCichocki/dispatch/internal/scheduler"
	"github.com/ShayCichocki/dispatch/internal/store"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

// Config holds the supervisor loop settings.
type Config struct {
	// Window is the tick interval; one tick is one heartbeat window.
	Window time.Duration
	// OrphanGrace is how long an agent stays classified failed before its
	// in_progress tasks are force-released back to ready.
	OrphanGrace time.Duration
}

// Supervisor runs the periodic control loop: reclassify agents, advance the
// failover state machine, and redistribute orphaned work. It is the only
// component that drives the others; they never poll on their own cadence.
type Supervisor struct {
	cfg      Config
	clk      clock.Clock
	tracker  *heartbeat.Tracker
	failover *failover.Supervisor
	store    *store.Store
	sched    *scheduler.Scheduler
	logger   *DebugLogger

	mu sync.Mutex
	// failedSince records when each agent was first classified failed.
	// Cleared when the agent recovers.
	failedSince map[string]time.Time
	// lastFailoverState detects failover transitions for event emission.
	lastFailoverState models.FailoverState
	workers           []*agent.Worker

	events  chan Event
	dropped uint64
}

// New wires a Supervisor over the given components.
func New(cfg Config, clk clock.Clock, tracker *heartbeat.Tracker, fs *failover.Supervisor, st *store.Store, sched *scheduler.Scheduler, logger *DebugLogger) *Supervisor {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = 60 * time.Second
	}
	if logger == nil {
		logger = NopLogger()
	}

	s := &Supervisor{
		cfg:               cfg,
		clk:               clk,
		tracker:           tracker,
		failover:          fs,
		store:             st,
		sched:             sched,
		logger:            logger,
		failedSince:       make(map[string]time.Time),
		lastFailoverState: models.FailoverNormal,
		events:            make(chan Event, 100),
	}

	tracker.Subscribe(s.onClassificationChange)
	st.SetDebugLog(logger.Log)
	st.SetEscalationHook(s.onEscalation)
	return s
}

// AttachWorker registers a worker to run under the supervisor's lifecycle.
func (s *Supervisor) AttachWorker(w *agent.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, w)
}

// Events returns the channel for receiving supervisor events.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// DroppedEventCount returns how many events were dropped because no observer
// was draining the channel.
func (s *Supervisor) DroppedEventCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Submit registers a new task with the store.
func (s *Supervisor) Submit(t *models.Task) error {
	if err := s.store.Create(t); err != nil {
		return err
	}
	s.emit(Event{Type: EventTaskCreated, TaskID: t.ID, Message: t.Title, Timestamp: s.clk.Now()})
	return nil
}

// Run drives the control loop and all attached workers until the context is
// cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.tickLoop(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	s.mu.Lock()
	workers := make([]*agent.Worker, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	for _, w := range workers {
		w := w
		g.Go(func() error {
			err := w.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// tickLoop runs one supervision pass per heartbeat window.
func (s *Supervisor) tickLoop(ctx context.Context) error {
	ticks, stop := s.clk.Tick(s.cfg.Window)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			s.RunOnce()
		}
	}
}

// RunOnce performs a single supervision pass: reclassify every agent, advance
// the failover state machine, and release orphaned tasks. Exported so tests
// and the CLI can drive the loop with a manual clock.
func (s *Supervisor) RunOnce() {
	now := s.clk.Now()
	s.tracker.Sweep(now)
	s.failover.Tick(now)
	s.observeFailover(now)
	s.releaseOrphans(now)
}

// onClassificationChange is the tracker subscription. It maintains the
// failed-since index used by orphan detection.
func (s *Supervisor) onClassificationChange(agentID string, from, to models.Classification) {
	now := s.clk.Now()

	s.mu.Lock()
	if to == models.Failed {
		if _, exists := s.failedSince[agentID]; !exists {
			s.failedSince[agentID] = now
		}
	} else {
		delete(s.failedSince, agentID)
	}
	s.mu.Unlock()

	s.logger.Log("[supervisor] agent %s: %s -> %s", agentID, from, to)
	s.emit(Event{
		Type:           EventAgentClassified,
		AgentID:        agentID,
		Classification: to,
		Message:        fmt.Sprintf("%s -> %s", from, to),
		Timestamp:      now,
	})
}

// onEscalation routes the single escalation notification for a task.
func (s *Supervisor) onEscalation(t models.Task) {
	audience := t.OwnerID
	if audience == "" {
		audience = "operators"
	}
	s.failover.Route(notify.SeverityCritical, audience,
		fmt.Sprintf("task %s escalated after %d attempts: %s", t.ID, t.RetryCount, t.Error))
	s.emit(Event{Type: EventTaskEscalated, TaskID: t.ID, Message: t.Error, Timestamp: s.clk.Now()})
}

// observeFailover emits events when the failover state machine moves.
func (s *Supervisor) observeFailover(now time.Time) {
	current := s.failover.State()

	s.mu.Lock()
	prev := s.lastFailoverState
	s.lastFailoverState = current
	s.mu.Unlock()

	if prev == current {
		return
	}
	switch {
	case current == models.FailoverActive:
		s.logger.Log("[supervisor] failover activated")
		s.emit(Event{Type: EventFailoverActivated, AgentID: s.failover.CoordinatorID(), Timestamp: now})
	case prev == models.FailoverActive && current == models.FailoverNormal:
		s.logger.Log("[supervisor] failover recovered")
		s.emit(Event{Type: EventFailoverRecovered, AgentID: s.failover.CoordinatorID(), Timestamp: now})
	}
}

// releaseOrphans force-releases in_progress tasks whose assignee has been
// classified failed for longer than the grace period. A racing release is
// safe: the store rejects the second one and we move on.
func (s *Supervisor) releaseOrphans(now time.Time) {
	s.mu.Lock()
	failed := make(map[string]time.Time, len(s.failedSince))
	for id, since := range s.failedSince {
		failed[id] = since
	}
	s.mu.Unlock()

	if len(failed) == 0 {
		return
	}

	for _, t := range s.store.ListByStatus(models.TaskStatusInProgress) {
		since, isFailed := failed[t.AssignedAgent]
		if !isFailed || now.Sub(since) < s.cfg.OrphanGrace {
			continue
		}
		if err := s.store.ForceRelease(t.ID); err != nil {
			if !errors.Is(err, store.ErrInvalidTransition) {
				s.logger.Log("[supervisor] force release %s: %v", t.ID, err)
			}
			continue
		}
		s.logger.Log("[supervisor] released orphan task %s from failed agent %s", t.ID, t.AssignedAgent)
		s.emit(Event{
			Type:      EventOrphanReleased,
			TaskID:    t.ID,
			AgentID:   t.AssignedAgent,
			Message:   "assignee classified failed past grace period",
			Timestamp: now,
		})
	}
}

// emit sends an event without blocking; slow observers lose events rather
// than stalling the control loop.
func (s *Supervisor) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}
