// Package failover watches the coordinator's heartbeat classification and
// promotes a stand-in when the coordinator goes silent. The coordinator-role
// flag lives here and changes only through the supervisor's own transitions.
package failover

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/heartbeat"
	"github.com/ShayCichocki/dispatch/internal/notify"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

// Config holds the supervisor's tuning knobs.
type Config struct {
	// CoordinatorID is the agent holding the coordinator role at startup.
	CoordinatorID string
	// StandInID is the agent that receives critical traffic during failover.
	StandInID string
	// MissThreshold is the number of consecutive missed windows before
	// failover activates.
	MissThreshold int
	// RecoveryWindows is the number of full clean windows required after the
	// first healthy observation before reverting to normal. Debounces
	// flapping coordinators.
	RecoveryWindows int
}

// DefaultConfig returns the standard failover configuration.
func DefaultConfig(coordinatorID, standInID string) Config {
	return Config{
		CoordinatorID:   coordinatorID,
		StandInID:       standInID,
		MissThreshold:   3,
		RecoveryWindows: 1,
	}
}

// EventRecorder persists failover events. Implementations must be idempotent.
type EventRecorder interface {
	SaveFailoverEvent(e *models.FailoverEvent) error
}

// queuedMessage is a non-critical notification held back during failover.
type queuedMessage struct {
	severity notify.Severity
	audience string
	payload  string
}

// Supervisor runs the coordinator failover state machine:
// normal -> degraded -> failed_over -> normal.
type Supervisor struct {
	mu  sync.Mutex
	cfg Config

	state models.FailoverState
	// missed counts consecutive windows with a non-healthy classification.
	missed int
	// clean counts consecutive healthy windows while failed over.
	clean int
	// event is the open failover event, nil outside failover.
	event *models.FailoverEvent
	// queue holds non-critical messages in arrival order during failover.
	queue []queuedMessage

	tracker  *heartbeat.Tracker
	notifier notify.Notifier
	clk      clock.Clock
	recorder EventRecorder
}

// New creates a Supervisor over the given tracker and notifier.
func New(cfg Config, tracker *heartbeat.Tracker, notifier notify.Notifier, clk clock.Clock) *Supervisor {
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = 3
	}
	if cfg.RecoveryWindows <= 0 {
		cfg.RecoveryWindows = 1
	}
	return &Supervisor{
		cfg:      cfg,
		state:    models.FailoverNormal,
		tracker:  tracker,
		notifier: notifier,
		clk:      clk,
	}
}

// SetEventRecorder sets the persistence collaborator for failover events.
func (s *Supervisor) SetEventRecorder(r EventRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// State returns the current failover state.
func (s *Supervisor) State() models.FailoverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CoordinatorID returns the agent currently holding the coordinator role:
// the stand-in while failed over, the configured coordinator otherwise.
func (s *Supervisor) CoordinatorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.FailoverActive {
		return s.cfg.StandInID
	}
	return s.cfg.CoordinatorID
}

// CurrentEvent returns a copy of the open failover event, if any.
func (s *Supervisor) CurrentEvent() *models.FailoverEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		return nil
	}
	e := *s.event
	return &e
}

// Tick evaluates the coordinator's classification for one heartbeat window
// and advances the state machine. Called once per window by the supervisor
// loop.
func (s *Supervisor) Tick(now time.Time) {
	classification, err := s.tracker.Classify(s.cfg.CoordinatorID, now)
	if err != nil {
		log.Printf("[failover] classify coordinator %s: %v", s.cfg.CoordinatorID, err)
		return
	}

	s.mu.Lock()
	if classification == models.Healthy {
		s.missed = 0
		switch s.state {
		case models.FailoverDegraded:
			// Recovered before failover activated; purely observational.
			s.state = models.FailoverNormal
			s.mu.Unlock()
			return
		case models.FailoverActive:
			s.clean++
			if s.clean > s.cfg.RecoveryWindows {
				s.recoverLocked(now)
				return // recoverLocked releases the lock
			}
		}
		s.mu.Unlock()
		return
	}

	// Non-healthy window.
	s.missed++
	s.clean = 0
	switch s.state {
	case models.FailoverNormal:
		s.state = models.FailoverDegraded
		s.mu.Unlock()
	case models.FailoverDegraded:
		if s.missed >= s.cfg.MissThreshold {
			s.activateLocked(now)
			return // activateLocked releases the lock
		}
		s.mu.Unlock()
	default:
		s.mu.Unlock()
	}
}

// Activate forces failover immediately. This is the emergency path used when
// a critical task failure implicates the coordinator; idempotent like the
// tick-driven transition.
func (s *Supervisor) Activate(now time.Time) {
	s.mu.Lock()
	s.activateLocked(now)
}

// activateLocked enters failover mode. Idempotent: re-entry while already
// failed over performs no duplicate side effects. Caller holds s.mu; the lock
// is released before notifying.
func (s *Supervisor) activateLocked(now time.Time) {
	if s.state == models.FailoverActive {
		s.mu.Unlock()
		return
	}
	s.state = models.FailoverActive
	s.clean = 0
	s.event = &models.FailoverEvent{
		ID:            uuid.New().String(),
		AgentID:       s.cfg.CoordinatorID,
		MissedWindows: s.missed,
		TriggeredAt:   now,
	}
	event := *s.event
	recorder := s.recorder
	s.mu.Unlock()

	if recorder != nil {
		if err := recorder.SaveFailoverEvent(&event); err != nil {
			log.Printf("[failover] record event %s: %v", event.ID, err)
		}
	}
	s.deliver(notify.SeverityCritical, s.cfg.StandInID,
		fmt.Sprintf("failover activated: coordinator %s missed %d windows", event.AgentID, event.MissedWindows))
}

// recoverLocked reverts to normal after a debounced clean window: the open
// event is closed and queued non-critical messages flush in arrival order.
// Caller holds s.mu; the lock is released before flushing.
func (s *Supervisor) recoverLocked(now time.Time) {
	s.state = models.FailoverNormal
	s.missed = 0
	s.clean = 0

	var event *models.FailoverEvent
	if s.event != nil {
		ts := now
		s.event.RecoveredAt = &ts
		e := *s.event
		event = &e
		s.event = nil
	}
	flush := s.queue
	s.queue = nil
	recorder := s.recorder
	s.mu.Unlock()

	if event != nil && recorder != nil {
		if err := recorder.SaveFailoverEvent(event); err != nil {
			log.Printf("[failover] close event %s: %v", event.ID, err)
		}
	}
	for _, m := range flush {
		s.deliver(m.severity, m.audience, m.payload)
	}
	s.deliver(notify.SeverityInfo, s.cfg.CoordinatorID,
		fmt.Sprintf("coordinator %s recovered, failover cleared", s.cfg.CoordinatorID))
}

// Route sends a notification through the failover policy: during failover
// critical messages go to the stand-in immediately and everything else is
// queued, not dropped. Outside failover messages deliver as addressed.
func (s *Supervisor) Route(severity notify.Severity, audience, payload string) {
	s.mu.Lock()
	if s.state == models.FailoverActive {
		if severity == notify.SeverityCritical {
			standIn := s.cfg.StandInID
			s.mu.Unlock()
			s.deliver(severity, standIn, payload)
			return
		}
		s.queue = append(s.queue, queuedMessage{severity: severity, audience: audience, payload: payload})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.deliver(severity, audience, payload)
}

// QueuedCount returns the number of messages held back during failover.
func (s *Supervisor) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// deliver hands a message to the notifier. Delivery failures are logged and
// never block the routing decision.
func (s *Supervisor) deliver(severity notify.Severity, audience, payload string) {
	if err := s.notifier.Notify(severity, audience, payload); err != nil {
		log.Printf("[failover] notify %s: %v", audience, err)
	}
}
