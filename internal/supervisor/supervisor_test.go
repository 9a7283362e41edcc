package supervisor

import (
	"testing"
	"time"

	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/failover"
	"github.com/ShayCichocki/dispatch/internal/heartbeat"
	"github.com/ShayCichocki/dispatch/internal/notify"
	"github.com/ShayCichocki/dispatch/internal/scheduler"
	"github.com/ShayCichocki/dispatch/internal/store"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	sup     *Supervisor
	tracker *heartbeat.Tracker
	store   *store.Store
	clk     *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	tracker := heartbeat.NewTracker(heartbeat.DefaultThresholds())
	tracker.Register("coord", t0)
	tracker.Register("worker-1", t0)

	fs := failover.New(failover.DefaultConfig("coord", "worker-1"), tracker, notify.NewLogNotifier(), clk)
	st := store.New(clk)
	sched := scheduler.New(st, clk)

	sup := New(Config{Window: 30 * time.Second, OrphanGrace: 60 * time.Second}, clk, tracker, fs, st, sched, nil)
	return &fixture{sup: sup, tracker: tracker, store: st, clk: clk}
}

// keepAlive stamps both channels for an agent at the clock's current time.
func (f *fixture) keepAlive(agentID string) {
	now := f.clk.Now()
	f.tracker.Record(agentID, models.ChannelInfra, now)
	f.tracker.Record(agentID, models.ChannelFunctional, now)
}

// drain collects everything currently buffered on the event channel.
func (f *fixture) drain() []Event {
	var out []Event
	for {
		select {
		case e := <-f.sup.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestSubmitEmitsEvent(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Submit(&models.Task{ID: "t1", Title: "build"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := f.drain()
	if len(events) != 1 || events[0].Type != EventTaskCreated || events[0].TaskID != "t1" {
		t.Fatalf("expected task_created event, got %+v", events)
	}
}

func TestClassificationChangeEmitsEvent(t *testing.T) {
	f := newFixture(t)

	// Keep the coordinator alive so only worker-1 degrades.
	f.clk.Advance(100 * time.Second)
	f.keepAlive("coord")
	f.sup.RunOnce()

	var found bool
	for _, e := range f.drain() {
		if e.Type == EventAgentClassified && e.AgentID == "worker-1" && e.Classification == models.Stale {
			found = true
		}
	}
	if !found {
		t.Error("expected a stale classification event for worker-1")
	}
}

func TestOrphanReleaseAfterGracePeriod(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Submit(&models.Task{ID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.store.Claim("t1", "worker-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// worker-1 goes silent past double the functional threshold: failed.
	f.clk.Advance(200 * time.Second)
	f.keepAlive("coord")
	f.sup.RunOnce()

	got, _ := f.store.Get("t1")
	if got.Status != models.TaskStatusInProgress {
		t.Fatalf("expected task held during grace period, got %s", got.Status)
	}

	// Past the grace period the task is force-released.
	f.clk.Advance(61 * time.Second)
	f.keepAlive("coord")
	f.sup.RunOnce()

	got, _ = f.store.Get("t1")
	if got.Status != models.TaskStatusReady {
		t.Fatalf("expected orphan released to ready, got %s", got.Status)
	}
	if got.AssignedAgent != "" {
		t.Error("expected assignment cleared")
	}

	var found bool
	for _, e := range f.drain() {
		if e.Type == EventOrphanReleased && e.TaskID == "t1" && e.AgentID == "worker-1" {
			found = true
		}
	}
	if !found {
		t.Error("expected an orphan_released event")
	}
}

func TestRecoveredAgentKeepsItsTasks(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Submit(&models.Task{ID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.store.Claim("t1", "worker-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fail, then recover before the grace period elapses.
	f.clk.Advance(200 * time.Second)
	f.keepAlive("coord")
	f.sup.RunOnce()

	f.clk.Advance(30 * time.Second)
	f.keepAlive("coord")
	f.keepAlive("worker-1")
	f.sup.RunOnce()

	f.clk.Advance(120 * time.Second)
	f.keepAlive("coord")
	f.keepAlive("worker-1")
	f.sup.RunOnce()

	got, _ := f.store.Get("t1")
	if got.Status != models.TaskStatusInProgress || got.AssignedAgent != "worker-1" {
		t.Errorf("expected recovered agent to keep its task, got status=%s agent=%s", got.Status, got.AssignedAgent)
	}
}

func TestEscalationEmitsEventAndRoutes(t *testing.T) {
	f := newFixture(t)
	if err := f.sup.Submit(&models.Task{ID: "t1", MaxRetries: 1, OwnerID: "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.store.Claim("t1", "worker-1"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := f.store.Fail("t1", "worker-1", "boom"); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
	}

	got, _ := f.store.Get("t1")
	if got.Status != models.TaskStatusEscalated {
		t.Fatalf("expected escalated, got %s", got.Status)
	}

	var escalations int
	for _, e := range f.drain() {
		if e.Type == EventTaskEscalated && e.TaskID == "t1" {
			escalations++
		}
	}
	if escalations != 1 {
		t.Errorf("expected exactly one escalation event, got %d", escalations)
	}
}

func TestFailoverTransitionEvents(t *testing.T) {
	f := newFixture(t)

	// Coordinator silent for three supervision windows.
	for i := 0; i < 3; i++ {
		f.clk.Advance(5 * time.Minute)
		f.keepAlive("worker-1")
		f.sup.RunOnce()
	}

	var activated bool
	for _, e := range f.drain() {
		if e.Type == EventFailoverActivated {
			activated = true
		}
	}
	if !activated {
		t.Fatal("expected a failover_activated event")
	}

	// Two clean windows recover.
	for i := 0; i < 2; i++ {
		f.clk.Advance(30 * time.Second)
		f.keepAlive("coord")
		f.keepAlive("worker-1")
		f.sup.RunOnce()
	}

	var recovered bool
	for _, e := range f.drain() {
		if e.Type == EventFailoverRecovered {
			recovered = true
		}
	}
	if !recovered {
		t.Error("expected a failover_recovered event")
	}
}

func TestDroppedEventCount(t *testing.T) {
	f := newFixture(t)

	// Fill the buffer without draining.
	for i := 0; i < 150; i++ {
		if err := f.sup.Submit(&models.Task{Title: "spam"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := f.sup.DroppedEventCount(); got != 50 {
		t.Errorf("expected 50 dropped events, got %d", got)
	}
}
