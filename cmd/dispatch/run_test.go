package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/config"
	"github.com/ShayCichocki/dispatch/internal/failover"
	"github.com/ShayCichocki/dispatch/internal/heartbeat"
	"github.com/ShayCichocki/dispatch/internal/notify"
	"github.com/ShayCichocki/dispatch/internal/state"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testRoster() *config.Roster {
	return &config.Roster{
		Agents: []config.RosterEntry{
			{ID: "coord", Role: "coordinator"},
			{ID: "spec-1", Role: "specialist", Capabilities: []string{"build"}},
		},
		StandIn: "spec-1",
	}
}

// An idle fleet claims no tasks, so the local pulse is the coordinator's only
// heartbeat source. It must keep the coordinator healthy across arbitrarily
// many windows; the functional channel has no other writer for an agent that
// never claims work.
func TestRecordPulseKeepsIdleCoordinatorHealthy(t *testing.T) {
	clk := clock.NewManual(testStart)
	tracker := heartbeat.NewTracker(heartbeat.DefaultThresholds())
	roster := testRoster()
	for _, a := range roster.Models() {
		tracker.Register(a.ID, testStart)
	}
	fs := failover.New(failover.DefaultConfig("coord", "spec-1"), tracker, notify.NewLogNotifier(), clk)
	db := openTestDB(t)

	window := 30 * time.Second
	for i := 0; i < 100; i++ {
		clk.Advance(window)
		recordPulse(clk.Now(), tracker, db, roster)
		fs.Tick(clk.Now())
	}

	if got := fs.State(); got != models.FailoverNormal {
		t.Fatalf("expected failover state normal, got %s", got)
	}
	got, err := tracker.Classify("coord", clk.Now())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got != models.Healthy {
		t.Errorf("expected healthy coordinator, got %s", got)
	}
}

func TestRecordPulseLeavesSpecialistFunctionalChannelAlone(t *testing.T) {
	clk := clock.NewManual(testStart)
	tracker := heartbeat.NewTracker(heartbeat.DefaultThresholds())
	roster := testRoster()
	for _, a := range roster.Models() {
		tracker.Register(a.ID, testStart)
	}
	db := openTestDB(t)

	clk.Advance(time.Minute)
	recordPulse(clk.Now(), tracker, db, roster)

	// Specialists stamp their own functional channel from the worker loop;
	// the pulse must not mask a stuck worker.
	got, err := tracker.LastSample("spec-1", models.ChannelFunctional)
	if err != nil {
		t.Fatalf("last sample: %v", err)
	}
	if !got.Equal(testStart) {
		t.Errorf("expected specialist functional sample untouched at %s, got %s", testStart, got)
	}
	infra, _ := tracker.LastSample("spec-1", models.ChannelInfra)
	if !infra.Equal(testStart.Add(time.Minute)) {
		t.Errorf("expected specialist infra sample stamped, got %s", infra)
	}
}
