package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := openTestDB(t)

	a := &models.Agent{
		ID:             "worker-1",
		Name:           "Builder",
		Role:           models.RoleSpecialist,
		Capabilities:   []string{"build", "deploy"},
		InfraHeartbeat: t0,
		LastHeartbeat:  t0.Add(30 * time.Second),
	}
	if err := db.UpsertAgent(a); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetAgent("worker-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected agent, got nil")
	}
	if got.Name != "Builder" || got.Role != models.RoleSpecialist {
		t.Errorf("unexpected agent: %+v", got)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "build" {
		t.Errorf("unexpected capabilities: %v", got.Capabilities)
	}
	if !got.InfraHeartbeat.Equal(t0) {
		t.Errorf("expected infra heartbeat %s, got %s", t0, got.InfraHeartbeat)
	}
	if !got.LastHeartbeat.Equal(t0.Add(30 * time.Second)) {
		t.Errorf("expected last heartbeat %s, got %s", t0.Add(30*time.Second), got.LastHeartbeat)
	}
}

func TestGetAgentMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetAgent("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing agent, got %+v", got)
	}
}

func TestUpsertAgentOverwrites(t *testing.T) {
	db := openTestDB(t)

	a := &models.Agent{ID: "worker-1", Role: models.RoleSpecialist, InfraHeartbeat: t0, LastHeartbeat: t0}
	if err := db.UpsertAgent(a); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	a.LastHeartbeat = t0.Add(time.Minute)
	if err := db.UpsertAgent(a); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	agents, err := db.ListAgents()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	if !agents[0].LastHeartbeat.Equal(t0.Add(time.Minute)) {
		t.Errorf("expected updated heartbeat, got %s", agents[0].LastHeartbeat)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := openTestDB(t)

	done := t0.Add(time.Hour)
	task := &models.Task{
		ID:             "t1",
		Title:          "build the release",
		Payload:        "make release",
		Status:         models.TaskStatusCompleted,
		Priority:       0.7,
		DependsOn:      []string{"t0"},
		Capability:     "build",
		ManualOverride: true,
		OwnerID:        "alice",
		RetryCount:     2,
		MaxRetries:     3,
		Error:          "flaky once",
		CreatedAt:      t0,
		CompletedAt:    &done,
	}
	if err := db.UpsertTask(task); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Title != task.Title || got.Payload != task.Payload || got.Status != task.Status {
		t.Errorf("unexpected task: %+v", got)
	}
	if got.Priority != 0.7 || !got.ManualOverride || got.OwnerID != "alice" {
		t.Errorf("unexpected task fields: %+v", got)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "t0" {
		t.Errorf("unexpected depends_on: %v", got.DependsOn)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("unexpected completed_at: %v", got.CompletedAt)
	}
}

func TestDeleteTask(t *testing.T) {
	db := openTestDB(t)
	task := &models.Task{ID: "t1", Title: "doomed", Status: models.TaskStatusPending, MaxRetries: 3, CreatedAt: t0}
	if err := db.UpsertTask(task); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.DeleteTask("t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestListTasksFilterAndOrder(t *testing.T) {
	db := openTestDB(t)

	for i, id := range []string{"first", "second", "third"} {
		task := &models.Task{
			ID: id, Title: id, Status: models.TaskStatusReady,
			MaxRetries: 3, CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}
		if err := db.UpsertTask(task); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	blocked := &models.Task{ID: "held", Title: "held", Status: models.TaskStatusBlocked, MaxRetries: 3, CreatedAt: t0}
	if err := db.UpsertTask(blocked); err != nil {
		t.Fatalf("upsert held: %v", err)
	}

	ready := models.TaskStatusReady
	tasks, err := db.ListTasks(&ready)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 ready tasks, got %d", len(tasks))
	}
	for i, want := range []string{"first", "second", "third"} {
		if tasks[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, tasks[i].ID)
		}
	}

	all, err := db.ListTasks(nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 tasks, got %d", len(all))
	}
}

func TestCompareAndSetTaskStatus(t *testing.T) {
	db := openTestDB(t)
	task := &models.Task{ID: "t1", Title: "t1", Status: models.TaskStatusReady, MaxRetries: 3, CreatedAt: t0}
	if err := db.UpsertTask(task); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := db.CompareAndSetTaskStatus("t1", models.TaskStatusReady, models.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected swap to succeed")
	}

	// Stale expectation: the task is no longer ready.
	ok, err = db.CompareAndSetTaskStatus("t1", models.TaskStatusReady, models.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected swap to fail on stale status")
	}

	got, _ := db.GetTask("t1")
	if got.Status != models.TaskStatusInProgress {
		t.Errorf("expected in_progress, got %s", got.Status)
	}
}

func TestFailoverEventRoundTrip(t *testing.T) {
	db := openTestDB(t)

	e := &models.FailoverEvent{ID: "e1", AgentID: "coord", MissedWindows: 3, TriggeredAt: t0}
	if err := db.SaveFailoverEvent(e); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Closing the event updates the same row.
	recovered := t0.Add(10 * time.Minute)
	e.RecoveredAt = &recovered
	if err := db.SaveFailoverEvent(e); err != nil {
		t.Fatalf("save closed: %v", err)
	}

	events, err := db.ListFailoverEvents()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].MissedWindows != 3 || events[0].AgentID != "coord" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].RecoveredAt == nil || !events[0].RecoveredAt.Equal(recovered) {
		t.Errorf("expected recovered_at %s, got %v", recovered, events[0].RecoveredAt)
	}
}

func TestLoadTasksForRecoveryOrder(t *testing.T) {
	db := openTestDB(t)

	// Insert dependents before their dependencies to prove ordering is
	// derived from edges, not insertion order.
	rows := []*models.Task{
		{ID: "c", Title: "c", Status: models.TaskStatusPending, DependsOn: []string{"b"}, MaxRetries: 3, CreatedAt: t0},
		{ID: "b", Title: "b", Status: models.TaskStatusPending, DependsOn: []string{"a"}, MaxRetries: 3, CreatedAt: t0.Add(time.Second)},
		{ID: "a", Title: "a", Status: models.TaskStatusCompleted, MaxRetries: 3, CreatedAt: t0.Add(2 * time.Second)},
	}
	for _, task := range rows {
		if err := db.UpsertTask(task); err != nil {
			t.Fatalf("upsert %s: %v", task.ID, err)
		}
	}

	ordered, err := db.LoadTasksForRecovery()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ordered) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(ordered))
	}

	pos := make(map[string]int, len(ordered))
	for i, task := range ordered {
		pos[task.ID] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("expected dependency order a < b < c, got %v", pos)
	}
}

func TestLoadTasksForRecoveryDanglingDependency(t *testing.T) {
	db := openTestDB(t)

	task := &models.Task{ID: "t1", Title: "t1", Status: models.TaskStatusPending, DependsOn: []string{"vanished"}, MaxRetries: 3, CreatedAt: t0}
	if err := db.UpsertTask(task); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ordered, err := db.LoadTasksForRecovery()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ordered) != 1 || ordered[0].ID != "t1" {
		t.Errorf("expected the dangling task returned, got %+v", ordered)
	}
}
