package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

// Agent persistence

// UpsertAgent inserts or replaces an agent record. Idempotent.
func (db *DB) UpsertAgent(a *models.Agent) error {
	capabilities, _ := json.Marshal(a.Capabilities)

	_, err := db.Exec(`
		INSERT INTO agents (id, name, role, capabilities, infra_heartbeat, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			capabilities = excluded.capabilities,
			infra_heartbeat = excluded.infra_heartbeat,
			last_heartbeat = excluded.last_heartbeat
	`, a.ID, a.Name, string(a.Role), string(capabilities),
		formatTime(a.InfraHeartbeat), formatTime(a.LastHeartbeat))
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns nil when not found.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	row := db.QueryRow(`
		SELECT id, name, role, capabilities, infra_heartbeat, last_heartbeat
		FROM agents WHERE id = ?
	`, id)

	a, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents lists all agents.
func (db *DB) ListAgents() ([]models.Agent, error) {
	rows, err := db.Query(`
		SELECT id, name, role, capabilities, infra_heartbeat, last_heartbeat
		FROM agents ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, nil
}

func scanAgent(scan func(dest ...any) error) (*models.Agent, error) {
	var a models.Agent
	var name, capabilities sql.NullString
	var infraHeartbeat, lastHeartbeat sql.NullString
	if err := scan(&a.ID, &name, &a.Role, &capabilities, &infraHeartbeat, &lastHeartbeat); err != nil {
		return nil, err
	}
	if name.Valid {
		a.Name = name.String
	}
	if capabilities.Valid {
		json.Unmarshal([]byte(capabilities.String), &a.Capabilities)
	}
	if t := parseNullableTime(infraHeartbeat); t != nil {
		a.InfraHeartbeat = *t
	}
	if t := parseNullableTime(lastHeartbeat); t != nil {
		a.LastHeartbeat = *t
	}
	return &a, nil
}

// Task persistence

// UpsertTask inserts or replaces a task record. Idempotent.
func (db *DB) UpsertTask(t *models.Task) error {
	dependsOn, _ := json.Marshal(t.DependsOn)
	var completedAt *string
	if t.CompletedAt != nil {
		s := formatTime(*t.CompletedAt)
		completedAt = &s
	}

	_, err := db.Exec(`
		INSERT INTO tasks (id, title, payload, status, priority, depends_on, assigned_agent,
			capability, manual_override, owner_id, retry_count, max_retries,
			blocked_reason, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			payload = excluded.payload,
			status = excluded.status,
			priority = excluded.priority,
			depends_on = excluded.depends_on,
			assigned_agent = excluded.assigned_agent,
			capability = excluded.capability,
			manual_override = excluded.manual_override,
			owner_id = excluded.owner_id,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			blocked_reason = excluded.blocked_reason,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, t.ID, t.Title, t.Payload, string(t.Status), t.Priority, string(dependsOn), t.AssignedAgent,
		t.Capability, t.ManualOverride, t.OwnerID, t.RetryCount, t.MaxRetries,
		t.BlockedReason, t.Error, formatTime(t.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil when not found.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, title, payload, status, priority, depends_on, assigned_agent,
			capability, manual_override, owner_id, retry_count, max_retries,
			blocked_reason, error, created_at, completed_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// DeleteTask deletes a task by ID.
func (db *DB) DeleteTask(id string) error {
	_, err := db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ListTasks lists all tasks, optionally filtered by status.
func (db *DB) ListTasks(status *models.TaskStatus) ([]models.Task, error) {
	const cols = `id, title, payload, status, priority, depends_on, assigned_agent,
			capability, manual_override, owner_id, retry_count, max_retries,
			blocked_reason, error, created_at, completed_at`

	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = db.Query(`
			SELECT `+cols+` FROM tasks WHERE status = ? ORDER BY created_at
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT ` + cols + ` FROM tasks ORDER BY created_at
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// CompareAndSetTaskStatus atomically moves a task from one status to another.
// Returns true if the swap happened, false if the current status no longer
// matched. This is the only status-write primitive collaborators get.
func (db *DB) CompareAndSetTaskStatus(id string, from, to models.TaskStatus) (bool, error) {
	result, err := db.Exec(`
		UPDATE tasks SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("compare-and-set task status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected == 1, nil
}

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var t models.Task
	var payload, dependsOn, assignedAgent, capability, ownerID, blockedReason, taskErr sql.NullString
	var createdAt string
	var completedAt sql.NullString
	if err := scan(&t.ID, &t.Title, &payload, &t.Status, &t.Priority, &dependsOn, &assignedAgent,
		&capability, &t.ManualOverride, &ownerID, &t.RetryCount, &t.MaxRetries,
		&blockedReason, &taskErr, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	if payload.Valid {
		t.Payload = payload.String
	}
	if dependsOn.Valid {
		json.Unmarshal([]byte(dependsOn.String), &t.DependsOn)
	}
	if assignedAgent.Valid {
		t.AssignedAgent = assignedAgent.String
	}
	if capability.Valid {
		t.Capability = capability.String
	}
	if ownerID.Valid {
		t.OwnerID = ownerID.String
	}
	if blockedReason.Valid {
		t.BlockedReason = blockedReason.String
	}
	if taskErr.Valid {
		t.Error = taskErr.String
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// Failover event persistence

// SaveFailoverEvent inserts or replaces a failover event. Idempotent; the
// supervisor calls it once on activation and once more to close the event.
func (db *DB) SaveFailoverEvent(e *models.FailoverEvent) error {
	var recoveredAt *string
	if e.RecoveredAt != nil {
		s := formatTime(*e.RecoveredAt)
		recoveredAt = &s
	}

	_, err := db.Exec(`
		INSERT INTO failover_events (id, agent_id, missed_windows, triggered_at, recovered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			missed_windows = excluded.missed_windows,
			recovered_at = excluded.recovered_at
	`, e.ID, e.AgentID, e.MissedWindows, formatTime(e.TriggeredAt), recoveredAt)
	if err != nil {
		return fmt.Errorf("save failover event: %w", err)
	}
	return nil
}

// ListFailoverEvents lists failover events, most recent first.
func (db *DB) ListFailoverEvents() ([]models.FailoverEvent, error) {
	rows, err := db.Query(`
		SELECT id, agent_id, missed_windows, triggered_at, recovered_at
		FROM failover_events ORDER BY triggered_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list failover events: %w", err)
	}
	defer rows.Close()

	var events []models.FailoverEvent
	for rows.Next() {
		var e models.FailoverEvent
		var triggeredAt string
		var recoveredAt sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &e.MissedWindows, &triggeredAt, &recoveredAt); err != nil {
			return nil, fmt.Errorf("scan failover event: %w", err)
		}
		e.TriggeredAt, _ = parseTime(triggeredAt)
		e.RecoveredAt = parseNullableTime(recoveredAt)
		events = append(events, e)
	}
	return events, nil
}
