package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/dispatch/internal/heartbeat"
	"github.com/ShayCichocki/dispatch/internal/state"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet and task queue state",
	Long: `Display the recorded state of the fleet.

Shows:
  - Each agent's heartbeat ages and liveness verdict
  - Task counts per status and the tasks still in flight
  - Failover history, with the active event highlighted`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := flagDBPath
	if dbPath == "" {
		dbPath = cfg.DB.Path
	}
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No recorded state. Run 'dispatch run' to start the fleet.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	thresholds := heartbeat.Thresholds{
		Infra:      cfg.Heartbeat.InfraThreshold,
		Functional: cfg.Heartbeat.FunctionalThreshold,
	}

	if err := displayFleet(db, thresholds); err != nil {
		return err
	}
	fmt.Println()
	if err := displayTasks(db); err != nil {
		return err
	}
	fmt.Println()
	return displayFailovers(db)
}

func displayFleet(db *state.DB, thresholds heartbeat.Thresholds) error {
	agents, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	if len(agents) == 0 {
		fmt.Println("No agents recorded.")
		return nil
	}

	now := time.Now()
	fmt.Printf("Fleet (%d agents):\n", len(agents))
	for _, a := range agents {
		verdict := thresholds.ClassifySamples(now, a.InfraHeartbeat, a.LastHeartbeat)
		role := ""
		if a.Role == models.RoleCoordinator {
			role = " [coordinator]"
		}
		fmt.Printf("  %s %s%s  infra %s ago, functional %s ago\n",
			classificationLabel(verdict),
			a.ID, role,
			formatAge(now.Sub(a.InfraHeartbeat)),
			formatAge(now.Sub(a.LastHeartbeat)))
	}
	return nil
}

func displayTasks(db *state.DB) error {
	tasks, err := db.ListTasks(nil)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks. Run 'dispatch submit <title>' to queue work.")
		return nil
	}

	counts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	fmt.Printf("Tasks (%d total): %d pending, %d ready, %d in progress, %d completed, %d failed, %d blocked, %d escalated\n",
		len(tasks),
		counts[models.TaskStatusPending],
		counts[models.TaskStatusReady],
		counts[models.TaskStatusInProgress],
		counts[models.TaskStatusCompleted],
		counts[models.TaskStatusFailed],
		counts[models.TaskStatusBlocked],
		counts[models.TaskStatusEscalated])

	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		line := fmt.Sprintf("  %s %s  %q", statusLabel(t.Status), t.ID, t.Title)
		if t.AssignedAgent != "" {
			line += fmt.Sprintf("  agent=%s", t.AssignedAgent)
		}
		if t.RetryCount > 0 {
			line += fmt.Sprintf("  retries=%d/%d", t.RetryCount, t.MaxRetries)
		}
		if t.BlockedReason != "" {
			line += fmt.Sprintf("  reason=%q", t.BlockedReason)
		}
		fmt.Println(line)
	}
	return nil
}

func displayFailovers(db *state.DB) error {
	events, err := db.ListFailoverEvents()
	if err != nil {
		return fmt.Errorf("list failover events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No failover events.")
		return nil
	}

	fmt.Printf("Failover events (%d):\n", len(events))
	for _, e := range events {
		if e.RecoveredAt == nil {
			color.New(color.FgRed, color.Bold).Printf("  ACTIVE  %s missed %d windows, triggered %s\n",
				e.AgentID, e.MissedWindows, e.TriggeredAt.Format(time.RFC3339))
			continue
		}
		fmt.Printf("  recovered  %s triggered %s, recovered %s\n",
			e.AgentID, e.TriggeredAt.Format(time.RFC3339), e.RecoveredAt.Format(time.RFC3339))
	}
	return nil
}

func classificationLabel(c models.Classification) string {
	switch c {
	case models.Healthy:
		return color.GreenString("healthy")
	case models.Stale:
		return color.YellowString("stale  ")
	default:
		return color.RedString("failed ")
	}
}

func statusLabel(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusReady:
		return color.GreenString("%-11s", s)
	case models.TaskStatusInProgress:
		return color.CyanString("%-11s", s)
	case models.TaskStatusFailed, models.TaskStatusEscalated:
		return color.RedString("%-11s", s)
	case models.TaskStatusBlocked:
		return color.YellowString("%-11s", s)
	default:
		return fmt.Sprintf("%-11s", s)
	}
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
