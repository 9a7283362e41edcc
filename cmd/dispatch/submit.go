package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/dispatch/internal/graph"
	"github.com/ShayCichocki/dispatch/internal/state"
	"github.com/ShayCichocki/dispatch/internal/store"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

var (
	submitPayload    string
	submitPriority   float64
	submitCapability string
	submitDependsOn  []string
	submitMaxRetries int
	submitOwner      string
	submitOverride   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <title>",
	Short: "Submit a task to the queue",
	Long: `Submit a task to the shared queue.

The task is written to the state database in the pending status and is
picked up by the supervisor on its next start. Use --depends to gate the
task on other task IDs, --capability to restrict which agents may run it,
and --payload to set the shell command workers execute.`,
	Args: cobra.ExactArgs(1),
	RunE: submitTask,
}

func init() {
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "Shell command the claiming worker runs")
	submitCmd.Flags().Float64Var(&submitPriority, "priority", 0.5, "Base priority in [0.0, 1.0]")
	submitCmd.Flags().StringVar(&submitCapability, "capability", "", "Required agent capability (empty: any agent)")
	submitCmd.Flags().StringSliceVar(&submitDependsOn, "depends", nil, "Task IDs that must complete first")
	submitCmd.Flags().IntVar(&submitMaxRetries, "max-retries", store.DefaultMaxRetries, "Retry budget before escalation")
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "Submitter identity, notified on escalation")
	submitCmd.Flags().BoolVar(&submitOverride, "urgent", false, "Apply the manual priority override")
	rootCmd.AddCommand(submitCmd)
}

func submitTask(cmd *cobra.Command, args []string) error {
	if submitPriority < 0 || submitPriority > 1 {
		return fmt.Errorf("priority %v out of range [0,1]", submitPriority)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	maxRetries := submitMaxRetries
	if !cmd.Flags().Changed("max-retries") && cfg.Scheduler.MaxRetries > 0 {
		maxRetries = cfg.Scheduler.MaxRetries
	}
	db, err := openStateDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	id := uuid.New().String()
	if err := validateDependencies(db, id, submitDependsOn); err != nil {
		return err
	}

	t := &models.Task{
		ID:             id,
		Title:          args[0],
		Payload:        submitPayload,
		Status:         models.TaskStatusPending,
		Priority:       submitPriority,
		DependsOn:      submitDependsOn,
		Capability:     submitCapability,
		ManualOverride: submitOverride,
		OwnerID:        submitOwner,
		MaxRetries:     maxRetries,
		CreatedAt:      time.Now(),
	}
	if err := db.UpsertTask(t); err != nil {
		return fmt.Errorf("saving task: %w", err)
	}

	fmt.Printf("Submitted task %s\n", t.ID)
	return nil
}

// validateDependencies rejects dangling dependency references and verifies the
// combined dependency graph stays acyclic, so a bad submission is caught here
// rather than silently dropped when the supervisor restores tasks.
func validateDependencies(db *state.DB, taskID string, dependsOn []string) error {
	if len(dependsOn) == 0 {
		return nil
	}

	existing, err := db.LoadTasksForRecovery()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	resolver := graph.New()
	for _, t := range existing {
		known[t.ID] = true
		_ = resolver.Add(t.ID, t.DependsOn)
	}

	for _, dep := range dependsOn {
		if !known[dep] {
			return fmt.Errorf("dependency %s: %w", dep, store.ErrUnknownTask)
		}
	}
	if err := resolver.Add(taskID, dependsOn); err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}
	return nil
}
