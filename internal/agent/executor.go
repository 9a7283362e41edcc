package agent

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/dispatch/internal/exec"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

// ShellExecutor runs task payloads as shell commands. It is the default
// execution collaborator when no external spawner is wired in.
type ShellExecutor struct {
	runner  exec.CommandRunner
	workDir string
}

// NewShellExecutor creates a ShellExecutor running payloads in workDir.
func NewShellExecutor(runner exec.CommandRunner, workDir string) *ShellExecutor {
	return &ShellExecutor{runner: runner, workDir: workDir}
}

// Execute runs the task's payload through the shell. A task with no payload
// succeeds immediately.
func (e *ShellExecutor) Execute(ctx context.Context, task models.Task) error {
	if task.Payload == "" {
		return nil
	}
	output, err := e.runner.RunShell(ctx, e.workDir, task.Payload)
	if err != nil {
		return fmt.Errorf("payload failed: %w: %s", err, truncate(output, 512))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Verify ShellExecutor implements Executor at compile time.
var _ Executor = (*ShellExecutor)(nil)
