package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/dispatch/internal/agent"
	"github.com/ShayCichocki/dispatch/internal/clock"
	"github.com/ShayCichocki/dispatch/internal/config"
	"github.com/ShayCichocki/dispatch/internal/exec"
	"github.com/ShayCichocki/dispatch/internal/failover"
	"github.com/ShayCichocki/dispatch/internal/heartbeat"
	"github.com/ShayCichocki/dispatch/internal/notify"
	"github.com/ShayCichocki/dispatch/internal/scheduler"
	"github.com/ShayCichocki/dispatch/internal/state"
	"github.com/ShayCichocki/dispatch/internal/store"
	"github.com/ShayCichocki/dispatch/internal/supervisor"
	"github.com/ShayCichocki/dispatch/pkg/models"
)

var runRosterPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor and the agent fleet",
	Long: `Run the fleet supervisor loop.

Loads the agent roster, opens the state database, restores any unfinished
tasks, and starts one worker per specialist agent. The supervisor then ticks
once per heartbeat window: reclassifying agents, advancing coordinator
failover, and releasing orphaned tasks.

Runs until interrupted. State survives restarts; tasks submitted with
'dispatch submit' are picked up on the next run.`,
	RunE: runFleet,
}

func init() {
	runCmd.Flags().StringVar(&runRosterPath, "roster", "", "Fleet roster YAML (overrides fleet.roster_path)")
	rootCmd.AddCommand(runCmd)
}

func runFleet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rosterPath := runRosterPath
	if rosterPath == "" {
		rosterPath = cfg.Fleet.RosterPath
	}
	if rosterPath == "" {
		return fmt.Errorf("no roster configured: set fleet.roster_path or pass --roster")
	}
	roster, err := config.LoadRoster(rosterPath)
	if err != nil {
		return err
	}

	db, err := openStateDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	clk := clock.NewReal()
	now := clk.Now()

	tracker := heartbeat.NewTracker(heartbeat.Thresholds{
		Infra:      cfg.Heartbeat.InfraThreshold,
		Functional: cfg.Heartbeat.FunctionalThreshold,
	})
	for _, a := range roster.Models() {
		tracker.Register(a.ID, now)
		a.InfraHeartbeat = now
		a.LastHeartbeat = now
		if err := db.UpsertAgent(&a); err != nil {
			return fmt.Errorf("recording agent %s: %w", a.ID, err)
		}
	}

	notifier := notify.NewBreakerNotifier(notify.NewLogNotifier())
	fs := failover.New(failover.Config{
		CoordinatorID:   roster.Coordinator(),
		StandInID:       roster.StandIn,
		MissThreshold:   cfg.Failover.MissThreshold,
		RecoveryWindows: cfg.Failover.RecoveryWindows,
	}, tracker, notifier, clk)
	fs.SetEventRecorder(db)

	st := store.New(clk)
	st.SetPersister(db)
	if err := restoreTasks(st, db); err != nil {
		return err
	}

	sched := scheduler.New(st, clk)

	logger, err := openDebugLogger(db.Path())
	if err != nil {
		return err
	}
	defer logger.Close()

	sup := supervisor.New(supervisor.Config{
		Window:      cfg.Heartbeat.Window,
		OrphanGrace: cfg.Scheduler.OrphanGrace,
	}, clk, tracker, fs, st, sched, logger)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	executor := agent.NewShellExecutor(exec.NewRunner(), cwd)
	for _, a := range roster.Models() {
		if a.Role != models.RoleSpecialist {
			continue
		}
		sup.AttachWorker(agent.NewWorker(a, sched, st, tracker, executor, clk))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// All agents run in this process, so the sidecar pulse is local too.
	go pulseHeartbeats(ctx, clk, tracker, db, roster, cfg.Heartbeat.Window)
	go printEvents(sup.Events())

	fmt.Printf("dispatch: supervising %d agents (coordinator %s, stand-in %s)\n",
		len(roster.Agents), roster.Coordinator(), roster.StandIn)

	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	fmt.Println("dispatch: shut down")
	return nil
}

func loadConfig() (*config.Config, error) {
	if flagConfigPath != "" {
		return config.LoadFromPath(flagConfigPath)
	}
	return config.Load()
}

func openStateDB(cfg *config.Config) (*state.DB, error) {
	path := flagDBPath
	if path == "" {
		path = cfg.DB.Path
	}
	if path == "" {
		path = state.DefaultDBPath()
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return db, nil
}

// restoreTasks reloads persisted tasks into the in-memory store. Tasks with
// dangling dependency references are skipped rather than aborting startup.
func restoreTasks(st *store.Store, db *state.DB) error {
	tasks, err := db.LoadTasksForRecovery()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := st.Restore(t); err != nil {
			fmt.Fprintf(os.Stderr, "dispatch: skipping task %s: %v\n", t.ID, err)
		}
	}
	return nil
}

func openDebugLogger(dbPath string) (*supervisor.DebugLogger, error) {
	if os.Getenv("DISPATCH_DEBUG") == "" {
		return supervisor.NopLogger(), nil
	}
	logPath := filepath.Join(filepath.Dir(dbPath), "dispatch-debug.log")
	logger, err := supervisor.NewDebugLogger(logPath)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	return logger, nil
}

// pulseHeartbeats stamps local agents' heartbeats at half the heartbeat
// window, keeping co-located agents from going stale while the process is
// alive.
func pulseHeartbeats(ctx context.Context, clk clock.Clock, tracker *heartbeat.Tracker, db *state.DB, roster *config.Roster, window time.Duration) {
	ticks, stopTicks := clk.Tick(window / 2)
	defer stopTicks()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticks:
			recordPulse(now, tracker, db, roster)
		}
	}
}

// recordPulse stamps the infra channel for every local agent. The coordinator
// also gets a functional pulse: its functional work is the supervision loop
// running in this process, not task claims, so an idle but healthy
// coordinator must not drift toward failover. Samples are mirrored to the
// state database so 'dispatch status' sees current heartbeats.
func recordPulse(now time.Time, tracker *heartbeat.Tracker, db *state.DB, roster *config.Roster) {
	coordinator := roster.Coordinator()
	for _, a := range roster.Models() {
		_ = tracker.Record(a.ID, models.ChannelInfra, now)
		if a.ID == coordinator {
			_ = tracker.Record(a.ID, models.ChannelFunctional, now)
		}
		infra, err := tracker.LastSample(a.ID, models.ChannelInfra)
		if err != nil {
			continue
		}
		functional, err := tracker.LastSample(a.ID, models.ChannelFunctional)
		if err != nil {
			continue
		}
		a.InfraHeartbeat = infra
		a.LastHeartbeat = functional
		_ = db.UpsertAgent(&a)
	}
}

func printEvents(events <-chan supervisor.Event) {
	for e := range events {
		subject := e.TaskID
		if subject == "" {
			subject = e.AgentID
		}
		fmt.Printf("[%s] %s %s %s\n", e.Timestamp.Format("15:04:05"), e.Type, subject, e.Message)
	}
}
