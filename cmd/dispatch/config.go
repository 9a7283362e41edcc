package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/dispatch/internal/config"
	"github.com/ShayCichocki/dispatch/internal/state"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the effective configuration after merging defaults, the user
config, the project .dispatch.yaml, and DISPATCH_* environment variables.

User configuration lives at ` + config.GetUserConfigPath() + `.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dbPath := cfg.DB.Path
		if dbPath == "" {
			dbPath = state.DefaultDBPath()
		}

		fmt.Printf("db.path: %s\n", dbPath)
		fmt.Printf("heartbeat.infra_threshold: %s\n", cfg.Heartbeat.InfraThreshold)
		fmt.Printf("heartbeat.functional_threshold: %s\n", cfg.Heartbeat.FunctionalThreshold)
		fmt.Printf("heartbeat.window: %s\n", cfg.Heartbeat.Window)
		fmt.Printf("failover.miss_threshold: %d\n", cfg.Failover.MissThreshold)
		fmt.Printf("failover.recovery_windows: %d\n", cfg.Failover.RecoveryWindows)
		fmt.Printf("scheduler.max_retries: %d\n", cfg.Scheduler.MaxRetries)
		fmt.Printf("scheduler.orphan_grace: %s\n", cfg.Scheduler.OrphanGrace)
		rosterDisplay := cfg.Fleet.RosterPath
		if rosterDisplay == "" {
			rosterDisplay = "(not set)"
		}
		fmt.Printf("fleet.roster_path: %s\n", rosterDisplay)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
