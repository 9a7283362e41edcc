package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Agent fleet supervisor and task scheduler",
	Long: `Dispatch coordinates a fleet of cooperating agent workers that pull
tasks from a shared queue, execute them, and report health on a fixed cadence.

It tracks agent liveness over two independent heartbeat channels, promotes a
stand-in when the coordinator goes silent, enforces task state transitions
under concurrent claims, and decides what runs next from priority, age, and
dependency weight.`,
}

var (
	flagConfigPath string
	flagDBPath     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file path (default: XDG config, then .dispatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "State database path (overrides db.path)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
