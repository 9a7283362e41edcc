package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/dispatch/internal/config"
)

var agentsRosterPath string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show the configured fleet roster",
	Long: `Display the agent roster as configured.

Reads the roster YAML and prints each agent's role and capabilities plus
the designated stand-in. This reflects configuration, not liveness; use
'dispatch status' for heartbeat state.`,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().StringVar(&agentsRosterPath, "roster", "", "Fleet roster YAML (overrides fleet.roster_path)")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	path := agentsRosterPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Fleet.RosterPath
	}
	if path == "" {
		return fmt.Errorf("no roster configured: set fleet.roster_path or pass --roster")
	}

	roster, err := config.LoadRoster(path)
	if err != nil {
		return err
	}

	fmt.Printf("Roster (%d agents, stand-in %s):\n", len(roster.Agents), roster.StandIn)
	for _, a := range roster.Agents {
		caps := "(any)"
		if len(a.Capabilities) > 0 {
			caps = strings.Join(a.Capabilities, ", ")
		}
		fmt.Printf("  %-12s %-12s %s\n", a.ID, a.Role, caps)
	}
	return nil
}
