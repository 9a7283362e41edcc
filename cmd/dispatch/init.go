package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/dispatch/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a dispatch project",
	Long: `Initialize a directory for use with dispatch.

Creates a .dispatch.yaml project config and an example fleet roster with one
coordinator and two specialists. Edit the roster to match your fleet before
running 'dispatch run'.

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	rosterPath := filepath.Join(absPath, "roster.yaml")
	if err := writeExampleRoster(rosterPath); err != nil {
		return err
	}

	configPath := filepath.Join(absPath, ".dispatch.yaml")
	configBody := "fleet:\n  roster_path: roster.yaml\n"
	if err := writeFileOnce(configPath, []byte(configBody)); err != nil {
		return err
	}

	color.Green("Initialized dispatch project in %s", absPath)
	fmt.Println("  .dispatch.yaml  project configuration")
	fmt.Println("  roster.yaml     example fleet roster (edit before running)")
	return nil
}

func writeExampleRoster(path string) error {
	roster := config.Roster{
		StandIn: "specialist-1",
		Agents: []config.RosterEntry{
			{ID: "coordinator-1", Name: "Coordinator", Role: "coordinator"},
			{ID: "specialist-1", Name: "Builder", Role: "specialist", Capabilities: []string{"build"}},
			{ID: "specialist-2", Name: "Tester", Role: "specialist", Capabilities: []string{"test"}},
		},
	}
	data, err := yaml.Marshal(&roster)
	if err != nil {
		return fmt.Errorf("marshaling roster: %w", err)
	}
	return writeFileOnce(path, data)
}

// writeFileOnce refuses to clobber an existing file unless --force is set.
func writeFileOnce(path string, data []byte) error {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
