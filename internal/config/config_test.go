package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Heartbeat.InfraThreshold != 120*time.Second {
		t.Errorf("expected infra threshold 120s, got %v", cfg.Heartbeat.InfraThreshold)
	}
	if cfg.Heartbeat.FunctionalThreshold != 90*time.Second {
		t.Errorf("expected functional threshold 90s, got %v", cfg.Heartbeat.FunctionalThreshold)
	}
	if cfg.Heartbeat.Window != 30*time.Second {
		t.Errorf("expected window 30s, got %v", cfg.Heartbeat.Window)
	}
	if cfg.Failover.MissThreshold != 3 {
		t.Errorf("expected miss threshold 3, got %d", cfg.Failover.MissThreshold)
	}
	if cfg.Failover.RecoveryWindows != 1 {
		t.Errorf("expected recovery windows 1, got %d", cfg.Failover.RecoveryWindows)
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Scheduler.OrphanGrace != 60*time.Second {
		t.Errorf("expected orphan grace 60s, got %v", cfg.Scheduler.OrphanGrace)
	}
	if cfg.Fleet.RosterPath != "fleet.yaml" {
		t.Errorf("expected roster path fleet.yaml, got %q", cfg.Fleet.RosterPath)
	}
}

func TestLoadFromPathOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	body := `
db:
  path: /var/lib/dispatch/state.db
heartbeat:
  infra_threshold: 4m
  functional_threshold: 2m
  window: 10s
failover:
  miss_threshold: 5
scheduler:
  max_retries: 1
fleet:
  roster_path: /etc/dispatch/roster.yaml
`
	if err := os.WriteFile(configPath, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DB.Path != "/var/lib/dispatch/state.db" {
		t.Errorf("expected db path override, got %q", cfg.DB.Path)
	}
	if cfg.Heartbeat.InfraThreshold != 4*time.Minute {
		t.Errorf("expected infra threshold 4m, got %v", cfg.Heartbeat.InfraThreshold)
	}
	if cfg.Heartbeat.FunctionalThreshold != 2*time.Minute {
		t.Errorf("expected functional threshold 2m, got %v", cfg.Heartbeat.FunctionalThreshold)
	}
	if cfg.Heartbeat.Window != 10*time.Second {
		t.Errorf("expected window 10s, got %v", cfg.Heartbeat.Window)
	}
	if cfg.Failover.MissThreshold != 5 {
		t.Errorf("expected miss threshold 5, got %d", cfg.Failover.MissThreshold)
	}
	if cfg.Failover.RecoveryWindows != 1 {
		t.Errorf("expected recovery windows default 1, got %d", cfg.Failover.RecoveryWindows)
	}
	if cfg.Scheduler.MaxRetries != 1 {
		t.Errorf("expected max retries 1, got %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Fleet.RosterPath != "/etc/dispatch/roster.yaml" {
		t.Errorf("expected roster path override, got %q", cfg.Fleet.RosterPath)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
