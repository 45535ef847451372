package server

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.HealthAddr != ":8081" {
		t.Fatalf("expected default health addr, got %q", cfg.HealthAddr)
	}
	if cfg.StorageDriver != "memory" {
		t.Fatalf("expected default storage driver, got %q", cfg.StorageDriver)
	}
	if cfg.SQLitePath != "poker.db" {
		t.Fatalf("expected default sqlite path, got %q", cfg.SQLitePath)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("PLANNING_POKER_HTTP_ADDR", "env-http")
	t.Setenv("PLANNING_POKER_STORAGE_DRIVER", "sqlite")

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-http",
		"-sqlite-path", "flag.db",
		"-session-idle", "30m",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-http" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StorageDriver != "sqlite" {
		t.Fatalf("expected env storage driver, got %q", cfg.StorageDriver)
	}
	if cfg.SQLitePath != "flag.db" {
		t.Fatalf("expected flag sqlite path, got %q", cfg.SQLitePath)
	}
	if cfg.SessionIdle != 30*time.Minute {
		t.Fatalf("expected flag session idle, got %s", cfg.SessionIdle)
	}
}
