package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"finetune-orchestrator/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("server port: got %q", cfg.ServerPort)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("poll interval: got %v", cfg.PollInterval)
	}
	if cfg.ProvisioningCeiling != 15*time.Minute {
		t.Errorf("provisioning ceiling: got %v", cfg.ProvisioningCeiling)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FT_SERVER_PORT", "9090")
	t.Setenv("FT_POLL_INTERVAL", "250ms")
	t.Setenv("FT_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("server port: got %q", cfg.ServerPort)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval: got %v", cfg.PollInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("FT_POLL_INTERVAL", "soon")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected invalid duration to fail loading")
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server_port: \"7070\"\ndatabase_url: postgres://file-value\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FT_CONFIG_FILE", path)
	t.Setenv("FT_SERVER_PORT", "6060")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	// Environment wins over the file; file wins over defaults.
	if cfg.ServerPort != "6060" {
		t.Errorf("server port: got %q, want env override", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "postgres://file-value" {
		t.Errorf("database url: got %q, want file value", cfg.DatabaseURL)
	}
}
