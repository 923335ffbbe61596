package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("default port = %q, want 8080", cfg.Port)
	}
	if got := time.Duration(cfg.Poll.Interval); got != 3*time.Second {
		t.Fatalf("default poll interval = %v, want 3s", got)
	}
	if cfg.Poll.MaxAttempts != 60 {
		t.Fatalf("default max attempts = %d, want 60", cfg.Poll.MaxAttempts)
	}
	if cfg.Artifacts.CapacityBytes != 4<<20 {
		t.Fatalf("default artifact capacity = %d, want %d", cfg.Artifacts.CapacityBytes, 4<<20)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("COMPUTE_BASE_URL", "http://compute.internal:8000")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("POLL_MAX_ATTEMPTS", "10")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.Compute.BaseURL != "http://compute.internal:8000" {
		t.Fatalf("compute base url = %q", cfg.Compute.BaseURL)
	}
	if got := time.Duration(cfg.Poll.Interval); got != 250*time.Millisecond {
		t.Fatalf("poll interval = %v, want 250ms", got)
	}
	if cfg.Poll.MaxAttempts != 10 {
		t.Fatalf("max attempts = %d, want 10", cfg.Poll.MaxAttempts)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "http://b.test" {
		t.Fatalf("cors origins = %v", cfg.CORSAllowOrigins)
	}
}

func TestLoadYAMLFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := []byte("port: \"7070\"\ncompute:\n  baseURL: http://file.test\n  timeout: 5s\npoll:\n  maxAttempts: 20\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("GATEWAY_CONFIG", path)
	t.Setenv("POLL_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("port from file = %q, want 7070", cfg.Port)
	}
	if got := time.Duration(cfg.Compute.Timeout); got != 5*time.Second {
		t.Fatalf("compute timeout from file = %v, want 5s", got)
	}
	if cfg.Poll.MaxAttempts != 5 {
		t.Fatalf("env should override file: max attempts = %d, want 5", cfg.Poll.MaxAttempts)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte("compute:\n  timeout: fast\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("GATEWAY_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error for malformed duration")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("GATEWAY_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
