package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("MAX_CONCURRENCY", "8")
	t.Setenv("PROBE_URLS", "true")
	t.Setenv("CORS_ORIGINS", "http://localhost:4200, https://grants.internal.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.MaxConcurrency != 8 || !cfg.ProbeURLs {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"http://localhost:4200", "https://grants.internal.org"}) {
		t.Fatalf("unexpected CORS origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsBadConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
}

func TestLoadEngine(t *testing.T) {
	def, err := LoadEngine("")
	if err != nil {
		t.Fatalf("LoadEngine defaults failed: %v", err)
	}
	if def.Health.FailureThreshold != 3 || def.Matching.Weights.Focus != 0.4 {
		t.Fatalf("unexpected defaults: %+v", def)
	}

	path := filepath.Join(t.TempDir(), "engine.yaml")
	data := `
matching:
  weights:
    focus: 0.5
    amount: 0.2
    geography: 0.2
    deadline: 0.1
health:
  failure_threshold: 5
  cooldown_base: 10m
fetch:
  timeout: 20s
  max_attempts: 4
source_timeout: 90s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine failed: %v", err)
	}
	if cfg.Matching.Weights.Focus != 0.5 || cfg.Health.FailureThreshold != 5 || cfg.Health.CooldownBase != 10*time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Fetch.Timeout != 20*time.Second || cfg.Fetch.MaxAttempts != 4 || cfg.SourceTimeout != 90*time.Second {
		t.Fatalf("fetch overrides not applied: %+v", cfg.Fetch)
	}
	if cfg.Health.CooldownCap != time.Hour || cfg.Matching.DeadlineLeadDays != 14 {
		t.Fatalf("unset fields should keep defaults: %+v", cfg)
	}
}

func TestLoadEngineErrors(t *testing.T) {
	if _, err := LoadEngine(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("matching: ["), 0o644)
	if _, err := LoadEngine(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
