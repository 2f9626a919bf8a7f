package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"solmix/core"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "solmix.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mix.HopCount != 8 || cfg.Mix.MaxConcurrentRoutes != 2 {
		t.Fatalf("mix defaults wrong: %+v", cfg.Mix)
	}
	if cfg.Pool.TargetSize != 32 {
		t.Fatalf("pool defaults wrong: %+v", cfg.Pool)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeFile(t, `
rpc:
  endpoint: http://localhost:8899
mix:
  hop_count: 4
  balance_check_timeout: 5s
pool:
  target_size: 64
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.Endpoint != "http://localhost:8899" {
		t.Fatalf("endpoint not applied: %q", cfg.RPC.Endpoint)
	}
	if cfg.Mix.HopCount != 4 || cfg.Mix.BalanceCheckTimeout != 5*time.Second {
		t.Fatalf("mix overrides not applied: %+v", cfg.Mix)
	}
	if cfg.Pool.TargetSize != 64 {
		t.Fatalf("pool override not applied: %+v", cfg.Pool)
	}
	// Untouched keys keep their defaults.
	if cfg.Mix.MaxConcurrentRoutes != 2 {
		t.Fatalf("default lost: %+v", cfg.Mix)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
mix:
  hop_cuont: 4
`)
	if _, err := Load(path); !errors.Is(err, core.ErrUnknownConfigKey) {
		t.Fatalf("want ErrUnknownConfigKey, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RPC_ENDPOINT", "http://env:8899")
	t.Setenv("DATABASE_URL", "/tmp/env.db")
	t.Setenv("MIXER_ENCRYPTION_SECRET", "env-secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.Endpoint != "http://env:8899" || cfg.Database.URL != "/tmp/env.db" || cfg.Vault.Secret != "env-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestDefaultYAMLRoundTrips(t *testing.T) {
	body, err := DefaultYAML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	path := writeFile(t, string(body))
	if _, err := Load(path); err != nil {
		t.Fatalf("template does not load back: %v", err)
	}
}
