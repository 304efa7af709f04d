package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Lease.TTL != 300*time.Second {
		t.Errorf("lease TTL = %s, want 300s", cfg.Lease.TTL)
	}
	if cfg.Lease.MaxRenewals != 10 {
		t.Errorf("max renewals = %d, want 10", cfg.Lease.MaxRenewals)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Logging.Level)
	}
	if cfg.DBPath == "" || cfg.EvidenceDir == "" {
		t.Error("state paths not defaulted")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
db_path: /var/lib/phasegate/state.db
lease:
  ttl: 120s
  max_renewals: 5
sweep:
  schedule: "@every 30s"
logging:
  level: debug
  console: true
gates:
  IMPLEMENT:
    - name: build-green
      required: true
      command: make
      args: ["build"]
`
	path := filepath.Join(t.TempDir(), "phasegate.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.DBPath != "/var/lib/phasegate/state.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Lease.TTL != 2*time.Minute {
		t.Errorf("lease TTL = %s, want 2m", cfg.Lease.TTL)
	}
	if cfg.Lease.MaxRenewals != 5 {
		t.Errorf("max renewals = %d, want 5", cfg.Lease.MaxRenewals)
	}
	if cfg.Sweep.Schedule != "@every 30s" {
		t.Errorf("sweep schedule = %q", cfg.Sweep.Schedule)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	// Unspecified fields keep their defaults.
	if cfg.Metrics.Addr != ":9464" {
		t.Errorf("metrics addr = %q, want default", cfg.Metrics.Addr)
	}

	gs := cfg.Gates["IMPLEMENT"]
	if len(gs) != 1 || gs[0].Name != "build-green" || !gs[0].Required || gs[0].Command != "make" {
		t.Errorf("gates = %+v", gs)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PHASEGATE_LEASE_TTL", "45s")
	t.Setenv("PHASEGATE_LOGGING_LEVEL", "warn")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Lease.TTL != 45*time.Second {
		t.Errorf("lease TTL = %s, want 45s from env", cfg.Lease.TTL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q, want warn from env", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]Config{
		"zero ttl": {
			DBPath: "x.db",
			Lease:  LeaseConfig{TTL: 0, MaxRenewals: 10},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
		"negative renewals": {
			DBPath:  "x.db",
			Lease:   LeaseConfig{TTL: time.Minute, MaxRenewals: -1},
			Logging: LoggingConfig{Level: "info"},
		},
		"empty db path": {
			Lease:   LeaseConfig{TTL: time.Minute, MaxRenewals: 10},
			Logging: LoggingConfig{Level: "info"},
		},
		"bad log level": {
			DBPath:  "x.db",
			Lease:   LeaseConfig{TTL: time.Minute, MaxRenewals: 10},
			Logging: LoggingConfig{Level: "verbose"},
		},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() accepted invalid config", name)
		}
	}
}
