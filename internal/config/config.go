// Package config handles loading and validating phasegate configuration.
// Supports YAML config files and PHASEGATE_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all phasegate configuration.
type Config struct {
	DBPath      string        `mapstructure:"db_path"`
	EvidenceDir string        `mapstructure:"evidence_dir"`
	AuditDir    string        `mapstructure:"audit_dir"`
	Lease       LeaseConfig   `mapstructure:"lease"`
	Sweep       SweepConfig   `mapstructure:"sweep"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Logging     LoggingConfig `mapstructure:"logging"`

	// Gates maps phase names to the external probes that must run before
	// the phase is considered complete.
	Gates map[string][]GateSpec `mapstructure:"gates"`
}

// GateSpec describes one external gate probe.
type GateSpec struct {
	Name     string   `mapstructure:"name"`
	Required bool     `mapstructure:"required"`
	Command  string   `mapstructure:"command"`
	Args     []string `mapstructure:"args"`
}

// LeaseConfig bounds lease lifetimes.
type LeaseConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxRenewals int           `mapstructure:"max_renewals"`
}

// SweepConfig controls the expired-lease sweeper.
type SweepConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// MetricsConfig controls the Prometheus endpoint served by the daemon.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// GlobalConfigPath returns the default config file location.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "phasegate.yaml"
	}
	return filepath.Join(home, ".config", "phasegate", "phasegate.yaml")
}

// DefaultDataDir returns the default state directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".phasegate"
	}
	return filepath.Join(home, ".local", "share", "phasegate")
}

func defaults(v *viper.Viper) {
	dataDir := DefaultDataDir()
	v.SetDefault("db_path", filepath.Join(dataDir, "phasegate.db"))
	v.SetDefault("evidence_dir", filepath.Join(dataDir, "evidence"))
	v.SetDefault("audit_dir", filepath.Join(dataDir, "audit"))
	v.SetDefault("lease.ttl", "300s")
	v.SetDefault("lease.max_renewals", 10)
	v.SetDefault("sweep.schedule", "* * * * *")
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", filepath.Join(dataDir, "logs"))
	v.SetDefault("logging.console", false)
}

// Load reads configuration from the default path and environment.
func Load() (*Config, error) {
	return LoadFromPath(GlobalConfigPath())
}

// LoadFromPath reads configuration from an explicit file path. A missing file
// is not an error; defaults and environment overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("PHASEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Lease.TTL <= 0 {
		return fmt.Errorf("lease.ttl must be positive, got %s", c.Lease.TTL)
	}
	if c.Lease.MaxRenewals < 0 {
		return fmt.Errorf("lease.max_renewals must be non-negative, got %d", c.Lease.MaxRenewals)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must be set")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
