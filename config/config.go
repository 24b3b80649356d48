// Package config loads and validates the rangetag configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
	Sweep    SweepConfig   `yaml:"sweep"`
	Connect  ConnectConfig `yaml:"connect"`
	Service  ServiceConfig `yaml:"service"`
}

// SweepConfig controls the staleness sweeper.
type SweepConfig struct {
	IntervalMs int64 `yaml:"interval_ms"` // sweep tick period
	StaleMs    int64 `yaml:"stale_ms"`    // eviction threshold for Discovered records
}

// ConnectConfig controls connection retry behavior.
type ConnectConfig struct {
	RetryLimit int `yaml:"retry_limit"` // disconnects before scan auto-resume stops
}

// ServiceConfig names the accessory GATT service and its three channel roles.
type ServiceConfig struct {
	ServiceUUID  string `yaml:"service_uuid"`
	PairingUUID  string `yaml:"pairing_uuid"`
	InboundUUID  string `yaml:"inbound_uuid"`
	OutboundUUID string `yaml:"outbound_uuid"`
}

// Default UUIDs for the rangetag accessory service.
const (
	DefaultServiceUUID  = "8e7c1a40-3f22-4b1e-9c05-2d9b64f1a001"
	DefaultPairingUUID  = "8e7c1a40-3f22-4b1e-9c05-2d9b64f1a002"
	DefaultInboundUUID  = "8e7c1a40-3f22-4b1e-9c05-2d9b64f1a003"
	DefaultOutboundUUID = "8e7c1a40-3f22-4b1e-9c05-2d9b64f1a004"
)

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rangetag")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:  filepath.Join(home, ".local", "share", "rangetag"),
		LogLevel: "info",
		Sweep: SweepConfig{
			IntervalMs: 200,
			StaleMs:    5000,
		},
		Connect: ConnectConfig{
			RetryLimit: 5,
		},
		Service: ServiceConfig{
			ServiceUUID:  DefaultServiceUUID,
			PairingUUID:  DefaultPairingUUID,
			InboundUUID:  DefaultInboundUUID,
			OutboundUUID: DefaultOutboundUUID,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in data_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DataDir = expandTilde(cfg.DataDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	if c.Sweep.IntervalMs <= 0 {
		return fmt.Errorf("sweep.interval_ms must be > 0")
	}

	if c.Sweep.StaleMs <= 0 {
		return fmt.Errorf("sweep.stale_ms must be > 0")
	}

	if c.Sweep.StaleMs < c.Sweep.IntervalMs {
		return fmt.Errorf("sweep.stale_ms must be >= sweep.interval_ms")
	}

	if c.Connect.RetryLimit <= 0 {
		return fmt.Errorf("connect.retry_limit must be > 0")
	}

	for _, u := range []struct {
		name  string
		value string
	}{
		{"service.service_uuid", c.Service.ServiceUUID},
		{"service.pairing_uuid", c.Service.PairingUUID},
		{"service.inbound_uuid", c.Service.InboundUUID},
		{"service.outbound_uuid", c.Service.OutboundUUID},
	} {
		if u.value == "" {
			return fmt.Errorf("%s must not be empty", u.name)
		}
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be trace, debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// SweepInterval returns the sweep tick period as a Duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalMs) * time.Millisecond
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
