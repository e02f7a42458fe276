// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the threadhook agent.
type Config struct {
	ServiceName    string          `yaml:"service_name" env:"THREADHOOK_SERVICE_NAME"`
	ServiceVersion string          `yaml:"service_version"`
	DeploymentEnv  string          `yaml:"deployment_env"`
	LogLevel       string          `yaml:"log_level" env:"THREADHOOK_LOG_LEVEL"`
	Hook           HookConfig      `yaml:"hook"`
	Sinks          SinksConfig     `yaml:"sinks"`
	Exporters      ExportersConfig `yaml:"exporters"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	Health         HealthConfig    `yaml:"health"`
	Demo           DemoConfig      `yaml:"demo"`
}

// HookConfig controls the thread-start hook itself.
type HookConfig struct {
	Enabled    bool   `yaml:"enabled"`     // initial state; disabled unless set
	OnDemand   *bool  `yaml:"on_demand"`   // create the control file (default: true)
	ControlDir string `yaml:"control_dir"` // where hook.ctl lives
}

// OnDemandEnabled returns whether the control file should be created.
// Defaults to true when not explicitly set.
func (h *HookConfig) OnDemandEnabled() bool {
	if h.OnDemand == nil {
		return true
	}
	return *h.OnDemand
}

type SinksConfig struct {
	Log    LogSinkConfig    `yaml:"log"`
	Recent RecentSinkConfig `yaml:"recent"`
}

type LogSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tag     string `yaml:"tag"`
	Verbose bool   `yaml:"verbose"` // info instead of debug lines
}

// RecentSinkConfig keeps the last N events for the /hook endpoint.
type RecentSinkConfig struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"`
}

type ExportersConfig struct {
	OTLP   OTLPConfig   `yaml:"otlp"`
	Stdout StdoutConfig `yaml:"stdout"`
}

type OTLPConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"` // "grpc" or "http"
	Insecure    bool              `yaml:"insecure"`
	Compression string            `yaml:"compression"` // "gzip" or "none"
	Headers     map[string]string `yaml:"headers"`
}

type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

type MetricsConfig struct {
	Enabled bool          `yaml:"enabled"`
	Threads MetricsToggle `yaml:"threads"`
	// Interval between OS thread samples of the agent process.
	Interval time.Duration `yaml:"interval"`
}

type MetricsToggle struct {
	Enabled bool `yaml:"enabled"`
}

// HealthConfig configures the health and control HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"THREADHOOK_HEALTH_PORT"` // e.g. ":8687"
}

// DemoConfig names the two demo threads.
type DemoConfig struct {
	OuterName string `yaml:"outer_name"`
	InnerName string `yaml:"inner_name"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "threadhook",
		LogLevel:    "info",
		Hook: HookConfig{
			Enabled:    false,
			ControlDir: "/var/run/threadhook",
		},
		Sinks: SinksConfig{
			Log: LogSinkConfig{
				Enabled: true,
				Tag:     "HOOOOOOOOK",
				Verbose: true,
			},
			Recent: RecentSinkConfig{
				Enabled:  true,
				Capacity: 64,
			},
		},
		Exporters: ExportersConfig{
			OTLP: OTLPConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				Protocol:    "grpc",
				Insecure:    true,
				Compression: "gzip",
			},
			Stdout: StdoutConfig{
				Enabled: false,
				Format:  "text",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Threads:  MetricsToggle{Enabled: true},
			Interval: 15 * time.Second,
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8687",
		},
		Demo: DemoConfig{
			OuterName: "worker-1",
			InnerName: "worker-2",
		},
	}
}

// LoadDir loads YAML files from a directory and merges them into a single
// Config. Expected files:
//   - base.yaml      → service_name, log_level, health, demo
//   - hook.yaml      → hook, sinks
//   - exporters.yaml → exporters, metrics
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, f := range []string{"base.yaml", "hook.yaml", "exporters.yaml"} {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing Config,
// overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads THREADHOOK_* environment variables and applies
// them to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"THREADHOOK_SERVICE_NAME":            func(v string) { c.ServiceName = v },
		"THREADHOOK_LOG_LEVEL":               func(v string) { c.LogLevel = v },
		"THREADHOOK_HEALTH_PORT":             func(v string) { c.Health.Port = v },
		"THREADHOOK_CONTROL_DIR":             func(v string) { c.Hook.ControlDir = v },
		"THREADHOOK_EXPORTERS_OTLP_ENDPOINT": func(v string) { c.Exporters.OTLP.Endpoint = v },
		"THREADHOOK_EXPORTERS_OTLP_PROTOCOL": func(v string) { c.Exporters.OTLP.Protocol = v },
	}

	boolOverrides := map[string]*bool{
		"THREADHOOK_HOOK_ENABLED":    &c.Hook.Enabled,
		"THREADHOOK_HEALTH_ENABLED":  &c.Health.Enabled,
		"THREADHOOK_METRICS_ENABLED": &c.Metrics.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Hook.OnDemandEnabled() && c.Hook.ControlDir == "" {
		return fmt.Errorf("hook.control_dir is required when hook.on_demand is set")
	}

	if c.Exporters.OTLP.Enabled {
		if c.Exporters.OTLP.Endpoint == "" {
			return fmt.Errorf("exporters.otlp.endpoint is required when OTLP is enabled")
		}
		if c.Exporters.OTLP.Protocol != "grpc" && c.Exporters.OTLP.Protocol != "http" {
			return fmt.Errorf("exporters.otlp.protocol must be 'grpc' or 'http'")
		}
	}
	switch c.Exporters.OTLP.Compression {
	case "", "gzip", "none":
	default:
		return fmt.Errorf("exporters.otlp.compression must be 'gzip' or 'none'")
	}

	if c.Exporters.Stdout.Enabled {
		switch c.Exporters.Stdout.Format {
		case "", "text", "json":
		default:
			return fmt.Errorf("exporters.stdout.format must be 'text' or 'json'")
		}
	}

	if c.Sinks.Recent.Enabled && c.Sinks.Recent.Capacity <= 0 {
		return fmt.Errorf("sinks.recent.capacity must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Threads.Enabled && c.Metrics.Interval < time.Second {
		return fmt.Errorf("metrics.interval must be at least 1s")
	}

	if c.Health.Enabled && c.Health.Port == "" {
		return fmt.Errorf("health.port is required when health is enabled")
	}

	if c.Demo.OuterName == "" || c.Demo.InnerName == "" {
		return fmt.Errorf("demo.outer_name and demo.inner_name must be set")
	}

	return nil
}
