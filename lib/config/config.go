// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Dirigent daemon.
type Config struct {
	// Bus configures the event bus.
	Bus BusConfig `yaml:"bus"`

	// Supervisor configures the process supervisor.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Orchestration configures the workflow engine.
	Orchestration OrchestrationConfig `yaml:"orchestration"`

	// Store configures task persistence.
	Store StoreConfig `yaml:"store"`

	// Wire configures the event stream socket.
	Wire WireConfig `yaml:"wire"`

	// Telemetry configures the telemetry emitter.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging configures the daemon logger.
	Logging LoggingConfig `yaml:"logging"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	// HistorySize is the capacity of the emitted-event ring.
	// Default: 500
	HistorySize int `yaml:"history_size"`

	// MaxListenersPerPattern caps subscriptions per exact pattern.
	// Default: 100
	MaxListenersPerPattern int `yaml:"max_listeners_per_pattern"`

	// MaxWildcardListeners caps glob and regex subscriptions across
	// the whole bus.
	// Default: 250
	MaxWildcardListeners int `yaml:"max_wildcard_listeners"`

	// DefaultTimeout bounds one listener callback execution.
	// Default: 30s
	DefaultTimeout string `yaml:"default_timeout"`
}

// SupervisorConfig configures the process supervisor.
type SupervisorConfig struct {
	// MaxProcesses caps tracked processes, retained terminal ones
	// included.
	// Default: 500
	MaxProcesses int `yaml:"max_processes"`

	// DefaultTimeout bounds runs started without their own timeout.
	// Empty or "0s" leaves such runs unbounded.
	DefaultTimeout string `yaml:"default_timeout"`

	// GracefulShutdownTimeout is how long a graceful stop waits
	// before escalating to a forced stop.
	// Default: 10s
	GracefulShutdownTimeout string `yaml:"graceful_shutdown_timeout"`

	// Retention is how long terminal processes stay on record.
	// Default: 1h
	Retention string `yaml:"retention"`

	// CleanupInterval paces the retention sweep.
	// Default: 1m
	CleanupInterval string `yaml:"cleanup_interval"`

	// HeartbeatStaleAfter is the heartbeat age beyond which a running
	// process is flagged stale.
	// Default: 5m
	HeartbeatStaleAfter string `yaml:"heartbeat_stale_after"`

	// HeartbeatCheckInterval paces the stale-heartbeat sweep.
	// Default: 1m
	HeartbeatCheckInterval string `yaml:"heartbeat_check_interval"`
}

// OrchestrationConfig configures the workflow engine.
type OrchestrationConfig struct {
	// Workers bounds batch processing concurrency.
	// Default: 4
	Workers int `yaml:"workers"`

	// TaskTimeout bounds each task run. Empty defers to the
	// supervisor's default timeout.
	TaskTimeout string `yaml:"task_timeout"`

	// Command, when set, is the argv prefix of an external command
	// run once per task (the task is described to it through
	// DIRIGENT_TASK_* environment variables). Empty keeps the
	// built-in simulated runner.
	Command []string `yaml:"command"`

	// SimulatedWork is the simulated runner's per-task duration.
	// Default: 10ms
	SimulatedWork string `yaml:"simulated_work"`
}

// Store kinds accepted by StoreConfig.Kind.
const (
	StoreKindFile   = "file"
	StoreKindSQLite = "sqlite"
)

// StoreConfig configures task persistence.
type StoreConfig struct {
	// Kind selects the backend: "file" (JSONC task file) or
	// "sqlite".
	// Default: file
	Kind string `yaml:"kind"`

	// Path is the task file path (file) or database path (sqlite).
	// Default: ${HOME}/.local/share/dirigent/tasks.json
	Path string `yaml:"path"`

	// Watch enables the inotify watcher that emits task.file.changed
	// events when the task file is edited externally. File kind only.
	// Default: true
	Watch bool `yaml:"watch"`

	// PoolSize is the sqlite connection pool size. Zero selects the
	// pool default.
	PoolSize int `yaml:"pool_size"`
}

// WireConfig configures the event stream socket.
type WireConfig struct {
	// Enabled turns the stream server on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Socket is the Unix socket path.
	// Default: /run/dirigent/wire.sock
	Socket string `yaml:"socket"`

	// SendQueue is the per-client outgoing frame buffer; clients
	// that fall this far behind are disconnected. Zero selects the
	// wire default.
	SendQueue int `yaml:"send_queue"`
}

// TelemetryConfig configures the telemetry emitter.
type TelemetryConfig struct {
	// Enabled turns periodic telemetry flushing on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// FlushInterval is how often buffered spans and metrics are
	// flushed.
	// Default: 1m
	FlushInterval string `yaml:"flush_interval"`
}

// LoggingConfig configures the daemon logger.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format selects the handler: "text", "json", or "auto" (text
	// on a terminal, JSON otherwise).
	// Default: auto
	Format string `yaml:"format"`
}

// Default returns a configuration mirroring the component defaults.
// LoadFile starts from it, so a partial file only overrides what it
// names.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "dirigent")

	return &Config{
		Bus: BusConfig{
			HistorySize:            500,
			MaxListenersPerPattern: 100,
			MaxWildcardListeners:   250,
			DefaultTimeout:         "30s",
		},
		Supervisor: SupervisorConfig{
			MaxProcesses:            500,
			GracefulShutdownTimeout: "10s",
			Retention:               "1h",
			CleanupInterval:         "1m",
			HeartbeatStaleAfter:     "5m",
			HeartbeatCheckInterval:  "1m",
		},
		Orchestration: OrchestrationConfig{
			Workers:       4,
			SimulatedWork: "10ms",
		},
		Store: StoreConfig{
			Kind:  StoreKindFile,
			Path:  filepath.Join(dataDir, "tasks.json"),
			Watch: true,
		},
		Wire: WireConfig{
			Enabled: true,
			Socket:  "/run/dirigent/wire.sock",
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			FlushInterval: "1m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by DIRIGENT_CONFIG.
// An unset variable yields the defaults, adjusted by environment
// overrides and variable expansion just as a loaded file would be.
func Load() (*Config, error) {
	configPath := os.Getenv("DIRIGENT_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.applyEnvOverrides()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over the defaults.
// A missing file is not an error: the daemon runs with defaults
// until a config file exists. DIRIGENT_* environment overrides and
// ${VAR} expansion are applied after the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvOverrides applies the DIRIGENT_* operational overrides.
// Only knobs an operator plausibly flips per invocation are exposed;
// everything else changes through the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DIRIGENT_STORE_KIND"); v != "" {
		c.Store.Kind = v
	}
	if v := os.Getenv("DIRIGENT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DIRIGENT_WIRE_SOCKET"); v != "" {
		c.Wire.Socket = v
	}
	if v := os.Getenv("DIRIGENT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DIRIGENT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path-valued fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Wire.Socket = expandVars(c.Wire.Socket, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, consulting
// the provided vars first and the environment second.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Bus.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("bus.history_size must not be negative"))
	}
	if c.Bus.MaxListenersPerPattern < 0 {
		errs = append(errs, fmt.Errorf("bus.max_listeners_per_pattern must not be negative"))
	}
	if c.Bus.MaxWildcardListeners < 0 {
		errs = append(errs, fmt.Errorf("bus.max_wildcard_listeners must not be negative"))
	}
	if c.Supervisor.MaxProcesses < 0 {
		errs = append(errs, fmt.Errorf("supervisor.max_processes must not be negative"))
	}
	if c.Orchestration.Workers < 0 {
		errs = append(errs, fmt.Errorf("orchestration.workers must not be negative"))
	}
	if c.Store.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("store.pool_size must not be negative"))
	}
	if c.Wire.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("wire.send_queue must not be negative"))
	}

	if c.Store.Kind != StoreKindFile && c.Store.Kind != StoreKindSQLite {
		errs = append(errs, fmt.Errorf("store.kind must be %q or %q, got %q",
			StoreKindFile, StoreKindSQLite, c.Store.Kind))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Wire.Enabled && c.Wire.Socket == "" {
		errs = append(errs, fmt.Errorf("wire.socket is required when wire is enabled"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of auto, text, json; got %q", c.Logging.Format))
	}

	durations := []struct {
		name  string
		value string
	}{
		{"bus.default_timeout", c.Bus.DefaultTimeout},
		{"supervisor.default_timeout", c.Supervisor.DefaultTimeout},
		{"supervisor.graceful_shutdown_timeout", c.Supervisor.GracefulShutdownTimeout},
		{"supervisor.retention", c.Supervisor.Retention},
		{"supervisor.cleanup_interval", c.Supervisor.CleanupInterval},
		{"supervisor.heartbeat_stale_after", c.Supervisor.HeartbeatStaleAfter},
		{"supervisor.heartbeat_check_interval", c.Supervisor.HeartbeatCheckInterval},
		{"orchestration.task_timeout", c.Orchestration.TaskTimeout},
		{"orchestration.simulated_work", c.Orchestration.SimulatedWork},
		{"telemetry.flush_interval", c.Telemetry.FlushInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", d.name, d.value))
		}
	}

	return errors.Join(errs...)
}

// Duration parses a duration field already vetted by Validate. Empty
// or unparseable values return the fallback.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
