// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dirigent.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Store.Kind != StoreKindFile {
		t.Errorf("store kind = %q, want %q", cfg.Store.Kind, StoreKindFile)
	}
	if !cfg.Store.Watch {
		t.Error("store watch = false, want true")
	}
	if !cfg.Wire.Enabled {
		t.Error("wire enabled = false, want true")
	}
	if cfg.Bus.HistorySize != 500 {
		t.Errorf("bus history size = %d, want 500", cfg.Bus.HistorySize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "auto" {
		t.Errorf("logging = %s/%s, want info/auto", cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Kind != StoreKindFile {
		t.Errorf("store kind = %q, want default %q", cfg.Store.Kind, StoreKindFile)
	}
	if cfg.Supervisor.MaxProcesses != 500 {
		t.Errorf("supervisor max processes = %d, want 500", cfg.Supervisor.MaxProcesses)
	}
}

func TestLoadFilePartialOverride(t *testing.T) {
	path := writeConfig(t, `
bus:
  history_size: 64

store:
  kind: sqlite
  path: /data/dirigent.db
  pool_size: 4

wire:
  enabled: false

logging:
  level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Bus.HistorySize != 64 {
		t.Errorf("bus history size = %d, want 64", cfg.Bus.HistorySize)
	}
	if cfg.Store.Kind != StoreKindSQLite || cfg.Store.Path != "/data/dirigent.db" {
		t.Errorf("store = %s %s, want sqlite /data/dirigent.db", cfg.Store.Kind, cfg.Store.Path)
	}
	if cfg.Store.PoolSize != 4 {
		t.Errorf("store pool size = %d, want 4", cfg.Store.PoolSize)
	}
	if cfg.Wire.Enabled {
		t.Error("wire enabled = true, want false")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Logging.Level)
	}

	// Sections the file does not mention keep their defaults.
	if cfg.Bus.DefaultTimeout != "30s" {
		t.Errorf("bus default timeout = %q, want 30s", cfg.Bus.DefaultTimeout)
	}
	if cfg.Orchestration.Workers != 4 {
		t.Errorf("orchestration workers = %d, want 4", cfg.Orchestration.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config does not validate: %v", err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "store: [not: a, mapping")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted malformed YAML")
	}
}

func TestLoadHonorsEnvVariable(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")
	t.Setenv("DIRIGENT_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadWithoutEnvVariable(t *testing.T) {
	t.Setenv("DIRIGENT_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Kind != StoreKindFile {
		t.Errorf("store kind = %q, want default %q", cfg.Store.Kind, StoreKindFile)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  kind: file
  path: /file/tasks.json
logging:
  level: info
`)
	t.Setenv("DIRIGENT_STORE_KIND", "sqlite")
	t.Setenv("DIRIGENT_STORE_PATH", "/env/dirigent.db")
	t.Setenv("DIRIGENT_WIRE_SOCKET", "/env/wire.sock")
	t.Setenv("DIRIGENT_LOG_LEVEL", "error")
	t.Setenv("DIRIGENT_LOG_FORMAT", "json")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Store.Kind != StoreKindSQLite {
		t.Errorf("store kind = %q, want sqlite (env override)", cfg.Store.Kind)
	}
	if cfg.Store.Path != "/env/dirigent.db" {
		t.Errorf("store path = %q, want /env/dirigent.db", cfg.Store.Path)
	}
	if cfg.Wire.Socket != "/env/wire.sock" {
		t.Errorf("wire socket = %q, want /env/wire.sock", cfg.Wire.Socket)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %s/%s, want error/json", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestStorePathExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/example")
	path := writeConfig(t, "store:\n  path: ${HOME}/dirigent/tasks.json\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Path != "/home/example/dirigent/tasks.json" {
		t.Errorf("store path = %q, want /home/example/dirigent/tasks.json", cfg.Store.Path)
	}
}

func TestExpandVars(t *testing.T) {
	cases := []struct {
		input string
		vars  map[string]string
		want  string
	}{
		{"${HOME}/dirigent", map[string]string{"HOME": "/home/user"}, "/home/user/dirigent"},
		{"${MISSING_VALUE_FOR_TEST:-fallback}", map[string]string{}, "fallback"},
		{"${PRESENT:-fallback}", map[string]string{"PRESENT": "value"}, "value"},
		{"${A}/${B}", map[string]string{"A": "first", "B": "second"}, "first/second"},
		{"no variables here", map[string]string{}, "no variables here"},
	}
	for _, c := range cases {
		if got := expandVars(c.input, c.vars); got != c.want {
			t.Errorf("expandVars(%q) = %q, want %q", c.input, got, c.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			modify: func(c *Config) {},
		},
		{
			name:    "bad store kind",
			modify:  func(c *Config) { c.Store.Kind = "redis" },
			wantErr: "store.kind",
		},
		{
			name:    "empty store path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store.path is required",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "bad duration",
			modify:  func(c *Config) { c.Supervisor.Retention = "eleven minutes" },
			wantErr: "supervisor.retention",
		},
		{
			name:    "negative workers",
			modify:  func(c *Config) { c.Orchestration.Workers = -1 },
			wantErr: "orchestration.workers",
		},
		{
			name:    "wire enabled without socket",
			modify:  func(c *Config) { c.Wire.Socket = "" },
			wantErr: "wire.socket is required",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.modify(cfg)

			err := cfg.Validate()
			if c.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("error %q missing %q", err, c.wantErr)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("Duration(\"\") = %v, want 5s fallback", got)
	}
	if got := Duration("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration(250ms) = %v, want 250ms", got)
	}
	if got := Duration("bogus", time.Minute); got != time.Minute {
		t.Errorf("Duration(bogus) = %v, want 1m fallback", got)
	}
}
