// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

// Dirigent-daemon is the long-running orchestration process. It hosts
// the event bus, the process supervisor, and the orchestration bridge;
// persists tasks through the configured store; and serves the live
// event stream to viewers over a unix socket.
//
// On startup:
//  1. Loads configuration from --config or $DIRIGENT_CONFIG, applies
//     DIRIGENT_* environment overrides, then flag overrides.
//  2. Builds the telemetry emitter and the event bus.
//  3. Starts the supervisor and its background sweeps.
//  4. Opens the task store (JSONC file or SQLite). In file mode the
//     task file is watched and pending tasks are processed through
//     the bridge on every change.
//  5. Constructs the orchestration bridge over the workflow engine.
//  6. Starts the wire server for event stream clients.
//  7. Runs until SIGINT/SIGTERM, then shuts down in reverse order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dirigent-project/dirigent/lib/clock"
	"github.com/dirigent-project/dirigent/lib/config"
	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/orchestration"
	"github.com/dirigent-project/dirigent/lib/supervisor"
	"github.com/dirigent-project/dirigent/lib/taskstore"
	"github.com/dirigent-project/dirigent/lib/telemetry"
	"github.com/dirigent-project/dirigent/lib/version"
	"github.com/dirigent-project/dirigent/lib/wire"
	"github.com/dirigent-project/dirigent/lib/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		socketPath string
		taskFile   string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("dirigent-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $DIRIGENT_CONFIG, else built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", "", "wire socket path (overrides configuration)")
	flagSet.StringVar(&taskFile, "task-file", "", "task store path (overrides configuration)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides configuration)")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other Dirigent
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("dirigent-daemon")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Wire.Socket = socketPath
	}
	if taskFile != "" {
		cfg.Store.Path = taskFile
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// runDaemon wires the components together and blocks until ctx is
// cancelled, then shuts them down in reverse order of construction.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.Real()

	var emitter *telemetry.Emitter
	if cfg.Telemetry.Enabled {
		var err error
		emitter, err = telemetry.New(telemetry.Config{
			Source: "dirigent-daemon",
			Sink:   telemetry.LogSink(logger),
			Clock:  clk,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("building telemetry: %w", err)
		}
	}

	bus, err := event.New(event.Config{
		MaxListenersPerPattern: cfg.Bus.MaxListenersPerPattern,
		MaxWildcardListeners:   cfg.Bus.MaxWildcardListeners,
		HistorySize:            cfg.Bus.HistorySize,
		DefaultTimeout:         config.Duration(cfg.Bus.DefaultTimeout, 30*time.Second),
		Logger:                 logger,
		Clock:                  clk,
		Telemetry:              emitter,
	})
	if err != nil {
		return fmt.Errorf("building event bus: %w", err)
	}

	sup, err := supervisor.New(supervisor.Config{
		MaxProcesses:            cfg.Supervisor.MaxProcesses,
		DefaultTimeout:          config.Duration(cfg.Supervisor.DefaultTimeout, 0),
		GracefulShutdownTimeout: config.Duration(cfg.Supervisor.GracefulShutdownTimeout, 0),
		RetentionPeriod:         config.Duration(cfg.Supervisor.Retention, 0),
		CleanupInterval:         config.Duration(cfg.Supervisor.CleanupInterval, 0),
		HeartbeatStaleAfter:     config.Duration(cfg.Supervisor.HeartbeatStaleAfter, 0),
		HeartbeatCheckInterval:  config.Duration(cfg.Supervisor.HeartbeatCheckInterval, 0),
		Logger:                  logger,
		Clock:                   clk,
		Bus:                     bus,
		Telemetry:               emitter,
	})
	if err != nil {
		return fmt.Errorf("building supervisor: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	var store orchestration.TaskStore
	var closeStore func() error
	if cfg.Store.Kind == config.StoreKindSQLite {
		sqliteStore, err := taskstore.OpenSQLite(taskstore.SQLiteConfig{
			Path:     cfg.Store.Path,
			PoolSize: cfg.Store.PoolSize,
			Logger:   logger,
			Clock:    clk,
		})
		if err != nil {
			return fmt.Errorf("opening task store: %w", err)
		}
		store = sqliteStore
		closeStore = sqliteStore.Close
	} else {
		store = taskstore.NewFileStore(taskstore.FileConfig{Logger: logger})
	}

	bridge := orchestration.NewBridge(orchestration.Config{
		Engine: workflowFactory(cfg, bus, sup, logger, clk),
		EngineConfig: orchestration.EngineConfig{
			Workers:            cfg.Orchestration.Workers,
			DefaultTaskTimeout: config.Duration(cfg.Orchestration.TaskTimeout, 0),
		},
		Store:     store,
		Logger:    logger,
		Clock:     clk,
		Telemetry: emitter,
	})

	if cfg.Store.Kind == config.StoreKindFile && cfg.Store.Watch {
		reloader := newTaskReloader(bridge, cfg.Store.Path, logger)
		if err := reloader.subscribe(bus); err != nil {
			return fmt.Errorf("subscribing task reloader: %w", err)
		}
		stopWatch, err := taskstore.Watch(taskstore.WatchConfig{
			Path:   cfg.Store.Path,
			Bus:    bus,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("watching task file: %w", err)
		}
		defer stopWatch()
	}

	var wireServer *wire.Server
	if cfg.Wire.Enabled {
		wireServer, err = wire.NewServer(wire.ServerConfig{
			SocketPath: cfg.Wire.Socket,
			Bus:        bus,
			SendQueue:  cfg.Wire.SendQueue,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("building wire server: %w", err)
		}
		if err := wireServer.Start(); err != nil {
			return fmt.Errorf("starting wire server: %w", err)
		}
	}

	if emitter != nil {
		emitter.SetCollector(combinedCollector(clk, bus, sup, wireServer))
		go emitter.Run(ctx, config.Duration(cfg.Telemetry.FlushInterval, time.Minute))
	}
	go sup.Run(ctx)

	logger.Info("dirigent-daemon ready",
		"version", version.Info(),
		"store_kind", cfg.Store.Kind,
		"store_path", cfg.Store.Path,
		"wire_enabled", cfg.Wire.Enabled,
		"orchestration", string(bridge.Mode()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.Duration(cfg.Supervisor.GracefulShutdownTimeout, 10*time.Second))
	defer cancel()

	if wireServer != nil {
		if err := wireServer.Close(); err != nil {
			logger.Warn("wire server close", "error", err)
		}
	}
	if err := bridge.Shutdown(shutdownCtx); err != nil {
		logger.Warn("bridge shutdown", "error", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("supervisor shutdown", "error", err)
	}
	if closeStore != nil {
		if err := closeStore(); err != nil {
			logger.Warn("store close", "error", err)
		}
	}
	if emitter != nil {
		<-emitter.Done()
	}

	logger.Info("shutdown complete")
	return nil
}

// workflowFactory builds the engine factory for the bridge. Tasks run
// through the configured external command when one is set, otherwise
// through the engine's simulated runner.
func workflowFactory(cfg *config.Config, bus *event.Bus, sup *supervisor.Supervisor, logger *slog.Logger, clk clock.Clock) orchestration.EngineFactory {
	return func(engineConfig orchestration.EngineConfig) (orchestration.Engine, error) {
		var runner workflow.Runner
		if len(cfg.Orchestration.Command) > 0 {
			runner = workflow.ExecRunner(cfg.Orchestration.Command[0], cfg.Orchestration.Command[1:]...)
		}
		return workflow.New(workflow.Config{
			Bus:           bus,
			Supervisor:    sup,
			Runner:        runner,
			Workers:       engineConfig.Workers,
			TaskTimeout:   engineConfig.DefaultTaskTimeout,
			SimulatedWork: config.Duration(cfg.Orchestration.SimulatedWork, 0),
			Logger:        logger,
			Clock:         clk,
		})
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Dirigent orchestration daemon.

Hosts the event bus, process supervisor, and orchestration bridge;
serves the live event stream on a unix socket for dirigent-viewer.
Tasks live in the configured store (JSONC file or SQLite). In file
mode the daemon watches the task file and processes pending tasks
through the bridge whenever the file changes.

Configuration comes from --config (or $DIRIGENT_CONFIG); DIRIGENT_*
environment variables override operational fields, and flags override
both. A missing configuration file means built-in defaults.

Usage:
  dirigent-daemon [flags]

Examples:
  # Run with built-in defaults
  dirigent-daemon

  # Run against a specific task file and socket
  dirigent-daemon --task-file ./tasks.json --socket /tmp/dirigent.sock

  # Run with a configuration file
  dirigent-daemon --config /etc/dirigent/config.yaml

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
