// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirigent-project/dirigent/lib/clock"
	"github.com/dirigent-project/dirigent/lib/event"
	"github.com/dirigent-project/dirigent/lib/telemetry"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultMaxProcesses            = 500
	DefaultGracefulShutdownTimeout = 10 * time.Second
	DefaultRetentionPeriod         = time.Hour
	DefaultHeartbeatStaleAfter     = 5 * time.Minute
	DefaultCleanupInterval         = time.Minute
	DefaultHeartbeatCheckInterval  = time.Minute
)

// stopPollInterval is how often a graceful stop re-checks whether the
// supervised function has returned.
const stopPollInterval = 100 * time.Millisecond

// Config holds the parameters for creating a [Supervisor]. The zero
// value is usable: every field has a default or is optional.
type Config struct {
	// MaxProcesses caps tracked processes, terminal-but-retained ones
	// included. Exceeding it is a hard synchronous rejection.
	MaxProcesses int

	// DefaultTimeout bounds a run when StartOptions carries no
	// timeout. Zero leaves such runs unbounded.
	DefaultTimeout time.Duration

	// GracefulShutdownTimeout is how long a graceful stop waits for
	// the RunFunc to return before escalating to a forced stop.
	GracefulShutdownTimeout time.Duration

	// RetentionPeriod is how long terminal processes stay on record
	// before the cleanup sweep removes them.
	RetentionPeriod time.Duration

	// HeartbeatStaleAfter is the heartbeat age beyond which a running
	// process is flagged stale. Detection only: the supervisor never
	// terminates a process for missing heartbeats.
	HeartbeatStaleAfter time.Duration

	// CleanupInterval and HeartbeatCheckInterval pace the background
	// sweeps started by Run.
	CleanupInterval        time.Duration
	HeartbeatCheckInterval time.Duration

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// Clock provides time for timestamps, timeouts, and sweeps. Nil
	// means the real clock.
	Clock clock.Clock

	// Bus, when set, receives lifecycle events (process.created,
	// process.started, ...) in the "process" category.
	Bus *event.Bus

	// Telemetry, when set, receives a span per finished run.
	Telemetry *telemetry.Emitter
}

// Validate reports configuration errors. Negative values are invalid;
// zero values mean "use the default" (for DefaultTimeout, "none").
func (c *Config) Validate() error {
	var errs []error
	if c.MaxProcesses < 0 {
		errs = append(errs, fmt.Errorf("supervisor: MaxProcesses must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"DefaultTimeout":          c.DefaultTimeout,
		"GracefulShutdownTimeout": c.GracefulShutdownTimeout,
		"RetentionPeriod":         c.RetentionPeriod,
		"HeartbeatStaleAfter":     c.HeartbeatStaleAfter,
		"CleanupInterval":         c.CleanupInterval,
		"HeartbeatCheckInterval":  c.HeartbeatCheckInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("supervisor: %s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// Supervisor tracks long-running units of work through a typed
// lifecycle with timeouts, heartbeats, groups, parent/child cascades,
// and bounded retention of finished runs.
//
// All methods are safe for concurrent use. Lifecycle transitions are
// serialized under one supervisor mutex, so concurrent operations on
// the same process ID cannot interleave a transition.
type Supervisor struct {
	logger    *slog.Logger
	clock     clock.Clock
	bus       *event.Bus
	telemetry *telemetry.Emitter

	maxProcesses            int
	defaultTimeout          time.Duration
	gracefulShutdownTimeout time.Duration
	retentionPeriod         time.Duration
	heartbeatStaleAfter     time.Duration
	cleanupInterval         time.Duration
	heartbeatCheckInterval  time.Duration

	startedAt time.Time

	mu        sync.Mutex
	processes map[string]*process
	seq       uint64
	stats     lifetimeStats

	shutdownOnce sync.Once
	stopCh       chan struct{}
}

// lifetimeStats are monotonic counters over the supervisor lifetime,
// guarded by the supervisor mutex.
type lifetimeStats struct {
	started     uint64
	completed   uint64
	failed      uint64
	timedOut    uint64
	forcedStops uint64
}

// New creates a Supervisor. Zero-valued Config fields take the package
// defaults; invalid fields fail validation.
func New(config Config) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.MaxProcesses == 0 {
		config.MaxProcesses = DefaultMaxProcesses
	}
	if config.GracefulShutdownTimeout == 0 {
		config.GracefulShutdownTimeout = DefaultGracefulShutdownTimeout
	}
	if config.RetentionPeriod == 0 {
		config.RetentionPeriod = DefaultRetentionPeriod
	}
	if config.HeartbeatStaleAfter == 0 {
		config.HeartbeatStaleAfter = DefaultHeartbeatStaleAfter
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.HeartbeatCheckInterval == 0 {
		config.HeartbeatCheckInterval = DefaultHeartbeatCheckInterval
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	return &Supervisor{
		logger:                  config.Logger,
		clock:                   config.Clock,
		bus:                     config.Bus,
		telemetry:               config.Telemetry,
		maxProcesses:            config.MaxProcesses,
		defaultTimeout:          config.DefaultTimeout,
		gracefulShutdownTimeout: config.GracefulShutdownTimeout,
		retentionPeriod:         config.RetentionPeriod,
		heartbeatStaleAfter:     config.HeartbeatStaleAfter,
		cleanupInterval:         config.CleanupInterval,
		heartbeatCheckInterval:  config.HeartbeatCheckInterval,
		startedAt:               config.Clock.Now(),
		processes:               make(map[string]*process),
		stopCh:                  make(chan struct{}),
	}, nil
}

// Run drives the background sweeps until ctx is cancelled or Shutdown
// is called. Sweeps also work without Run: sweepRetention and
// sweepHeartbeats are invoked directly by tests.
func (s *Supervisor) Run(ctx context.Context) {
	cleanup := s.clock.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()
	heartbeats := s.clock.NewTicker(s.heartbeatCheckInterval)
	defer heartbeats.Stop()

	s.logger.Debug("supervisor sweeps running",
		"cleanup_interval", s.cleanupInterval,
		"heartbeat_check_interval", s.heartbeatCheckInterval,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-cleanup.C:
			s.sweepRetention()
		case <-heartbeats.C:
			s.sweepHeartbeats()
		}
	}
}

// sweepRetention removes terminal processes whose FinishedAt is older
// than the retention period, unlinking them from their parents.
// Returns the number removed.
func (s *Supervisor) sweepRetention() int {
	s.mu.Lock()
	now := s.clock.Now()
	var expired []*process
	for _, p := range s.processes {
		if p.state.Terminal() && !p.finishedAt.IsZero() && now.Sub(p.finishedAt) > s.retentionPeriod {
			expired = append(expired, p)
		}
	}
	for _, p := range expired {
		delete(s.processes, p.id)
		if parent, ok := s.processes[p.parentID]; ok {
			for i, childID := range parent.childIDs {
				if childID == p.id {
					parent.childIDs = append(parent.childIDs[:i], parent.childIDs[i+1:]...)
					break
				}
			}
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Debug("retention sweep removed processes", "count", len(expired))
	}
	return len(expired)
}

// sweepHeartbeats flags running processes whose heartbeat is older
// than the staleness threshold: one "heartbeat.stale" process event
// plus a bus notification per staleness episode. A fresh heartbeat
// arms the flag again. Detection only. Returns the number flagged.
func (s *Supervisor) sweepHeartbeats() int {
	s.mu.Lock()
	now := s.clock.Now()
	var notes []busNote
	for _, p := range s.processes {
		if p.state != StateRunning {
			continue
		}
		staleFor := now.Sub(p.heartbeat)
		if staleFor <= s.heartbeatStaleAfter {
			continue
		}
		if !p.lastStaleFlag.IsZero() && !p.heartbeat.After(p.lastStaleFlag) {
			continue
		}
		p.lastStaleFlag = now
		p.appendEvent(now, "heartbeat.stale",
			fmt.Sprintf("no heartbeat for %v", staleFor), nil)
		s.logger.Warn("process heartbeat stale",
			"process_id", p.id,
			"stale_for", staleFor,
		)
		notes = append(notes, busNote{
			eventType: "process.heartbeat.stale",
			severity:  event.SeverityWarning,
			data: map[string]any{
				"process_id":     p.id,
				"name":           p.name,
				"group":          p.group,
				"last_heartbeat": p.heartbeat,
				"stale_for":      staleFor.String(),
			},
		})
	}
	s.mu.Unlock()

	s.emitNotes(context.Background(), notes)
	return len(notes)
}

// Shutdown stops the background sweeps and gracefully stops every
// started process, roots first so cascades cover descendants. Stops
// that outlive the grace period escalate to forced, as in Stop.
// Idempotent: later calls return nil immediately.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.stopCh)

		s.mu.Lock()
		var roots []string
		for _, p := range s.processes {
			if !p.state.active() {
				continue
			}
			if _, hasParent := s.processes[p.parentID]; hasParent {
				continue
			}
			roots = append(roots, p.id)
		}
		s.mu.Unlock()

		s.logger.Info("supervisor shutting down", "active_roots", len(roots))
		err = s.stopAll(ctx, roots, false)
	})
	return err
}

// stopAll stops the given processes concurrently and joins the
// failures.
func (s *Supervisor) stopAll(ctx context.Context, ids []string, force bool) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(ctx, id, force); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("supervisor: stopping %s: %w", id, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// busNote is a lifecycle event collected under the supervisor mutex
// and emitted after it is released, so bus listeners can call back
// into the supervisor.
type busNote struct {
	eventType string
	severity  event.Severity
	data      map[string]any
}

func (s *Supervisor) emitNotes(ctx context.Context, notes []busNote) {
	if s.bus == nil {
		return
	}
	for _, n := range notes {
		_, err := s.bus.Emit(ctx, n.eventType, n.data, event.EmitOptions{
			Severity: n.severity,
			Source:   "supervisor",
		})
		if err != nil {
			s.logger.Error("emitting lifecycle event",
				"event_type", n.eventType, "error", err)
		}
	}
}

// stopSignal is a pending observer notification, delivered outside the
// supervisor mutex.
type stopSignal struct {
	observer StopObserver
	graceful bool
}

func dispatchStopSignals(signals []stopSignal) {
	for _, signal := range signals {
		signal.observer.OnStopSignal(signal.graceful)
	}
}

// MetricsCollector returns a telemetry collector reporting the current
// process population by state, for wiring into a telemetry emitter.
func (s *Supervisor) MetricsCollector() telemetry.Collector {
	return func() []telemetry.MetricPoint {
		now := s.clock.Now()
		s.mu.Lock()
		counts := make(map[State]int)
		for _, p := range s.processes {
			counts[p.state]++
		}
		s.mu.Unlock()

		points := make([]telemetry.MetricPoint, 0, len(counts))
		for state, count := range counts {
			points = append(points, telemetry.MetricPoint{
				Name:       "supervisor.processes",
				Value:      float64(count),
				Time:       now,
				Attributes: map[string]any{"state": state.String()},
			})
		}
		return points
	}
}
