// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirigent-project/dirigent/lib/clock"
)

// drainFlushTimeout is how long the final drain flush waits for the
// sink to accept buffered records before giving up. Exceeding it means
// the sink is unresponsive and the data should be dropped rather than
// blocking shutdown.
const drainFlushTimeout = 2 * time.Second

// Span records one timed operation: a listener callback, a supervised
// process run, a bridge call. Identity (the Source) is carried at the
// batch envelope level, not per-span.
type Span struct {
	// Operation names what ran, e.g. "event.emit" or
	// "supervisor.start".
	Operation string

	// StartTime is when the operation began.
	StartTime time.Time

	// Duration is how long the operation took.
	Duration time.Duration

	// Status is "ok", "error", or "timeout".
	Status string

	// Attributes carries operation-specific key/value detail.
	Attributes map[string]any
}

// MetricPoint is one sampled or counted value.
type MetricPoint struct {
	// Name is the metric name, e.g. "event.emitted_total".
	Name string

	// Value is the sampled or accumulated value.
	Value float64

	// Time is when the point was taken.
	Time time.Time

	// Attributes carries metric-specific key/value detail.
	Attributes map[string]any
}

// Batch is one flush payload handed to the Sink: everything buffered
// since the previous flush, stamped with the emitter's Source.
type Batch struct {
	Source  string
	Spans   []Span
	Metrics []MetricPoint
}

// Sink receives flushed batches. Implementations must tolerate being
// called with the drain context during shutdown. Errors are logged by
// the emitter and the batch is dropped: lost telemetry is preferable
// to unbounded memory growth or degraded latency.
type Sink func(ctx context.Context, batch Batch) error

// LogSink returns a Sink that writes batch summaries to the given
// logger. It is the default destination when no relay or collector
// process is configured.
func LogSink(logger *slog.Logger) Sink {
	return func(_ context.Context, batch Batch) error {
		logger.Info("telemetry flush",
			"source", batch.Source,
			"spans", len(batch.Spans),
			"metrics", len(batch.Metrics),
		)
		return nil
	}
}

// Collector is a function that produces metric points for inclusion
// in the next flush. The emitter calls it during each flush cycle.
//
// Implementations must be safe for concurrent use and return quickly
// (the call happens on the flush path). Typical implementations
// snapshot in-memory counters.
type Collector func() []MetricPoint

// Config holds the parameters for creating an [Emitter]. All fields
// are required.
type Config struct {
	// Source identifies the process emitting telemetry, e.g.
	// "dirigent-daemon".
	Source string

	// Sink receives flushed batches.
	Sink Sink

	// Clock provides time for the flush ticker. Production callers
	// pass clock.Real(); tests pass clock.Fake() for deterministic
	// control.
	Clock clock.Clock

	// Logger receives telemetry-related operational messages (flush
	// failures).
	Logger *slog.Logger
}

// Emitter buffers spans and metrics, periodically flushing them to the
// configured Sink. It stamps each batch with the emitter's Source.
//
// The emitter is safe for concurrent use. RecordSpan and RecordMetric
// are no-ops on a nil receiver, giving zero-cost opt-out when
// telemetry is not configured: components hold a *Emitter field and
// call it unconditionally.
//
// Lifecycle: call [Emitter.Run] in a goroutine to start the flush
// loop, then cancel the context to stop it. Run performs a final drain
// flush before closing the Done channel.
type Emitter struct {
	sink   Sink
	clock  clock.Clock
	logger *slog.Logger
	source string

	mu        sync.Mutex
	spans     []Span
	metrics   []MetricPoint
	collector Collector

	done chan struct{}
}

// New creates an emitter that flushes to config.Sink. Returns an error
// if any field is missing.
//
// The caller must start the flush loop by calling [Emitter.Run] in a
// goroutine.
func New(config Config) (*Emitter, error) {
	if config.Source == "" {
		return nil, fmt.Errorf("telemetry: Source is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("telemetry: Sink is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("telemetry: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("telemetry: Logger is required")
	}

	return &Emitter{
		sink:   config.Sink,
		clock:  config.Clock,
		logger: config.Logger,
		source: config.Source,
		done:   make(chan struct{}),
	}, nil
}

// RecordSpan buffers a span for the next flush cycle.
//
// Safe to call on a nil receiver (no-op). This allows callers to
// unconditionally record spans without checking whether telemetry is
// enabled.
func (e *Emitter) RecordSpan(span Span) {
	if e == nil {
		return
	}

	e.mu.Lock()
	e.spans = append(e.spans, span)
	e.mu.Unlock()
}

// RecordMetric buffers a metric point for the next flush cycle.
//
// Safe to call on a nil receiver (no-op).
func (e *Emitter) RecordMetric(metric MetricPoint) {
	if e == nil {
		return
	}

	e.mu.Lock()
	e.metrics = append(e.metrics, metric)
	e.mu.Unlock()
}

// SetCollector registers a function that the emitter calls during each
// flush to collect additional metric points. This is the integration
// point for components that maintain in-memory counters and want them
// flushed alongside buffered spans.
//
// The collector is called under the emitter's lock, so it must not
// call back into the emitter (RecordSpan, RecordMetric).
//
// Safe to call on a nil receiver (no-op). Must be called before Run.
func (e *Emitter) SetCollector(collector Collector) {
	if e == nil {
		return
	}
	e.collector = collector
}

// Run starts the flush loop, sending buffered records to the sink at
// the given interval. Blocks until ctx is cancelled, then performs one
// final drain flush with a short deadline to capture any late records
// from in-flight handlers. Closes the Done channel after the drain
// completes.
//
// Must be called exactly once per emitter.
func (e *Emitter) Run(ctx context.Context, interval time.Duration) {
	defer close(e.done)

	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flush(ctx)
		case <-ctx.Done():
			drainContext, drainCancel := context.WithTimeout(context.Background(), drainFlushTimeout)
			e.flush(drainContext)
			drainCancel()
			return
		}
	}
}

// Done returns a channel that is closed after Run has fully exited,
// including the final drain flush. Callers can block on this to
// sequence cleanup.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// flush drains the span and metric buffers, collects metrics from the
// optional Collector, and hands everything to the sink as one Batch.
// Buffers are swapped under the lock so RecordSpan/RecordMetric do not
// block during sink I/O. Flush failures are logged but not retried;
// the data is dropped.
func (e *Emitter) flush(ctx context.Context) {
	e.mu.Lock()
	spans := e.spans
	e.spans = nil
	metrics := e.metrics
	e.metrics = nil
	if e.collector != nil {
		metrics = append(metrics, e.collector()...)
	}
	e.mu.Unlock()

	if len(spans) == 0 && len(metrics) == 0 {
		return
	}

	batch := Batch{
		Source:  e.source,
		Spans:   spans,
		Metrics: metrics,
	}
	if err := e.sink(ctx, batch); err != nil {
		e.logger.Error("telemetry flush failed",
			"error", err,
			"dropped_spans", len(spans),
			"dropped_metrics", len(metrics),
		)
	}
}
