// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dirigent-project/dirigent/lib/clock"
	"github.com/dirigent-project/dirigent/lib/telemetry"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultMaxListenersPerPattern = 100
	DefaultMaxWildcardListeners   = 250
	DefaultHistorySize            = 500
	DefaultTimeout                = 30 * time.Second
)

// ErrorEventType is the type of the secondary event emitted when a
// listener fails. Events in its category never trigger another
// failure event, so a failing error-listener cannot recurse.
const ErrorEventType = "error.listener_execution"

// Config holds the parameters for creating a [Bus]. The zero value is
// usable: every field has a default.
type Config struct {
	// MaxListenersPerPattern caps subscriptions per exact pattern.
	MaxListenersPerPattern int

	// MaxWildcardListeners caps glob and regex subscriptions across
	// the whole bus. Wildcard listeners are scanned on every emit, so
	// their cost is global rather than per-type.
	MaxWildcardListeners int

	// HistorySize is the capacity of the emitted-event ring.
	HistorySize int

	// DefaultTimeout bounds a callback execution when the listener
	// does not set its own. Negative disables the bus-wide default.
	DefaultTimeout time.Duration

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// Clock provides time for timestamps and timeout timers. Nil
	// means the real clock.
	Clock clock.Clock

	// Telemetry, when set, receives a span per emit. Nil disables.
	Telemetry *telemetry.Emitter
}

// Validate reports configuration errors. Negative capacities and
// history sizes are invalid; zero values mean "use the default".
func (c *Config) Validate() error {
	var errs []error
	if c.MaxListenersPerPattern < 0 {
		errs = append(errs, fmt.Errorf("event: MaxListenersPerPattern must not be negative"))
	}
	if c.MaxWildcardListeners < 0 {
		errs = append(errs, fmt.Errorf("event: MaxWildcardListeners must not be negative"))
	}
	if c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("event: HistorySize must not be negative"))
	}
	return errors.Join(errs...)
}

// Bus is a synchronous publish/subscribe event bus with pattern
// subscriptions, priority-ordered delivery, a middleware chain,
// global filters, bounded history, and per-listener timeouts.
//
// Emit delivers to matching listeners strictly sequentially in the
// caller's goroutine; only timeout supervision uses extra goroutines.
// All methods are safe for concurrent use. Callbacks run without any
// bus lock held, so they may freely call back into the bus.
type Bus struct {
	logger    *slog.Logger
	clock     clock.Clock
	telemetry *telemetry.Emitter

	maxListenersPerPattern int
	maxWildcardListeners   int
	defaultTimeout         time.Duration

	mu          sync.RWMutex
	exact       map[string][]*listener
	wildcard    []*listener
	byID        map[string]*listener
	middleware  []Middleware
	filters     map[string]FilterFunc
	paused      bool
	listenerSeq uint64

	history  *historyRing
	counters *counters
}

// New creates a Bus. Zero-valued Config fields take the package
// defaults; invalid fields fail validation.
func New(config Config) (*Bus, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.MaxListenersPerPattern == 0 {
		config.MaxListenersPerPattern = DefaultMaxListenersPerPattern
	}
	if config.MaxWildcardListeners == 0 {
		config.MaxWildcardListeners = DefaultMaxWildcardListeners
	}
	if config.HistorySize == 0 {
		config.HistorySize = DefaultHistorySize
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	return &Bus{
		logger:                 config.Logger,
		clock:                  config.Clock,
		telemetry:              config.Telemetry,
		maxListenersPerPattern: config.MaxListenersPerPattern,
		maxWildcardListeners:   config.MaxWildcardListeners,
		defaultTimeout:         config.DefaultTimeout,
		exact:                  make(map[string][]*listener),
		byID:                   make(map[string]*listener),
		filters:                make(map[string]FilterFunc),
		history:                newHistoryRing(config.HistorySize),
		counters:               newCounters(),
	}, nil
}

// Subscribe registers a callback for events matching the pattern and
// returns the listener ID. Fails with CapacityExceeded when the
// pattern's capacity is reached: exact patterns have a per-pattern
// cap, wildcard patterns share a bus-wide cap.
func (b *Bus) Subscribe(pattern Pattern, callback Callback, opts SubscribeOptions) (string, error) {
	if callback == nil {
		return "", errorf(ErrCodeInvalidState, "callback is required")
	}
	if pattern.Kind() == KindExact && pattern.String() == "" {
		return "", errorf(ErrCodeInvalidState, "pattern is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if pattern.IsWildcard() {
		if len(b.wildcard) >= b.maxWildcardListeners {
			return "", errorf(ErrCodeCapacityExceeded,
				"wildcard listener capacity %d reached", b.maxWildcardListeners)
		}
	} else {
		if len(b.exact[pattern.String()]) >= b.maxListenersPerPattern {
			return "", errorf(ErrCodeCapacityExceeded,
				"pattern %q listener capacity %d reached", pattern.String(), b.maxListenersPerPattern)
		}
	}

	registered := &listener{
		id:            uuid.NewString(),
		pattern:       pattern,
		callback:      callback,
		once:          opts.Once,
		priority:      opts.Priority,
		filter:        opts.Filter,
		context:       opts.Context,
		timeout:       opts.Timeout,
		maxExecutions: opts.MaxExecutions,
		addedAt:       b.clock.Now(),
		seq:           b.listenerSeq,
		metadata:      opts.Metadata,
	}
	b.listenerSeq++

	b.byID[registered.id] = registered
	if pattern.IsWildcard() {
		b.wildcard = append(b.wildcard, registered)
	} else {
		b.exact[pattern.String()] = append(b.exact[pattern.String()], registered)
	}
	return registered.id, nil
}

// SubscribeOnce registers a callback that is removed after its first
// counted execution.
func (b *Bus) SubscribeOnce(pattern Pattern, callback Callback, opts SubscribeOptions) (string, error) {
	opts.Once = true
	return b.Subscribe(pattern, callback, opts)
}

// Unsubscribe removes the listener with the given ID. Fails with
// NotFound if no such listener exists.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	registered, ok := b.byID[id]
	if !ok {
		return errorf(ErrCodeNotFound, "listener %q not registered", id)
	}
	b.removeLocked(registered)
	return nil
}

// UnsubscribeAll removes every listener matching the given pattern,
// or every listener when pattern is nil. Returns the number removed.
func (b *Bus) UnsubscribeAll(pattern *Pattern) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pattern == nil {
		removed := len(b.byID)
		b.exact = make(map[string][]*listener)
		b.wildcard = nil
		b.byID = make(map[string]*listener)
		return removed
	}

	var toRemove []*listener
	for _, registered := range b.byID {
		if registered.pattern.equal(*pattern) {
			toRemove = append(toRemove, registered)
		}
	}
	for _, registered := range toRemove {
		b.removeLocked(registered)
	}
	return len(toRemove)
}

// Listeners returns snapshots of current subscriptions, optionally
// restricted to one pattern, ordered by descending priority then
// subscription order.
func (b *Bus) Listeners(pattern *Pattern) []ListenerInfo {
	b.mu.RLock()
	matched := make([]*listener, 0, len(b.byID))
	for _, registered := range b.byID {
		if pattern == nil || registered.pattern.equal(*pattern) {
			matched = append(matched, registered)
		}
	}
	sortListeners(matched)
	infos := make([]ListenerInfo, len(matched))
	for i, registered := range matched {
		infos[i] = registered.info()
	}
	b.mu.RUnlock()
	return infos
}

// Pause makes the bus drop all emissions silently: Emit returns an
// empty result, records nothing, and delivers nothing. Subscription
// management still works while paused.
func (b *Bus) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

// Resume re-enables emission after Pause.
func (b *Bus) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
}

// Paused reports whether the bus is paused.
func (b *Bus) Paused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paused
}

// Clear removes all listeners, middleware, filters, and retained
// history. Counters survive: they are lifetime totals, not a view of
// current state.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.exact = make(map[string][]*listener)
	b.wildcard = nil
	b.byID = make(map[string]*listener)
	b.middleware = nil
	b.filters = make(map[string]FilterFunc)
	b.mu.Unlock()

	b.history.reset()
}

// Delivery records one listener execution during an emit.
type Delivery struct {
	// ListenerID identifies which listener ran.
	ListenerID string `json:"listener_id"`

	// Err is the callback's error, the timeout error, or nil.
	// Panics surface as an ExecutionError.
	Err error `json:"-"`

	// TimedOut reports that the callback was abandoned at its
	// timeout deadline.
	TimedOut bool `json:"timed_out"`

	// ExecutedAt is when the callback was started.
	ExecutedAt time.Time `json:"executed_at"`
}

// EmitResult describes what one Emit call did.
type EmitResult struct {
	// Event is the emitted event, after any middleware transforms.
	Event Event

	// Deliveries records each executed listener in execution order.
	// Listeners skipped by their own filter do not appear.
	Deliveries []Delivery

	// Suppressed reports that a global filter or middleware stopped
	// the event before listener matching.
	Suppressed bool

	// SuppressedBy names what stopped the event, prefixed with
	// "filter:" or "middleware:".
	SuppressedBy string
}

// Emit publishes an event through the full pipeline: construct,
// record to history, global filters, middleware chain, listener
// matching, and strictly sequential priority-ordered delivery.
//
// Listener errors never escape: they are contained in the returned
// Deliveries and surfaced as a secondary ErrorEventType event. Emit
// itself fails only for invalid input. When the bus is paused, Emit
// drops the event and returns an empty result with no error.
func (b *Bus) Emit(ctx context.Context, eventType string, data map[string]any, opts EmitOptions) (EmitResult, error) {
	if eventType == "" {
		return EmitResult{}, errorf(ErrCodeInvalidState, "event type is required")
	}

	if b.Paused() {
		b.counters.dropped.Add(1)
		return EmitResult{}, nil
	}

	start := b.clock.Now()
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Category:  categoryOf(eventType),
		Data:      data,
		Timestamp: start,
		Priority:  opts.Priority,
		Severity:  opts.Severity,
		Source:    opts.Source,
		Metadata:  opts.Metadata,
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}

	// History and counters record every accepted emission, including
	// ones a filter suppresses a moment later.
	b.history.append(ev)
	b.counters.emitted.Add(1)
	b.counters.bumpCategory(ev.Category)

	result := b.dispatch(ctx, ev)
	b.recordEmitSpan(start, eventType, result)
	return result, nil
}

// dispatch runs the post-construction pipeline stages.
func (b *Bus) dispatch(ctx context.Context, ev Event) EmitResult {
	for _, nf := range b.filterSnapshot() {
		if !nf.filter(ev) {
			b.counters.suppressed.Add(1)
			return EmitResult{Event: ev, Suppressed: true, SuppressedBy: "filter:" + nf.name}
		}
	}

	for _, mw := range b.middlewareSnapshot() {
		transformed, pass := mw.Fn(ev)
		if !pass {
			b.counters.suppressed.Add(1)
			return EmitResult{Event: ev, Suppressed: true, SuppressedBy: "middleware:" + mw.Name}
		}
		// Identity fields survive transforms. Middleware reshapes
		// content, it does not reroute events.
		transformed.ID = ev.ID
		transformed.Type = ev.Type
		transformed.Category = ev.Category
		transformed.Timestamp = ev.Timestamp
		ev = transformed
	}

	result := EmitResult{Event: ev}
	var failed []Delivery

	for _, registered := range b.matchingListeners(ev.Type) {
		// An earlier callback in this emit may have unsubscribed it.
		if !b.registered(registered.id) {
			continue
		}
		if registered.filter != nil && !registered.filter(ev) {
			continue
		}
		// Once-listeners are claimed (removed) before their callback
		// runs, so a callback that re-emits a matching event cannot
		// trigger itself and removal happens exactly once.
		if registered.once && !b.claimOnce(registered.id) {
			continue
		}

		delivery := b.invoke(ctx, registered, ev)
		result.Deliveries = append(result.Deliveries, delivery)

		b.mu.Lock()
		registered.executionCount++
		if !registered.once && registered.maxExecutions > 0 &&
			registered.executionCount >= registered.maxExecutions {
			b.removeLocked(registered)
		}
		b.mu.Unlock()

		switch {
		case delivery.TimedOut:
			b.counters.timedOut.Add(1)
			failed = append(failed, delivery)
		case delivery.Err != nil:
			b.counters.failed.Add(1)
			failed = append(failed, delivery)
		default:
			b.counters.delivered.Add(1)
		}
	}

	if len(failed) > 0 && ev.Category != categoryOf(ErrorEventType) {
		b.emitListenerFailures(ctx, ev, failed)
	}
	return result
}

// invoke runs one callback, bounded by the listener's effective
// timeout. The callback runs in its own goroutine so a stuck listener
// can be abandoned at the deadline; the deadline timer is always
// stopped, whichever side wins.
func (b *Bus) invoke(ctx context.Context, registered *listener, ev Event) Delivery {
	delivery := Delivery{ListenerID: registered.id, ExecutedAt: b.clock.Now()}

	timeout := registered.timeout
	if timeout == 0 {
		timeout = b.defaultTimeout
	}

	callbackContext := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callbackContext, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- errorf(ErrCodeExecutionError,
					"listener %s panic: %v", registered.id, recovered)
			}
		}()
		done <- registered.callback(callbackContext, ev)
	}()

	if timeout <= 0 {
		delivery.Err = <-done
		return delivery
	}

	timer := b.clock.NewTimer(timeout)
	select {
	case err := <-done:
		timer.Stop()
		delivery.Err = err
	case <-timer.C:
		cancel()
		delivery.TimedOut = true
		delivery.Err = errorf(ErrCodeTimeout,
			"listener %s exceeded %v timeout on %q", registered.id, timeout, ev.Type)
		b.logger.Warn("listener timed out",
			"listener_id", registered.id,
			"event_type", ev.Type,
			"timeout", timeout,
		)
	}
	return delivery
}

// emitListenerFailures publishes one ErrorEventType event per failed
// delivery. The caller has already checked the recursion guard.
func (b *Bus) emitListenerFailures(ctx context.Context, ev Event, failed []Delivery) {
	for _, delivery := range failed {
		b.logger.Warn("listener execution failed",
			"listener_id", delivery.ListenerID,
			"event_type", ev.Type,
			"error", delivery.Err,
		)
		_, err := b.Emit(ctx, ErrorEventType, map[string]any{
			"listener_id": delivery.ListenerID,
			"event_id":    ev.ID,
			"event_type":  ev.Type,
			"error":       delivery.Err.Error(),
			"timed_out":   delivery.TimedOut,
		}, EmitOptions{Severity: SeverityError, Source: "event-bus"})
		if err != nil {
			b.logger.Error("emitting listener failure event", "error", err)
		}
	}
}

// matchingListeners returns the listeners whose pattern matches the
// event type, ordered by descending priority with ties in
// subscription order. Each registered listener holds exactly one
// pattern, so the union of the exact bucket and the wildcard scan
// cannot contain duplicates.
func (b *Bus) matchingListeners(eventType string) []*listener {
	b.mu.RLock()
	matched := make([]*listener, 0, len(b.exact[eventType])+len(b.wildcard))
	matched = append(matched, b.exact[eventType]...)
	for _, registered := range b.wildcard {
		if registered.pattern.Match(eventType) {
			matched = append(matched, registered)
		}
	}
	b.mu.RUnlock()

	sortListeners(matched)
	return matched
}

// sortListeners orders by descending priority, then subscription
// order.
func sortListeners(listeners []*listener) {
	sort.SliceStable(listeners, func(i, j int) bool {
		if listeners[i].priority != listeners[j].priority {
			return listeners[i].priority > listeners[j].priority
		}
		return listeners[i].seq < listeners[j].seq
	})
}

// registered reports whether the listener ID is still subscribed.
func (b *Bus) registered(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byID[id]
	return ok
}

// claimOnce atomically removes a once-listener prior to execution.
// Returns false if another emit already claimed it.
func (b *Bus) claimOnce(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	registered, ok := b.byID[id]
	if !ok {
		return false
	}
	b.removeLocked(registered)
	return true
}

// removeLocked unregisters a listener from all indexes. Must be
// called with b.mu held for writing.
func (b *Bus) removeLocked(registered *listener) {
	delete(b.byID, registered.id)

	if registered.pattern.IsWildcard() {
		for i, candidate := range b.wildcard {
			if candidate.id == registered.id {
				b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
				break
			}
		}
		return
	}

	key := registered.pattern.String()
	bucket := b.exact[key]
	for i, candidate := range bucket {
		if candidate.id == registered.id {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(b.exact, key)
	} else {
		b.exact[key] = bucket
	}
}

// recordEmitSpan reports one emit to telemetry. No-op without an
// emitter.
func (b *Bus) recordEmitSpan(start time.Time, eventType string, result EmitResult) {
	status := "ok"
	if result.Suppressed {
		status = "suppressed"
	}
	b.telemetry.RecordSpan(telemetry.Span{
		Operation: "event.emit",
		StartTime: start,
		Duration:  b.clock.Now().Sub(start),
		Status:    status,
		Attributes: map[string]any{
			"event_type": eventType,
			"deliveries": len(result.Deliveries),
		},
	})
}
