// Package dispatch is the dispatch engine (spec §4.5): given a persisted
// event, it resolves matching subscriptions, filters by circuit-breaker
// admission, runs handlers sequentially with per-handler timeouts, retries
// with jittered exponential backoff, and routes to done or dlq.
//
// Grounded on the teacher's internal/worker/dispatcher.go +
// internal/worker/deliverer.go + internal/worker/pool.go: the Redis-poll,
// HTTP-POST delivery loop becomes a direct, sequential, in-process
// invocation loop. There is no queue to poll — Dispatch is called directly
// by the bus façade once an event is persisted — and no HTTP client, so the
// deliverer's per-request timeout becomes the goroutine-race primitive in
// timeout.go.
package dispatch

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/Priya8975/eventbus/internal/circuit"
	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/metrics"
	"github.com/Priya8975/eventbus/internal/policy"
	"github.com/Priya8975/eventbus/internal/store"
)

// DefaultHandlerTimeout is the per-handler ceiling used when a subscription
// does not set its own (spec §3, §6).
const DefaultHandlerTimeout = 30 * time.Second

// Dispatcher drives events to a terminal status. It owns the live
// subscription registry, the per-subscription circuit breakers, and the
// retry metrics — all process-scoped state exclusively owned by the
// dispatcher (spec §9 "Global-mutable dispatch state").
type Dispatcher struct {
	store    store.Store
	subs     *registry
	breakers *circuit.Registry
	metrics  *metrics.Registry
	sink     RetryLogSink
	terminal TerminalHook
	logger   *slog.Logger

	now    func() time.Time
	sleep  func(time.Duration)
	rngMu  sync.Mutex
	rng    *rand.Rand

	defaultPolicy policy.Policy

	circuitWindow           time.Duration
	circuitMinSamples       int
	circuitFailureThreshold float64
	circuitPause            time.Duration
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithLogger overrides the logger used for background/best-effort errors.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRetryLogSink overrides the sink retry-log entries are emitted to.
func WithRetryLogSink(sink RetryLogSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithTerminalHook registers a hook invoked once an event reaches done or
// dlq, e.g. to stream terminal transitions to a dashboard
// (internal/eventsocket.Hub.NotifyTerminal). Unset by default.
func WithTerminalHook(hook TerminalHook) Option {
	return func(d *Dispatcher) { d.terminal = hook }
}

// WithClock overrides the wall clock, for deterministic circuit-breaker tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleeper overrides the inter-attempt delay wait, so tests never sleep
// for real (spec-testable in bounded time).
func WithSleeper(sleep func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// WithRand overrides the jitter source for deterministic delay tests.
func WithRand(rng *rand.Rand) Option {
	return func(d *Dispatcher) { d.rng = rng }
}

// WithDefaultPolicy overrides the system default retry policy (spec §3,
// §6) that subscription overrides are applied onto. Daemons load this from
// config.Config instead of relying on policy.Default's hardcoded values.
func WithDefaultPolicy(p policy.Policy) Option {
	return func(d *Dispatcher) { d.defaultPolicy = p }
}

// WithCircuitParams overrides the rolling window, minimum sample count,
// failure threshold, and open-state pause used by every subscription's
// circuit breaker (spec §4.4, tunable per config.Config).
func WithCircuitParams(window time.Duration, minSamples int, failureThreshold float64, pause time.Duration) Option {
	return func(d *Dispatcher) {
		d.circuitWindow = window
		d.circuitMinSamples = minSamples
		d.circuitFailureThreshold = failureThreshold
		d.circuitPause = pause
	}
}

// New constructs a Dispatcher over the given persistence contract.
func New(st store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:         st,
		subs:          newRegistry(),
		metrics:       metrics.NewRegistry(),
		logger:        slog.Default(),
		now:           time.Now,
		sleep:         time.Sleep,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		defaultPolicy: policy.Default(),

		circuitWindow:           circuit.Window,
		circuitMinSamples:       circuit.MinSamples,
		circuitFailureThreshold: circuit.FailureThreshold,
		circuitPause:            circuit.Pause,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.breakers = circuit.NewRegistryWithParams(d.now, d.circuitWindow, d.circuitMinSamples, d.circuitFailureThreshold, d.circuitPause)
	if d.sink == nil {
		d.sink = DefaultRetryLogSink(d.logger)
	}
	return d
}

// AddSubscription installs a handler into the live registry.
func (d *Dispatcher) AddSubscription(sub *Subscription) {
	d.subs.add(sub)
}

// RemoveSubscription drops a handler from the live registry and its
// circuit breaker. Idempotent.
func (d *Dispatcher) RemoveSubscription(id string) {
	d.subs.remove(id)
	d.breakers.Remove(id)
}

// Subscriptions returns a snapshot of the live registry, for admin/health
// reporting.
func (d *Dispatcher) Subscriptions() []*Subscription {
	return d.subs.snapshot()
}

// BreakerState reports a subscription's live circuit state (open/closed/
// half_open), for the per-subscription health endpoint.
func (d *Dispatcher) BreakerState(subscriptionID string) circuit.State {
	return d.breakers.For(subscriptionID).State()
}

// Metrics returns the per-event-type retry metrics snapshot.
func (d *Dispatcher) Metrics() map[string]metrics.Snapshot {
	return d.metrics.All()
}

// delay draws a jittered backoff duration. math/rand.Rand is not safe for
// concurrent use, so concurrent dispatches share one source guarded by a
// mutex rather than each drawing its own — the spec makes no determinism
// promise across concurrent dispatches.
func (d *Dispatcher) delay(attempt int, p policy.Policy) time.Duration {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return policy.Delay(attempt, p, d.rng)
}

// Dispatch drives event through matching, admission, sequential handler
// invocation, retry, and terminal transition (spec §4.5). It never returns
// a handler's error to the caller: publish resolves once the event reaches
// a terminal state regardless of what handlers did (spec §7). It returns
// nothing; persistence errors are
// logged and treated as best-effort per spec §7's "abandoned post-shutdown
// store write: silently ignored" and §5's "store locked/transient: caller
// retries" — the dispatcher does not abort an attempt loop over a
// persistence hiccup.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.Event) {
	matched := d.subs.matching(event.Type)
	d.metrics.ObserveEvent(event.Type)

	type admittedSub struct {
		sub     *Subscription
		breaker *circuit.Breaker
	}
	admitted := make([]admittedSub, 0, len(matched))
	for _, sub := range matched {
		b := d.breakers.For(sub.ID)
		if b.MayAdmit() {
			admitted = append(admitted, admittedSub{sub: sub, breaker: b})
		}
	}

	if len(admitted) == 0 {
		d.updateStatus(ctx, event.ID, domain.StatusDone)
		if d.terminal != nil {
			d.terminal(event.ID, event.Type, string(domain.StatusDone))
		}
		return
	}

	d.updateStatus(ctx, event.ID, domain.StatusProcessing)

	policies := make([]policy.Policy, 0, len(admitted))
	for _, a := range admitted {
		if a.sub.RetryOverride != nil {
			policies = append(policies, a.sub.RetryOverride.Apply(d.defaultPolicy))
		}
	}
	effective := d.defaultPolicy
	if len(policies) > 0 {
		effective = policy.Merge(policies...)
	}
	maxAttempts := effective.MaxRetries + 1

	var pendingDelay time.Duration
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d.sleep(pendingDelay)
		}

		failedAt := -1
		var failure error
		for i, a := range admitted {
			timeout := a.sub.Timeout
			if timeout <= 0 {
				timeout = DefaultHandlerTimeout
			}
			if err := invokeWithTimeout(ctx, a.sub.Handler, event.Clone(), timeout); err != nil {
				failedAt = i
				failure = err
				break
			}
		}

		if failedAt == -1 {
			for _, a := range admitted {
				a.breaker.Record(true)
			}
			d.finishSuccess(ctx, event, attempt)
			return
		}

		for i, a := range admitted {
			switch {
			case i < failedAt:
				a.breaker.Record(true)
			case i == failedAt:
				a.breaker.Record(false)
			default:
				a.breaker.ReleaseProbe()
			}
		}

		event.RetryCount++
		event.LastError = append(event.LastError, failure.Error())
		event.UpdatedAt = d.now()
		d.persistRetry(ctx, event)

		pendingDelay = 0
		if attempt < maxAttempts {
			pendingDelay = d.delay(attempt+1, effective)
		}
		d.sink(RetryLogEntry{
			Level:          "warn",
			EventID:        event.ID,
			EventType:      event.Type,
			SubscriptionID: admitted[failedAt].sub.ID,
			Attempt:        attempt,
			MaxAttempts:    maxAttempts,
			DelayMS:        pendingDelay.Milliseconds(),
			Error:          failure.Error(),
		})

		if attempt == maxAttempts {
			d.finishDLQ(ctx, event, effective.MaxRetries)
			return
		}
	}
}

func (d *Dispatcher) finishSuccess(ctx context.Context, event *domain.Event, attempt int) {
	event.Status = domain.StatusDone
	event.UpdatedAt = d.now()
	if err := d.store.UpdateStatus(ctx, event.ID, domain.StatusDone); err != nil {
		d.logger.Warn("persisting done status failed", "event_id", event.ID, "error", err)
	}
	if attempt > 1 {
		d.metrics.RecordSuccessAfterRetry(event.Type, attempt-1)
	}
	if d.terminal != nil {
		d.terminal(event.ID, event.Type, string(domain.StatusDone))
	}
}

func (d *Dispatcher) finishDLQ(ctx context.Context, event *domain.Event, maxRetries int) {
	now := d.now()
	event.Status = domain.StatusDLQ
	event.DLQAt = &now
	event.UpdatedAt = now
	if err := d.store.MoveToDLQ(ctx, event.ID, store.EncodeErrorHistory(event.LastError)); err != nil {
		d.logger.Warn("persisting dlq transition failed", "event_id", event.ID, "error", err)
	}
	// spec §4.5.5: total_retries += max_retries, not the event's final
	// retry_count (which also counts the last, unretried failed attempt).
	d.metrics.RecordDLQ(event.Type, maxRetries)
	if d.terminal != nil {
		d.terminal(event.ID, event.Type, string(domain.StatusDLQ))
	}
}

func (d *Dispatcher) persistRetry(ctx context.Context, event *domain.Event) {
	if err := d.store.UpdateRetry(ctx, event.ID, event.RetryCount, store.EncodeErrorHistory(event.LastError)); err != nil {
		d.logger.Warn("persisting retry failed", "event_id", event.ID, "error", err)
	}
}

func (d *Dispatcher) updateStatus(ctx context.Context, id string, status domain.Status) {
	if err := d.store.UpdateStatus(ctx, id, status); err != nil {
		d.logger.Warn("persisting status failed", "event_id", id, "status", status, "error", err)
	}
}
