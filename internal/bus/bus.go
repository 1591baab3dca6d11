// Package bus is the façade spec §4.6 describes: publish (persist then
// dispatch), subscribe/unsubscribe, startup crash recovery, and a bounded
// graceful shutdown drain.
//
// Grounded on the teacher's cmd/server/main.go startup/shutdown sequencing
// (signal handling, a bounded shutdown context) and
// internal/engine/fanout.go's match-then-queue flow, collapsed here into a
// direct call into internal/dispatch since there is no external queue to
// hand work off to.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/eventbus/internal/dispatch"
	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/policy"
	"github.com/Priya8975/eventbus/internal/store"
)

// DefaultShutdownDrain is the bound spec §6 documents for Shutdown's wait.
const DefaultShutdownDrain = 30 * time.Second

// Bus is the entry point publishers and subscribers use.
type Bus struct {
	store                 store.Store
	dispatcher            *dispatch.Dispatcher
	logger                *slog.Logger
	now                   func() time.Time
	newID                 func() string
	defaultHandlerTimeout time.Duration

	shuttingDown atomic.Bool
	inFlight     sync.WaitGroup
	shutdownOnce sync.Once
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithLogger overrides the logger used for bus-level events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithClock overrides the wall clock (tests only).
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithIDGenerator overrides ID assignment (tests only; defaults to
// uuid.New().String()).
func WithIDGenerator(gen func() string) Option {
	return func(b *Bus) { b.newID = gen }
}

// WithDispatcher supplies a pre-configured dispatcher — e.g. one built with
// dispatch.WithClock/WithSleeper/WithRand for deterministic tests.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(b *Bus) { b.dispatcher = d }
}

// WithDefaultHandlerTimeout overrides the per-handler timeout Subscribe
// falls back to when a call doesn't set WithHandlerTimeout (spec §6,
// tunable per config.Config; otherwise dispatch.DefaultHandlerTimeout).
func WithDefaultHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) { b.defaultHandlerTimeout = d }
}

// New constructs a Bus over the given persistence contract.
func New(st store.Store, opts ...Option) *Bus {
	b := &Bus{
		store:                 st,
		logger:                slog.Default(),
		now:                   time.Now,
		newID:                 func() string { return uuid.New().String() },
		defaultHandlerTimeout: dispatch.DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.dispatcher == nil {
		b.dispatcher = dispatch.New(st, dispatch.WithLogger(b.logger))
	}
	return b
}

// SubscribeOption configures a Subscribe call.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	timeout       time.Duration
	retryOverride *policy.Override
}

// WithHandlerTimeout overrides the per-handler timeout (default 30s).
func WithHandlerTimeout(d time.Duration) SubscribeOption {
	return func(c *subscribeConfig) { c.timeout = d }
}

// WithRetryOverride supplies a partial retry policy for this subscription.
func WithRetryOverride(o policy.Override) SubscribeOption {
	return func(c *subscribeConfig) { c.retryOverride = &o }
}

// Publish persists a new event of the given type and drives it through
// dispatch, returning once the event has reached a terminal state (spec
// §4.6, §8 property 7). The returned id identifies the persisted event
// regardless of whether it ends in done or dlq.
func (b *Bus) Publish(ctx context.Context, eventType string, payload any, metadata map[string]string) (string, error) {
	if b.shuttingDown.Load() {
		return "", domain.ErrShuttingDown
	}

	// Register with the drain WaitGroup before doing any work, and
	// re-check shuttingDown immediately after: this closes the window
	// where Shutdown's drain could observe inFlight at zero and return
	// while a Publish that slipped past the first check is still
	// persisting/dispatching.
	b.inFlight.Add(1)
	defer b.inFlight.Done()
	if b.shuttingDown.Load() {
		return "", domain.ErrShuttingDown
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidPayload, err)
	}

	now := b.now()
	event := &domain.Event{
		ID:        b.newID(),
		Type:      eventType,
		Payload:   raw,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    domain.StatusPending,
	}
	if err := b.store.InsertEvent(ctx, event); err != nil {
		return "", fmt.Errorf("persisting event: %w", err)
	}

	b.dispatcher.Dispatch(ctx, event)

	return event.ID, nil
}

// Subscribe installs a handler for events matching pattern (an empty
// pattern is treated as "*") and returns its subscription id.
func (b *Bus) Subscribe(ctx context.Context, pattern string, handler dispatch.Handler, opts ...SubscribeOption) (string, error) {
	if b.shuttingDown.Load() {
		return "", domain.ErrShuttingDown
	}
	if pattern == "" {
		pattern = "*"
	}

	cfg := subscribeConfig{timeout: b.defaultHandlerTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := b.newID()
	now := b.now()
	record := domain.SubscriptionRecord{ID: id, Pattern: pattern, Timeout: cfg.timeout, CreatedAt: now}
	if err := b.store.InsertSubscription(ctx, record); err != nil {
		return "", fmt.Errorf("persisting subscription: %w", err)
	}

	b.dispatcher.AddSubscription(&dispatch.Subscription{
		ID:            id,
		Pattern:       pattern,
		Handler:       handler,
		Timeout:       cfg.timeout,
		RetryOverride: cfg.retryOverride,
		CreatedAt:     now,
	})

	return id, nil
}

// Unsubscribe removes a subscription from both the live registry and the
// durable record. Idempotent (spec §8's round-trip property).
func (b *Bus) Unsubscribe(ctx context.Context, id string) error {
	b.dispatcher.RemoveSubscription(id)
	if err := b.store.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("deleting subscription record: %w", err)
	}
	return nil
}

// Start runs crash recovery: every event left in `processing` (a crash
// survivor) has its retry_count incremented for the crashed attempt, is
// reset to `pending`, and is re-entered into dispatch (spec §4.6). Recovered
// events dispatch concurrently.
func (b *Bus) Start(ctx context.Context) error {
	stuck, err := b.store.EventsByStatus(ctx, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("listing processing events: %w", err)
	}

	var wg sync.WaitGroup
	for _, e := range stuck {
		e := e
		e.RetryCount++
		e.LastError = append(e.LastError, "recovered from crash while processing")
		e.Status = domain.StatusPending
		e.UpdatedAt = b.now()

		if err := b.store.UpdateRetry(ctx, e.ID, e.RetryCount, store.EncodeErrorHistory(e.LastError)); err != nil {
			b.logger.Warn("recovery: persisting retry failed", "event_id", e.ID, "error", err)
		}
		if err := b.store.UpdateStatus(ctx, e.ID, domain.StatusPending); err != nil {
			b.logger.Warn("recovery: resetting status failed", "event_id", e.ID, "error", err)
		}

		b.inFlight.Add(1)
		wg.Add(1)
		go func() {
			defer b.inFlight.Done()
			defer wg.Done()
			b.dispatcher.Dispatch(ctx, e)
		}()
	}
	wg.Wait()
	return nil
}

// Shutdown blocks new Publish/Subscribe calls, waits up to timeout for
// in-flight dispatches to reach a terminal state, then closes the store
// regardless of whether the wait completed. Idempotent — a second call
// resolves immediately (spec §4.6, §8).
func (b *Bus) Shutdown(ctx context.Context, timeout time.Duration) error {
	b.shutdownOnce.Do(func() {
		b.shuttingDown.Store(true)

		if timeout <= 0 {
			timeout = DefaultShutdownDrain
		}
		done := make(chan struct{})
		go func() {
			b.inFlight.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			b.logger.Warn("shutdown drain timed out; abandoning in-flight dispatches", "timeout", timeout)
		case <-ctx.Done():
		}

		if err := b.store.Close(); err != nil {
			b.logger.Warn("closing store failed", "error", err)
		}
	})
	return nil
}

// Dispatcher exposes the underlying dispatch engine for admin surfaces
// (metrics, per-subscription breaker health) that need read access beyond
// publish/subscribe.
func (b *Bus) Dispatcher() *dispatch.Dispatcher {
	return b.dispatcher
}
