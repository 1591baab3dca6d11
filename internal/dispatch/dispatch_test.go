package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/policy"
	"github.com/Priya8975/eventbus/internal/store/memstore"
)

// fakeClock lets circuit-breaker pause windows advance without real sleeps.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time    { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func noSleep(time.Duration) {}

func newTestDispatcher(t *testing.T, st *memstore.Store, clock *fakeClock) *Dispatcher {
	t.Helper()
	if clock == nil {
		clock = &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	}
	return New(st,
		WithClock(clock.now),
		WithSleeper(noSleep),
		WithRand(rand.New(rand.NewSource(1))),
	)
}

func publishEvent(t *testing.T, ctx context.Context, st *memstore.Store, eventType string) *domain.Event {
	t.Helper()
	e := &domain.Event{
		ID:        fmt.Sprintf("evt-%s", eventType),
		Type:      eventType,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Status:    domain.StatusPending,
	}
	if err := st.InsertEvent(ctx, e); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	return e
}

func TestDispatch_HappyPath(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	d := newTestDispatcher(t, st, nil)

	calls := 0
	d.AddSubscription(&Subscription{ID: "sub-1", Pattern: "order.created", Handler: func(ctx context.Context, e domain.Event) error {
		calls++
		return nil
	}})

	e := publishEvent(t, ctx, st, "order.created")
	d.Dispatch(ctx, e)

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	got, _ := st.GetEvent(ctx, e.ID)
	if got.Status != domain.StatusDone {
		t.Errorf("Status = %q, want done", got.Status)
	}
	if got.RetryCount != 0 || got.LastError != nil {
		t.Errorf("RetryCount/LastError = %d/%v, want 0/nil", got.RetryCount, got.LastError)
	}
}

func TestDispatch_NoMatch_GoesDone(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	d := newTestDispatcher(t, st, nil)

	e := publishEvent(t, ctx, st, "order.created")
	d.Dispatch(ctx, e)

	got, _ := st.GetEvent(ctx, e.ID)
	if got.Status != domain.StatusDone {
		t.Errorf("Status = %q, want done", got.Status)
	}
}

func TestDispatch_ExhaustsRetriesToDLQ(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	d := newTestDispatcher(t, st, nil)

	calls := 0
	maxRetries := 3
	d.AddSubscription(&Subscription{
		ID:      "sub-1",
		Pattern: "*",
		Handler: func(ctx context.Context, e domain.Event) error {
			calls++
			return fmt.Errorf("boom-%d", calls)
		},
		RetryOverride: &policy.Override{MaxRetries: intPtr(maxRetries)},
	})

	e := publishEvent(t, ctx, st, "any.event")
	d.Dispatch(ctx, e)

	if calls != maxRetries+1 {
		t.Errorf("handler calls = %d, want %d", calls, maxRetries+1)
	}
	got, _ := st.GetEvent(ctx, e.ID)
	if got.Status != domain.StatusDLQ {
		t.Errorf("Status = %q, want dlq", got.Status)
	}
	if got.RetryCount != maxRetries+1 {
		t.Errorf("RetryCount = %d, want %d", got.RetryCount, maxRetries+1)
	}
	if len(got.LastError) != maxRetries+1 {
		t.Errorf("len(LastError) = %d, want %d", len(got.LastError), maxRetries+1)
	}
	if got.DLQAt == nil {
		t.Error("DLQAt = nil, want set")
	}
	snap := d.Metrics()["any.event"]
	if snap.DLQCount != 1 || snap.TotalRetries != maxRetries {
		t.Errorf("metrics = %+v, want DLQCount=1 TotalRetries=%d", snap, maxRetries)
	}
}

func TestDispatch_TerminalHookFiresOnDoneAndDLQ(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	type notification struct{ eventID, eventType, status string }
	var got []notification
	d := New(st,
		WithSleeper(noSleep),
		WithRand(rand.New(rand.NewSource(1))),
		WithTerminalHook(func(eventID, eventType, status string) {
			got = append(got, notification{eventID, eventType, status})
		}),
	)

	noSub := publishEvent(t, ctx, st, "unmatched.event")
	d.Dispatch(ctx, noSub)

	maxRetries := 0
	d.AddSubscription(&Subscription{
		ID:            "sub-1",
		Pattern:       "fails.always",
		Handler:       func(ctx context.Context, e domain.Event) error { return errors.New("boom") },
		RetryOverride: &policy.Override{MaxRetries: intPtr(maxRetries)},
	})
	dlqEvent := publishEvent(t, ctx, st, "fails.always")
	d.Dispatch(ctx, dlqEvent)

	d.AddSubscription(&Subscription{
		ID:      "sub-2",
		Pattern: "succeeds",
		Handler: func(ctx context.Context, e domain.Event) error { return nil },
	})
	okEvent := publishEvent(t, ctx, st, "succeeds")
	d.Dispatch(ctx, okEvent)

	want := []notification{
		{noSub.ID, "unmatched.event", "done"},
		{dlqEvent.ID, "fails.always", "dlq"},
		{okEvent.ID, "succeeds", "done"},
	}
	if len(got) != len(want) {
		t.Fatalf("notifications = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDispatch_RetryLogDelayMatchesActualSleep(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	var slept []time.Duration
	var loggedDelays []int64
	d := New(st,
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRand(rand.New(rand.NewSource(42))),
		WithRetryLogSink(func(e RetryLogEntry) { loggedDelays = append(loggedDelays, e.DelayMS) }),
	)

	calls := 0
	maxRetries := 2
	d.AddSubscription(&Subscription{
		ID:            "sub-1",
		Pattern:       "*",
		Handler:       func(ctx context.Context, e domain.Event) error { calls++; return errors.New("boom") },
		RetryOverride: &policy.Override{MaxRetries: intPtr(maxRetries)},
	})

	e := publishEvent(t, ctx, st, "any.event")
	d.Dispatch(ctx, e)

	if len(slept) != maxRetries {
		t.Fatalf("sleeps = %v, want %d entries", slept, maxRetries)
	}
	if len(loggedDelays) != maxRetries+1 {
		t.Fatalf("logged delays = %v, want %d entries", loggedDelays, maxRetries+1)
	}
	// Each logged delay_ms (for the attempt that follows) must equal the
	// duration actually slept before that attempt ran.
	for i, want := range slept {
		got := loggedDelays[i]
		if got != want.Milliseconds() {
			t.Errorf("logged delay[%d] = %dms, want %dms (the value actually slept)", i, got, want.Milliseconds())
		}
	}
}

func TestDispatch_PolicyMergeAcrossSubscriptions(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	d := newTestDispatcher(t, st, nil)

	var callsA, callsB int
	d.AddSubscription(&Subscription{
		ID: "sub-a", Pattern: "order.*",
		Handler:       func(ctx context.Context, e domain.Event) error { callsA++; return errors.New("fail-a") },
		RetryOverride: &policy.Override{MaxRetries: intPtr(1)},
	})
	d.AddSubscription(&Subscription{
		ID: "sub-b", Pattern: "order.created",
		Handler:       func(ctx context.Context, e domain.Event) error { callsB++; return errors.New("fail-b") },
		RetryOverride: &policy.Override{MaxRetries: intPtr(4)},
	})

	e := publishEvent(t, ctx, st, "order.created")
	d.Dispatch(ctx, e)

	// merged max_retries = max(1,4) = 4 -> 5 attempts. Only sub-a runs in
	// each attempt: it always fails first, aborting the sequence before sub-b.
	if callsA != 5 {
		t.Errorf("callsA = %d, want 5", callsA)
	}
	if callsB != 0 {
		t.Errorf("callsB = %d, want 0 (sub-a always fails first)", callsB)
	}
	got, _ := st.GetEvent(ctx, e.ID)
	if got.Status != domain.StatusDLQ {
		t.Errorf("Status = %q, want dlq", got.Status)
	}
}

func TestDispatch_CircuitOpensAfterFailuresAndDeniesNext(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := newTestDispatcher(t, st, clock)

	calls := 0
	d.AddSubscription(&Subscription{
		ID: "sub-1", Pattern: "*",
		Handler:       func(ctx context.Context, e domain.Event) error { calls++; return errors.New("down") },
		RetryOverride: &policy.Override{MaxRetries: intPtr(0)}, // one attempt per event, no internal retry
	})

	for i := 0; i < 4; i++ {
		e := publishEvent(t, ctx, st, fmt.Sprintf("evt-%d", i))
		d.Dispatch(ctx, e)
	}
	if calls != 4 {
		t.Fatalf("calls after 4 failing events = %d, want 4", calls)
	}

	// fifth event: breaker should now be open, denying admission entirely.
	e := publishEvent(t, ctx, st, "evt-5")
	d.Dispatch(ctx, e)
	if calls != 4 {
		t.Errorf("calls after 5th event = %d, want still 4 (circuit open)", calls)
	}
	got, _ := st.GetEvent(ctx, e.ID)
	if got.Status != domain.StatusDone {
		t.Errorf("Status = %q, want done (unmatched-by-circuit is handled)", got.Status)
	}

	clock.advance(31 * time.Second)
	e2 := publishEvent(t, ctx, st, "evt-6")
	d.Dispatch(ctx, e2)
	if calls != 5 {
		t.Errorf("calls after pause elapsed = %d, want 5 (single probe admitted)", calls)
	}
}

func TestDispatch_ProbeLeakClearedWhenEarlierSubscriptionFails(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := newTestDispatcher(t, st, clock)

	d.AddSubscription(&Subscription{
		ID: "sub-first", Pattern: "always.fails",
		Handler:       func(ctx context.Context, e domain.Event) error { return errors.New("first fails") },
		RetryOverride: &policy.Override{MaxRetries: intPtr(0)},
	})
	secondCalls := 0
	d.AddSubscription(&Subscription{
		ID: "sub-second", Pattern: "*",
		Handler:       func(ctx context.Context, e domain.Event) error { secondCalls++; return errors.New("second fails too") },
		RetryOverride: &policy.Override{MaxRetries: intPtr(0)},
	})

	// Trip sub-second's breaker on its own, via events sub-first doesn't match.
	for i := 0; i < 4; i++ {
		e := publishEvent(t, ctx, st, fmt.Sprintf("only-second-%d", i))
		d.Dispatch(ctx, e)
	}
	if secondCalls != 4 {
		t.Fatalf("secondCalls after tripping = %d, want 4", secondCalls)
	}
	if got := d.BreakerState("sub-second"); got != "open" {
		t.Fatalf("sub-second breaker state = %q, want open", got)
	}

	clock.advance(31 * time.Second)

	// This event matches both subscriptions; sub-first runs first (registration
	// order) and fails, aborting the sequence before sub-second's admitted
	// probe ever executes. That probe slot must be released, not leaked.
	e := publishEvent(t, ctx, st, "always.fails")
	d.Dispatch(ctx, e)
	if secondCalls != 4 {
		t.Fatalf("secondCalls after aborted dispatch = %d, want still 4 (never invoked)", secondCalls)
	}
	if got := d.BreakerState("sub-second"); got != "half_open" {
		t.Fatalf("sub-second breaker state after leak = %q, want half_open", got)
	}

	// Because the leaked probe was released, a fresh dispatch that only
	// matches sub-second can claim the probe slot and actually invoke it.
	e2 := publishEvent(t, ctx, st, "only-second-probe")
	d.Dispatch(ctx, e2)
	if secondCalls != 5 {
		t.Errorf("secondCalls after probe retry = %d, want 5 (probe slot was reclaimable)", secondCalls)
	}
}

func intPtr(i int) *int { return &i }
