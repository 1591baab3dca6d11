package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Priya8975/eventbus/internal/domain"
)

// invokeWithTimeout races a handler's completion against a deadline timer
// — the "cooperative race primitive" of spec §4.5.b and §9's re-architected
// promise-race timeout. The loser is never killed: a handler that times out
// keeps running on its goroutine after invokeWithTimeout returns, which is
// why timeouts are documented as best-effort (spec §5 "Cancellation and
// timeouts"). Grounded on the teacher's worker/deliverer.go per-request
// http.Client{Timeout: ...}, generalized here to any Go function since
// handlers are no longer HTTP calls.
func invokeWithTimeout(ctx context.Context, h Handler, event domain.Event, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- h(ctx, event)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", domain.ErrHandlerTimeout, timeout)
	}
}
