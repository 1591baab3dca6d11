// Command loadgen drives a standalone in-process bus with synthetic
// publishes for manual soak testing, in place of the teacher's HTTP
// mock-endpoints server: instead of a receiving HTTP handler, this wires a
// couple of handlers directly onto a *bus.Bus and reports counts as it goes.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/Priya8975/eventbus/internal/bus"
	"github.com/Priya8975/eventbus/internal/dispatch"
	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/store/sqlitestore"
)

func main() {
	storePath := flag.String("store", ":memory:", "sqlite store path (':memory:' for an ephemeral run)")
	rate := flag.Duration("interval", 100*time.Millisecond, "delay between publishes")
	count := flag.Int("count", 1000, "number of events to publish, 0 for unbounded")
	failRate := flag.Float64("fail-rate", 0.3, "fraction of handler invocations that fail, in [0,1]")
	slowRate := flag.Float64("slow-rate", 0.05, "fraction of handler invocations that exceed the handler timeout")
	flag.Parse()

	st, err := sqlitestore.Open(*storePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	d := dispatch.New(st, dispatch.WithRetryLogSink(func(e dispatch.RetryLogEntry) {
		log.Printf("[retry] event=%s sub=%s attempt=%d/%d delay_ms=%d err=%s",
			e.EventID, e.SubscriptionID, e.Attempt, e.MaxAttempts, e.DelayMS, e.Error)
	}))
	b := bus.New(st, bus.WithDispatcher(d))

	var succeeded, failed atomic.Int64

	ctx := context.Background()
	b.Subscribe(ctx, "loadgen.*", func(ctx context.Context, e domain.Event) error {
		roll := rand.Float64()
		switch {
		case roll < *slowRate:
			time.Sleep(2 * dispatch.DefaultHandlerTimeout)
			return nil
		case roll < *slowRate+*failRate:
			failed.Add(1)
			return errSimulatedFailure
		default:
			succeeded.Add(1)
			return nil
		}
	})

	log.Printf("loadgen starting: store=%s interval=%s count=%d fail_rate=%.2f slow_rate=%.2f",
		*storePath, *rate, *count, *failRate, *slowRate)

	eventTypes := []string{"loadgen.order.created", "loadgen.order.updated", "loadgen.payment.settled"}

	for i := 0; *count == 0 || i < *count; i++ {
		eventType := eventTypes[i%len(eventTypes)]
		payload := map[string]any{"seq": i, "generated_at": time.Now().UTC()}

		if _, err := b.Publish(ctx, eventType, payload, map[string]string{"source": "loadgen"}); err != nil {
			log.Printf("publish error: %v", err)
		}

		if i%50 == 0 {
			log.Printf("progress: published=%d succeeded=%d failed=%d", i+1, succeeded.Load(), failed.Load())
		}
		time.Sleep(*rate)
	}

	if err := b.Shutdown(ctx, bus.DefaultShutdownDrain); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Printf("done: succeeded=%d failed=%d", succeeded.Load(), failed.Load())
}

type simulatedFailure struct{}

func (simulatedFailure) Error() string { return "loadgen: simulated handler failure" }

var errSimulatedFailure error = simulatedFailure{}
