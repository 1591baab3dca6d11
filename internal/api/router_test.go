package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Priya8975/eventbus/internal/bus"
	"github.com/Priya8975/eventbus/internal/dispatch"
	"github.com/Priya8975/eventbus/internal/dlq"
	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/policy"
	"github.com/Priya8975/eventbus/internal/store/memstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *bus.Bus) {
	t.Helper()
	st := memstore.New()
	d := dispatch.New(st, dispatch.WithSleeper(func(time.Duration) {}))
	b := bus.New(st, bus.WithDispatcher(d))
	r := NewRouter(b, dlq.New(st))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, b
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body HealthResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", body.Status)
	}
}

func TestDeadLetters_ListAndRetry(t *testing.T) {
	srv, b := newTestServer(t)
	ctx := context.Background()

	calls := 0
	maxRetries := 0
	b.Subscribe(ctx, "*", func(ctx context.Context, e domain.Event) error {
		calls++
		return &permanentFailure{}
	}, bus.WithRetryOverride(policy.Override{MaxRetries: &maxRetries}))

	id, err := b.Publish(ctx, "order.created", map[string]int{"n": 1}, nil)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/dead-letters/")
	if err != nil {
		t.Fatalf("GET /dead-letters error = %v", err)
	}
	defer resp.Body.Close()

	var events []domain.Event
	json.NewDecoder(resp.Body).Decode(&events)
	if len(events) != 1 || events[0].ID != id {
		t.Fatalf("dead letters = %v, want [%s]", events, id)
	}

	retryResp, err := http.Post(srv.URL+"/api/v1/dead-letters/"+id+"/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry error = %v", err)
	}
	defer retryResp.Body.Close()
	if retryResp.StatusCode != http.StatusOK {
		t.Errorf("retry status = %d, want 200", retryResp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	ctx := context.Background()
	b.Subscribe(ctx, "*", func(ctx context.Context, e domain.Event) error { return nil })
	b.Publish(ctx, "order.created", 1, nil)

	resp, err := http.Get(srv.URL + "/api/v1/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

type permanentFailure struct{}

func (e *permanentFailure) Error() string { return "permanent failure" }
