// Command eventbusd runs the event bus as a long-lived daemon: a durable
// sqlite-backed store, a handful of demo subscriptions, and the admin HTTP
// surface (health, DLQ, metrics, live retry-log websocket).
//
// Grounded on the teacher's cmd/server/main.go startup/shutdown sequencing.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/eventbus/internal/api"
	"github.com/Priya8975/eventbus/internal/bus"
	"github.com/Priya8975/eventbus/internal/config"
	"github.com/Priya8975/eventbus/internal/dispatch"
	"github.com/Priya8975/eventbus/internal/dlq"
	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/eventsocket"
	"github.com/Priya8975/eventbus/internal/policy"
	"github.com/Priya8975/eventbus/internal/store/sqlitestore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := sqlitestore.Open(cfg.StorePath)
	if err != nil {
		logger.Error("failed to open sqlite store", "error", err)
		os.Exit(1)
	}
	logger.Info("opened durable store", "path", cfg.StorePath)

	hub := eventsocket.NewHub(logger)
	stopHub := make(chan struct{})
	go hub.Run(stopHub)

	dispatcher := dispatch.New(st,
		dispatch.WithLogger(logger),
		dispatch.WithRetryLogSink(hub.RetrySink()),
		dispatch.WithTerminalHook(hub.NotifyTerminal),
		dispatch.WithDefaultPolicy(policy.Policy{
			MaxRetries:        cfg.DefaultMaxRetries,
			BaseDelay:         cfg.DefaultBaseDelay,
			MaxDelay:          cfg.DefaultMaxDelay,
			BackoffMultiplier: cfg.DefaultBackoffMultiplier,
		}),
		dispatch.WithCircuitParams(cfg.CircuitWindow, cfg.CircuitMinSamples, cfg.CircuitFailureThreshold, cfg.CircuitPause),
	)
	b := bus.New(st,
		bus.WithLogger(logger),
		bus.WithDispatcher(dispatcher),
		bus.WithDefaultHandlerTimeout(cfg.DefaultHandlerTimeout),
	)

	registerDemoSubscriptions(b, logger)

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		logger.Error("crash recovery failed", "error", err)
		os.Exit(1)
	}
	logger.Info("crash recovery complete")

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(b, dlq.New(st, dlq.WithPageSize(cfg.DLQPageSize))))
	mux.HandleFunc("/ws", hub.HandleWebSocket)

	server := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("admin server starting", "port", cfg.AdminPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down eventbusd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrain+5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server forced to shutdown", "error", err)
	}

	if err := b.Shutdown(shutdownCtx, cfg.ShutdownDrain); err != nil {
		logger.Error("bus shutdown failed", "error", err)
	}
	close(stopHub)

	logger.Info("eventbusd stopped")
}

// registerDemoSubscriptions wires a couple of illustrative handlers so the
// daemon does something observable out of the box; real deployments call
// bus.Subscribe from their own embedding code instead.
func registerDemoSubscriptions(b *bus.Bus, logger *slog.Logger) {
	ctx := context.Background()

	b.Subscribe(ctx, "order.*", func(ctx context.Context, e domain.Event) error {
		logger.Info("order event received", "event_id", e.ID, "type", e.Type)
		return nil
	})

	b.Subscribe(ctx, "*", func(ctx context.Context, e domain.Event) error {
		logger.Debug("event observed", "event_id", e.ID, "type", e.Type)
		return nil
	}, bus.WithHandlerTimeout(5*time.Second), bus.WithRetryOverride(policy.Override{}))
}
