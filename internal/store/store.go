// Package store defines the narrow persistence contract the dispatch core
// depends on (spec §6). The core never talks to a concrete database; it
// only ever sees this interface, so any implementation that honors the
// operation set and the status DAG in domain.Event can back the bus.
package store

import (
	"context"
	"time"

	"github.com/Priya8975/eventbus/internal/domain"
)

// Store is the persistence contract consumed by the dispatch core.
type Store interface {
	InsertEvent(ctx context.Context, e *domain.Event) error
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	UpdateRetry(ctx context.Context, id string, retryCount int, lastErrorJSON string) error
	MoveToDLQ(ctx context.Context, id string, lastErrorJSON string) error
	EventsByStatus(ctx context.Context, status domain.Status) ([]*domain.Event, error)

	InsertSubscription(ctx context.Context, s domain.SubscriptionRecord) error
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context) ([]domain.SubscriptionRecord, error)

	Close() error
}

// DLQReader is the thin administrative surface over the same storage
// (spec §1, §6) — list/retry/purge, kept separate from Store because it is
// explicitly an external collaborator of the dispatch core, not something
// the core itself calls.
type DLQReader interface {
	List(ctx context.Context, offset, limit int) ([]*domain.Event, error)
	Count(ctx context.Context) (int, error)
	ResetDLQEvent(ctx context.Context, id string) error
	PurgeDLQ(ctx context.Context, cutoff time.Time) (int, error)
}
