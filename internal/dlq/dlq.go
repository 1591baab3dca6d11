// Package dlq is the administrative reader over the dead-letter queue
// (spec §1, §6): list, count, retry (reset to pending), and purge by
// retention cutoff. It is deliberately outside the dispatch core — nothing
// in internal/dispatch or internal/bus imports it — matching spec §1's
// "DLQ inspection surface... a thin administrative reader over the same
// storage" framing.
//
// Grounded on the teacher's internal/api/dead_letters.go handlers, which
// call the same shape of operations against internal/store/delivery_store.go;
// here the SQL aggregate queries are replaced by direct calls into
// store.DLQReader.
package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/Priya8975/eventbus/internal/domain"
	"github.com/Priya8975/eventbus/internal/store"
)

// DefaultPageSize is the page size spec §6 documents when a caller doesn't
// specify one.
const DefaultPageSize = 100

// Reader is the administrative DLQ surface.
type Reader struct {
	store    store.DLQReader
	pageSize int
}

// Option configures a Reader at construction.
type Option func(*Reader)

// WithPageSize overrides the default page size List falls back to when the
// caller passes a non-positive limit (spec §6, tunable per config.Config).
func WithPageSize(n int) Option {
	return func(r *Reader) { r.pageSize = n }
}

// New wraps a DLQReader implementation.
func New(s store.DLQReader, opts ...Option) *Reader {
	r := &Reader{store: s, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns DLQ events, most recent first. A non-positive limit falls
// back to the reader's configured page size.
func (r *Reader) List(ctx context.Context, offset, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		limit = r.pageSize
	}
	if offset < 0 {
		offset = 0
	}
	events, err := r.store.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dlq events: %w", err)
	}
	return events, nil
}

// Count returns the total number of events currently in the DLQ.
func (r *Reader) Count(ctx context.Context) (int, error) {
	n, err := r.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting dlq events: %w", err)
	}
	return n, nil
}

// Retry resets a DLQ event to pending with a clean retry history, per spec
// §6's reset_dlq_event and §8's round-trip property. Returns domain.ErrNotFound
// or domain.ErrNotInDLQ (wrapped) if the event can't be reset.
func (r *Reader) Retry(ctx context.Context, id string) error {
	if err := r.store.ResetDLQEvent(ctx, id); err != nil {
		return fmt.Errorf("retrying dlq event %s: %w", id, err)
	}
	return nil
}

// Purge deletes DLQ events whose created_at is at or before cutoff — never
// dlq_at (spec §3, §8 scenario 8's retention semantics) — and returns the
// count deleted.
func (r *Reader) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := r.store.PurgeDLQ(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging dlq: %w", err)
	}
	return n, nil
}
