// Package outbox relays audit events committed to the PostgreSQL outbox
// table to a message broker, at least once and in creation order.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"safemodel/pkg/platform/audit/store/postgres"
)

// Source is the outbox side of the audit store.
type Source interface {
	FetchUnpublished(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkPublished(ctx context.Context, entryID uuid.UUID) error
}

// Sink publishes one outbox entry.
type Sink interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// Relay polls the outbox and forwards entries to the sink.
type Relay struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithInterval sets the poll interval. Default: 1s.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize sets how many entries are fetched per poll. Default: 100.
func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

func NewRelay(source Source, sink Sink, opts ...Option) (*Relay, error) {
	if source == nil {
		return nil, fmt.Errorf("outbox source is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("outbox sink is required")
	}
	r := &Relay{source: source, sink: sink, logger: slog.Default(), interval: time.Second, batchSize: 100}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil {
			r.logger.WarnContext(ctx, "outbox relay flush failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush forwards one batch and returns how many entries were published. It
// stops at the first publish failure so ordering is kept; the failed entry
// is retried on the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	entries, err := r.source.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		headers := map[string]string{"event_type": e.EventType, "outbox_id": e.ID.String()}
		if err := r.sink.Publish(ctx, e.AggregateID, e.Payload, headers); err != nil {
			return i, fmt.Errorf("publish outbox entry %s: %w", e.ID, err)
		}
		if err := r.source.MarkPublished(ctx, e.ID); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}
