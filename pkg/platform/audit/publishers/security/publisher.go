// Package security buffers rejected-credential events and flushes them to
// the audit store in batches. Emit never blocks; under a flood of failed
// logins the oldest events are overwritten.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "safemodel/pkg/platform/audit"
)

const batchSize = 100

// Publisher flushes buffered security events on an interval.
type Publisher struct {
	store    audit.Store
	buffer   *ringBuffer
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithCapacity sets the buffer size. Default: 1024.
func WithCapacity(n int) Option {
	return func(p *Publisher) { p.buffer = newRingBuffer(n) }
}

// WithFlushInterval sets how often the buffer is drained. Default: 1s.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) { p.interval = d }
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:    store,
		buffer:   newRingBuffer(1024),
		logger:   slog.Default(),
		interval: time.Second,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Emit buffers the event for the next flush.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	p.buffer.enqueue(event)
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int { return p.buffer.len() }

// Dropped returns how many events were overwritten before being flushed.
func (p *Publisher) Dropped() int64 { return p.buffer.droppedTotal() }

func (p *Publisher) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flush(context.Background())
		case <-p.stop:
			p.flush(context.Background())
			return
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	for {
		batch := p.buffer.dequeueBatch(batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil {
				p.logger.WarnContext(ctx, "failed to persist security event",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}

// Close flushes what is buffered and stops the background loop.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
	return nil
}
