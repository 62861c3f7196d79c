// Package ops provides a non-blocking, sampled audit publisher for routine
// events such as snapshot captures and optimizer compiles.
//
// Track never blocks the caller: events are sampled, queued on a bounded
// buffer, and persisted by a background worker. A circuit breaker sheds
// writes while the store is failing.
package ops

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/platform/audit/worker"
)

// Tracker emits ops events asynchronously.
type Tracker struct {
	store   audit.Store
	sampler *Sampler
	breaker *circuitBreaker
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	buffer int
	mu     sync.RWMutex // guards queue against Track after Close
	closed bool
	queue  chan audit.Event
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithSampler(s *Sampler) Option {
	return func(t *Tracker) { t.sampler = s }
}

// WithBufferSize sets the queue capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(t *Tracker) { t.buffer = n }
}

// WithCircuitBreaker sets the failure threshold and cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(t *Tracker) { t.breaker = newCircuitBreaker(threshold, cooldown, t.now) }
}

// New starts a tracker and its background worker. Call Close to drain.
func New(store audit.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		sampler: NewSampler(1),
		logger:  slog.Default(),
		now:     time.Now,
		buffer:  1024,
		done:    make(chan struct{}),
	}
	t.breaker = newCircuitBreaker(5, time.Minute, t.now)
	for _, opt := range opts {
		opt(t)
	}
	t.queue = make(chan audit.Event, t.buffer)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	w := worker.NewWorker(storeFunc(t.persist), t.queue)
	go func() {
		defer close(t.done)
		_ = w.Run(ctx)
	}()
	return t
}

// Track enqueues an event. It returns immediately; events may be sampled
// out or dropped when the buffer is full or the circuit is open.
func (t *Tracker) Track(event audit.OpsEvent) {
	if !t.sampler.Keep(event.Action) {
		t.metrics.incSampled()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.metrics.incDropped()
		return
	}
	select {
	case t.queue <- event.ToEvent():
	default:
		t.metrics.incDropped()
	}
}

func (t *Tracker) persist(ctx context.Context, event audit.Event) error {
	if !t.breaker.allow() {
		t.metrics.incCircuitBreakerDropped()
		return nil
	}
	if err := t.store.Append(ctx, event); err != nil {
		t.metrics.incPersistFailures()
		if t.breaker.recordFailure() {
			t.metrics.setCircuitOpen(true)
			t.logger.WarnContext(ctx, "ops audit circuit opened", "error", err)
		}
		// ops events are best effort; keep the worker running
		return nil
	}
	if t.breaker.isOpen() {
		t.metrics.setCircuitOpen(false)
	}
	t.breaker.recordSuccess()
	t.metrics.incTracked()
	return nil
}

// Close stops accepting events, drains the queue, and waits for the worker.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	<-t.done
	t.cancel()
	return nil
}

type storeFunc func(ctx context.Context, event audit.Event) error

func (f storeFunc) Append(ctx context.Context, event audit.Event) error { return f(ctx, event) }
