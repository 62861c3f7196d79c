package ops

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "safemodel/pkg/domain"
	audit "safemodel/pkg/platform/audit"
	"safemodel/pkg/platform/audit/store/memory"
)

type flakyStore struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *flakyStore) Append(context.Context, audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *flakyStore) ListBySession(context.Context, id.SessionID) ([]audit.Event, error) {
	return nil, nil
}

func (f *flakyStore) ListRecent(context.Context, int) ([]audit.Event, error) { return nil, nil }

func TestTracker_DrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	tr := New(store, WithMetrics(metrics), WithBufferSize(100))

	session := id.NewSessionID()
	for range 10 {
		tr.Track(audit.OpsEvent{SessionID: session, Action: string(audit.EventSnapshotCaptured)})
	}
	require.NoError(t, tr.Close())

	events, err := store.ListBySession(context.Background(), session)
	require.NoError(t, err)
	assert.Len(t, events, 10)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, 10.0, testutil.ToFloat64(metrics.Tracked))
}

func TestTracker_TrackAfterCloseIsDropped(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	tr := New(memory.NewInMemoryStore(), WithMetrics(metrics))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	tr.Track(audit.OpsEvent{Action: "late"})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Dropped))
}

func TestTracker_Sampling(t *testing.T) {
	store := memory.NewInMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	sampler := NewSampler(1)
	sampler.SetRate(string(audit.EventOptimizerCompiled), 0)
	tr := New(store, WithMetrics(metrics), WithSampler(sampler))

	tr.Track(audit.OpsEvent{Action: string(audit.EventOptimizerCompiled)})
	tr.Track(audit.OpsEvent{Action: string(audit.EventSnapshotCaptured)})
	require.NoError(t, tr.Close())

	events, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventSnapshotCaptured), events[0].Action)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sampled))
}

func TestTracker_CircuitBreaker(t *testing.T) {
	store := &flakyStore{err: errors.New("unavailable")}
	metrics := NewMetrics(prometheus.NewRegistry())
	tr := New(store, WithMetrics(metrics), WithCircuitBreaker(2, time.Hour))

	for range 5 {
		tr.Track(audit.OpsEvent{Action: "x"})
	}
	require.NoError(t, tr.Close())

	assert.Equal(t, 2, store.calls, "writes stop once the circuit opens")
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.CircuitBreakerDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerState))
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newCircuitBreaker(1, time.Minute, func() time.Time { return now })

	assert.True(t, cb.allow())
	assert.True(t, cb.recordFailure())
	assert.False(t, cb.allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.allow(), "cooldown elapsed")
	assert.False(t, cb.isOpen())
}

func TestSampler_Clamps(t *testing.T) {
	s := NewSampler(5)
	assert.True(t, s.Keep("any"))
	s.SetRate("never", -1)
	assert.False(t, s.Keep("never"))

	s.SetRate("half", 0.5)
	s.float = func() float64 { return 0.49 }
	assert.True(t, s.Keep("half"))
	s.float = func() float64 { return 0.5 }
	assert.False(t, s.Keep("half"))
}
