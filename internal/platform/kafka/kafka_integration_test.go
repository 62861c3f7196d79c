//go:build integration

package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safemodel/pkg/testutil/containers"
)

type collectingHandler struct {
	mu   sync.Mutex
	msgs []*Message
	done chan struct{}
	want int
}

func (h *collectingHandler) Handle(_ context.Context, msg *Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	if len(h.msgs) == h.want {
		close(h.done)
	}
	return nil
}

func TestProducerConsumerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rp := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	topic := "audit-" + uuid.NewString()
	producer, err := NewProducer(ctx, Config{Brokers: []string{rp.SeedBroker}, Topic: topic})
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureTopic(ctx, 1, 1))
	require.NoError(t, producer.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, producer.Publish(ctx, key, []byte("v-"+key), map[string]string{"event_type": "fit_completed"}))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consumer, err := NewConsumer(ctx, ConsumerConfig{
		Brokers: []string{rp.SeedBroker},
		Topics:  []string{topic},
		Group:   "test-" + uuid.NewString(),
	}, logger)
	require.NoError(t, err)
	defer consumer.Close()

	h := &collectingHandler{done: make(chan struct{}), want: 3}
	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Run(runCtx, h) }()

	select {
	case <-h.done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for records")
	}
	stop()
	<-errCh

	require.Len(t, h.msgs, 3)
	assert.Equal(t, "a", string(h.msgs[0].Key))
	assert.Equal(t, "v-c", string(h.msgs[2].Value))
	assert.Equal(t, "fit_completed", h.msgs[1].Headers["event_type"])
}
