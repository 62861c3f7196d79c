package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Handler processes one message. Returning nil commits it; an error stops
// the consumer without committing, so the message is redelivered on restart.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// ConsumerConfig holds group consumer settings.
type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	Group   string
}

// Consumer reads topics as a member of a consumer group and commits offsets
// only after the handler accepted every record of a fetch.
type Consumer struct {
	client *kgo.Client
	logger *slog.Logger
}

func NewConsumer(ctx context.Context, cfg ConsumerConfig, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if len(cfg.Topics) == 0 || cfg.Group == "" {
		return nil, fmt.Errorf("kafka topics and consumer group are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, logger: logger}, nil
}

// Run polls until ctx is cancelled or the handler fails.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
			fetchErr = err
		})
		if fetchErr != nil && fetches.NumRecords() == 0 {
			continue
		}

		var handleErr error
		var handled []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			if handleErr != nil {
				return
			}
			if err := h.Handle(ctx, toMessage(rec)); err != nil {
				handleErr = fmt.Errorf("handle %s/%d@%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
				return
			}
			handled = append(handled, rec)
		})
		if len(handled) > 0 {
			if err := c.client.CommitRecords(ctx, handled...); err != nil {
				return fmt.Errorf("commit offsets: %w", err)
			}
		}
		if handleErr != nil {
			return handleErr
		}
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}

func toMessage(rec *kgo.Record) *Message {
	msg := &Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   make(map[string]string, len(rec.Headers)),
	}
	for _, h := range rec.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}
