package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/pos-billing/internal/logging"
	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     messageReader
	retryDelay time.Duration
	log        *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,
	})
	return &Consumer{reader: reader, retryDelay: time.Second, log: logging.New("kafka-consumer")}
}

// Consume fetches messages and commits each one only after handler
// succeeded. A failing message is retried after a short pause instead of
// being skipped.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("fetch message failed", "err", err)
			continue
		}

		for {
			err := handler(ctx, msg.Key, msg.Value)
			if err == nil {
				break
			}
			c.log.Error("handle message failed",
				"err", err, "partition", msg.Partition, "offset", msg.Offset)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
