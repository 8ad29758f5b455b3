package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/widedata/platform/pkg/common/logger"
)

// MessageReader is the subset of *kafka.Reader used by this package.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var fetchRetryDelay = 500 * time.Millisecond

type Consumer struct {
	reader MessageReader
	topic  string
	commit bool
}

type MessageHandler func(ctx context.Context, message kafka.Message) error

// NewConsumer reads topic as part of groupID. An empty groupID reads
// partition 0 directly from the newest offset, which is how reply topics are
// consumed: every instance owns its own reply topic and needs every message.
func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	readerCfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	}
	if groupID != "" {
		readerCfg.GroupID = groupID
	}

	reader := kafka.NewReader(readerCfg)
	if groupID == "" {
		if err := reader.SetOffset(kafka.LastOffset); err != nil {
			logger.Log.WithError(err).WithField("topic", topic).Warn("Failed to seek reply reader to newest offset")
		}
	}

	return &Consumer{reader: reader, topic: topic, commit: groupID != ""}
}

func newConsumerWithReader(reader MessageReader, topic string, commit bool) *Consumer {
	return &Consumer{reader: reader, topic: topic, commit: commit}
}

// Consume blocks until ctx is cancelled or the reader is closed. Handler
// errors are logged and the message is left uncommitted.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Log.WithError(err).WithField("topic", c.topic).Error("Failed to fetch message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if err := handler(ctx, message); err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"topic":  c.topic,
				"offset": message.Offset,
			}).Error("Failed to process message")
			continue
		}

		if c.commit {
			if err := c.reader.CommitMessages(ctx, message); err != nil {
				logger.Log.WithError(err).Error("Failed to commit message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
