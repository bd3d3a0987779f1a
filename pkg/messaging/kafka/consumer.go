package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// EventConsumer reads events written by KafkaMessageSender.
type EventConsumer struct {
	reader MessageReader
	logger zerolog.Logger
}

func NewEventConsumer(brokers []string, topic, groupID string, logger zerolog.Logger) *EventConsumer {
	return NewEventConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}), logger)
}

func NewEventConsumerWithReader(r MessageReader, logger zerolog.Logger) *EventConsumer {
	return &EventConsumer{reader: r, logger: logger}
}

// Run calls handler for every event until ctx is cancelled. Messages that
// fail to decode or to be handled are logged and skipped.
func (c *EventConsumer) Run(ctx context.Context, handler func(*messaging.Event) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var event messaging.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to decode event")
			continue
		}
		if err := handler(&event); err != nil {
			c.logger.Error().Err(err).Str("event", string(event.Type)).Msg("event handler failed")
		}
	}
}

func (c *EventConsumer) Close() error {
	return c.reader.Close()
}
