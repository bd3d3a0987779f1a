package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/messaging"
)

var newConsumer = sarama.NewConsumer

// QueueMessageConsumer reads events published by QueueMessageSender from
// partition 0 of the topic.
type QueueMessageConsumer struct {
	consumer  sarama.Consumer
	topic     string
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueueMessageConsumer(brokers []string, topic string) (*QueueMessageConsumer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	consumer, err := newConsumer(brokers, sarama.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return &QueueMessageConsumer{
		consumer: consumer,
		topic:    topic,
		done:     make(chan struct{}),
	}, nil
}

// ConsumeEvents calls handler for every event until ctx is cancelled or
// the consumer is closed. Undecodable messages and handler errors are
// logged and skipped.
func (c *QueueMessageConsumer) ConsumeEvents(ctx context.Context, handler func(*messaging.Event) error) error {
	pc, err := c.consumer.ConsumePartition(c.topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer pc.Close()

	logger := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			event, err := DecodeEvent(msg.Value)
			if err != nil {
				logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to decode event")
				continue
			}
			if err := handler(event); err != nil {
				logger.Error().Err(err).Str("event", string(event.Type)).Msg("event handler failed")
			}
		case cerr, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			logger.Error().Err(cerr).Msg("consumer error")
		}
	}
}

func (c *QueueMessageConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.consumer.Close()
	})
	return err
}
