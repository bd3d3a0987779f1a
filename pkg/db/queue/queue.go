package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/darkpool/pkg/messaging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DefaultTopic = "darkpool-events"
	maxRetry     = 5
)

// Payload field names. The header fields are duplicated out of body so
// consumers can route without decoding the event.
const (
	fieldID     = "id"
	fieldType   = "type"
	fieldMarket = "market"
	fieldTime   = "time"
	fieldBody   = "body"
)

var newSyncProducer = sarama.NewSyncProducer

// QueueMessageSender publishes events to Kafka through a sarama sync
// producer, as protobuf Struct payloads keyed by market.
type QueueMessageSender struct {
	producer sarama.SyncProducer
	topic    string
}

// NewQueueMessageSender connects a producer to brokers.
func NewQueueMessageSender(brokers []string, topic string) (*QueueMessageSender, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry
	config.Producer.Return.Successes = true

	producer, err := newSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &QueueMessageSender{producer: producer, topic: topic}, nil
}

// SendEvent publishes event. The sarama producer does not take a context;
// ctx is only checked before sending.
func (q *QueueMessageSender) SendEvent(ctx context.Context, event *messaging.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(event.Market),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(fieldType), Value: []byte(event.Type)},
		},
	}
	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

func (q *QueueMessageSender) Close() error {
	return q.producer.Close()
}

// EncodeEvent renders event as a serialized google.protobuf.Struct.
func EncodeEvent(event *messaging.Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	payload, err := structpb.NewStruct(map[string]any{
		fieldID:     event.ID,
		fieldType:   string(event.Type),
		fieldMarket: event.Market,
		fieldTime:   event.Time.UTC().Format(time.RFC3339Nano),
		fieldBody:   string(body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build event payload: %w", err)
	}
	b, err := proto.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %v", err)
	}
	return b, nil
}

// DecodeEvent parses a payload written by EncodeEvent.
func DecodeEvent(b []byte) (*messaging.Event, error) {
	var payload structpb.Struct
	if err := proto.Unmarshal(b, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	body, ok := payload.GetFields()[fieldBody]
	if !ok {
		return nil, fmt.Errorf("event payload has no %s field", fieldBody)
	}
	var event messaging.Event
	if err := json.Unmarshal([]byte(body.GetStringValue()), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &event, nil
}

var _ messaging.MessageSender = (*QueueMessageSender)(nil)
