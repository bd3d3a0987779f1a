package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/logging"
	"github.com/segmentio/kafka-go"
)

// Header names carried by handoff messages.
const (
	HeaderHandoff  = "handoff_id"
	HeaderOwner    = "owner"
	HeaderOrderID  = "order_id"
	HeaderBuffer   = "buffer"
	HeaderRecord   = "record"
	HeaderMetadata = "metadata"
	HeaderAction   = "action"

	actionDelegate = "delegate"
	actionRevoke   = "revoke"
)

// MessageWriter is the part of *kafka.Writer the delegator uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDelegator publishes handoffs to the executor's topic. The message key
// is the order address so every handoff of one order lands on one
// partition.
type KafkaDelegator struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaDelegator creates a delegator that writes to topic on brokers.
func NewKafkaDelegator(brokers []string, topic string) *KafkaDelegator {
	return NewKafkaDelegatorWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func NewKafkaDelegatorWithWriter(w MessageWriter) *KafkaDelegator {
	return &KafkaDelegator{writer: w, timeout: 5 * time.Second}
}

func (d *KafkaDelegator) Delegate(ctx context.Context, req core.DelegationRequest) error {
	return d.write(ctx, req, actionDelegate, PayloadFor(req).Encode())
}

// Revoke tells the executor to drop a handoff whose local commit failed.
// The executor matches it on the handoff id header, so a revoke never
// drops a later handoff of the same order.
func (d *KafkaDelegator) Revoke(ctx context.Context, req core.DelegationRequest) error {
	return d.write(ctx, req, actionRevoke, nil)
}

func (d *KafkaDelegator) write(ctx context.Context, req core.DelegationRequest, action string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:     []byte(req.Order.Hex()),
		Value:   value,
		Headers: handoffHeaders(req, action),
		Time:    time.Now(),
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", action, req.Order.Hex(), err)
	}

	logger := logging.FromContext(ctx)
	logger.Debug().
		Str("action", action).
		Str("handoff_id", req.HandoffID).
		Str("order", req.Order.Hex()).
		Msg("delegation handoff published")
	return nil
}

func handoffHeaders(req core.DelegationRequest, action string) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderAction, Value: []byte(action)},
		{Key: HeaderHandoff, Value: []byte(req.HandoffID)},
		{Key: HeaderOwner, Value: []byte(req.Owner.Hex())},
		{Key: HeaderOrderID, Value: []byte(fmt.Sprint(req.OrderID))},
		{Key: HeaderBuffer, Value: []byte(req.Buffer.Hex())},
		{Key: HeaderRecord, Value: []byte(req.Record.Hex())},
		{Key: HeaderMetadata, Value: []byte(req.Metadata.Hex())},
	}
}

func (d *KafkaDelegator) Close() error {
	return d.writer.Close()
}

var (
	_ core.Delegator = (*KafkaDelegator)(nil)
	_ core.Revoker   = (*KafkaDelegator)(nil)
)
