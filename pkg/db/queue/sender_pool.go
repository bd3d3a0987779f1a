package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/messaging"
)

const DefaultPoolSize = 32

// SenderPool spreads sends over a fixed set of senders. A sender whose send
// fails is closed and replaced from the factory.
type SenderPool struct {
	pool    chan messaging.MessageSender
	factory func() (messaging.MessageSender, error)
}

// NewSenderPool pre-populates size senders. It fails only if none could be
// created.
func NewSenderPool(size int, factory func() (messaging.MessageSender, error)) (*SenderPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &SenderPool{
		pool:    make(chan messaging.MessageSender, size),
		factory: factory,
	}
	var errs []error
	for i := 0; i < size; i++ {
		sender, err := factory()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.pool <- sender
	}
	if len(p.pool) == 0 {
		return nil, fmt.Errorf("no sender could be created: %w", errors.Join(errs...))
	}
	return p, nil
}

// get blocks until a sender is free or ctx is done.
func (p *SenderPool) get(ctx context.Context) (messaging.MessageSender, error) {
	select {
	case sender := <-p.pool:
		return sender, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *SenderPool) put(sender messaging.MessageSender) {
	select {
	case p.pool <- sender:
	default:
		_ = sender.Close()
	}
}

func (p *SenderPool) SendEvent(ctx context.Context, event *messaging.Event) error {
	sender, err := p.get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get message sender from pool: %w", err)
	}

	if err := sender.SendEvent(ctx, event); err != nil {
		_ = sender.Close()
		p.replace(ctx)
		return err
	}
	p.put(sender)
	return nil
}

func (p *SenderPool) replace(ctx context.Context) {
	sender, err := p.factory()
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("failed to replace message sender")
		return
	}
	p.put(sender)
}

// Available is the number of idle senders.
func (p *SenderPool) Available() int {
	return len(p.pool)
}

// Close closes every idle sender.
func (p *SenderPool) Close() error {
	var errs []error
	for {
		select {
		case sender := <-p.pool:
			errs = append(errs, sender.Close())
		default:
			return errors.Join(errs...)
		}
	}
}

var _ messaging.MessageSender = (*SenderPool)(nil)
