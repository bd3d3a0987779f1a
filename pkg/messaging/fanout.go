package messaging

import (
	"context"
	"errors"
	"sync"
)

// Fanout delivers every event to all of its senders.
type Fanout struct {
	mu      sync.RWMutex
	senders []MessageSender
}

// NewFanout skips nil senders.
func NewFanout(senders ...MessageSender) *Fanout {
	f := &Fanout{}
	for _, s := range senders {
		if s != nil {
			f.senders = append(f.senders, s)
		}
	}
	return f
}

// Add registers another sender.
func (f *Fanout) Add(s MessageSender) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.senders = append(f.senders, s)
	f.mu.Unlock()
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.senders)
}

func (f *Fanout) snapshot() []MessageSender {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]MessageSender(nil), f.senders...)
}

// SendEvent tries every sender and joins their errors.
func (f *Fanout) SendEvent(ctx context.Context, event *Event) error {
	var errs []error
	for _, s := range f.snapshot() {
		if err := s.SendEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.snapshot() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ MessageSender = (*Fanout)(nil)
