package delegation

import (
	"context"
	"errors"
	"sync"

	"github.com/erain9/darkpool/pkg/core"
)

var ErrAlreadyHeld = errors.New("order already held by custodian")

type holding struct {
	handoff string
	payload Payload
}

// Custodian is an in-process executor. It keeps the decoded payload of every
// order handed to it until that handoff is revoked.
type Custodian struct {
	mu   sync.RWMutex
	held map[core.Address]holding
	fail func(core.DelegationRequest) error
}

func NewCustodian() *Custodian {
	return &Custodian{held: make(map[core.Address]holding)}
}

// FailWith installs a hook that can reject handoffs. A nil hook accepts all.
func (c *Custodian) FailWith(fn func(core.DelegationRequest) error) {
	c.mu.Lock()
	c.fail = fn
	c.mu.Unlock()
}

func (c *Custodian) Delegate(_ context.Context, req core.DelegationRequest) error {
	// Held payloads are decoded from the wire form.
	payload, err := DecodePayload(PayloadFor(req).Encode())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		if err := c.fail(req); err != nil {
			return err
		}
	}
	if _, ok := c.held[req.Order]; ok {
		return ErrAlreadyHeld
	}
	c.held[req.Order] = holding{handoff: req.HandoffID, payload: payload}
	return nil
}

// Revoke drops the order only if it is held under req's handoff.
func (c *Custodian) Revoke(_ context.Context, req core.DelegationRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.held[req.Order]; ok && h.handoff == req.HandoffID {
		delete(c.held, req.Order)
	}
	return nil
}

// Holding returns the payload held for order.
func (c *Custodian) Holding(order core.Address) (Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.held[order]
	return h.payload, ok
}

func (c *Custodian) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.held)
}

var (
	_ core.Delegator = (*Custodian)(nil)
	_ core.Revoker   = (*Custodian)(nil)
)
