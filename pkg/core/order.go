package core

import (
	"fmt"
	"time"
)

// NewOrder builds an Open order after validating its terms.
func NewOrder(owner, market Identity, orderID uint64, side Side, amount, price uint64, createdAt int64) (*Order, error) {
	if err := validateTerms(side, amount, price); err != nil {
		return nil, err
	}
	return &Order{
		Owner:     owner,
		OrderID:   orderID,
		Market:    market,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Status:    Open,
		CreatedAt: createdAt,
	}, nil
}

func validateTerms(side Side, amount, price uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if price == 0 {
		return ErrInvalidPrice
	}
	if !side.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidSide, uint8(side))
	}
	return nil
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() uint64 {
	return SaturatingSub(o.Amount, o.FilledAmount)
}

// IsFilled reports whether the order has been fully executed.
func (o *Order) IsFilled() bool {
	return o.FilledAmount >= o.Amount
}

// DelegationExpired reports whether the recorded delegation deadline has
// passed. A zero deadline never expires. It is informational: no transition
// depends on it.
func (o *Order) DelegationExpired(now time.Time) bool {
	if o.Delegation == nil || o.Delegation.ValidUntil == 0 {
		return false
	}
	return now.Unix() > o.Delegation.ValidUntil
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	if o.Delegation != nil {
		d := *o.Delegation
		c.Delegation = &d
	}
	return &c
}

func (o *Order) checkDelegable() error {
	if o.Status != Open {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotOpen, o.Key(), o.Status)
	}
	return nil
}

func (o *Order) markDelegated(d Delegation) {
	o.Status = Delegated
	o.Delegation = &d
}

func (o *Order) checkCancellable() error {
	switch o.Status {
	case Open, PartialFill:
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrOrderNotCancellable, o.Key(), o.Status)
	}
}

func (o *Order) markCancelled() {
	o.Status = Cancelled
}

// applyFill adds amount to the filled quantity and moves the order to
// Filled or PartialFill.
func (o *Order) applyFill(amount uint64) {
	o.FilledAmount = SaturatingAdd(o.FilledAmount, amount)
	if o.IsFilled() {
		o.Status = Filled
	} else {
		o.Status = PartialFill
	}
}
