package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder(t *testing.T) {
	owner := MustParseIdentity("0x0000000000000000000000000000000000000001")
	market := MustParseIdentity("0x0000000000000000000000000000000000000002")

	order, err := NewOrder(owner, market, 1, Buy, 100, 10, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, Open, order.Status)
	assert.Equal(t, uint64(0), order.FilledAmount)
	assert.Equal(t, uint64(100), order.Remaining())

	tests := []struct {
		name   string
		side   Side
		amount uint64
		price  uint64
		want   error
	}{
		{"zero amount", Buy, 0, 10, ErrInvalidAmount},
		{"zero price", Sell, 10, 0, ErrInvalidPrice},
		{"bad side", Side(2), 10, 10, ErrInvalidSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(owner, market, 1, tt.side, tt.amount, tt.price, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestApplyFill(t *testing.T) {
	order := &Order{Amount: 100, Status: Delegated}

	order.applyFill(40)
	assert.Equal(t, PartialFill, order.Status)
	assert.Equal(t, uint64(60), order.Remaining())

	order.applyFill(60)
	assert.Equal(t, Filled, order.Status)
	assert.Equal(t, uint64(0), order.Remaining())
	assert.True(t, order.IsFilled())
}

func TestRemainingSaturates(t *testing.T) {
	order := &Order{Amount: 10, FilledAmount: 15}
	assert.Equal(t, uint64(0), order.Remaining())
}

func TestCheckCancellable(t *testing.T) {
	tests := map[Status]bool{
		Open:        true,
		PartialFill: true,
		Delegated:   false,
		Filled:      false,
		Cancelled:   false,
	}
	for status, ok := range tests {
		order := &Order{Status: status}
		err := order.checkCancellable()
		if ok {
			assert.NoError(t, err, status.String())
		} else {
			assert.ErrorIs(t, err, ErrOrderNotCancellable, status.String())
		}
	}
}

func TestCheckDelegable(t *testing.T) {
	for _, status := range []Status{Delegated, PartialFill, Filled, Cancelled} {
		assert.ErrorIs(t, (&Order{Status: status}).checkDelegable(), ErrOrderNotOpen, status.String())
	}
	assert.NoError(t, (&Order{Status: Open}).checkDelegable())
}

func TestDelegationExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)

	assert.False(t, (&Order{}).DelegationExpired(now))
	assert.False(t, (&Order{Delegation: &Delegation{ValidUntil: 0}}).DelegationExpired(now))
	assert.False(t, (&Order{Delegation: &Delegation{ValidUntil: now.Unix()}}).DelegationExpired(now))
	assert.True(t, (&Order{Delegation: &Delegation{ValidUntil: now.Unix() - 1}}).DelegationExpired(now))
}

func TestOrderClone(t *testing.T) {
	order := &Order{Amount: 5, Delegation: &Delegation{CommitFreqMs: 10}}
	clone := order.Clone()
	clone.Delegation.CommitFreqMs = 20
	clone.Amount = 6
	assert.Equal(t, uint32(10), order.Delegation.CommitFreqMs)
	assert.Equal(t, uint64(5), order.Amount)
}
