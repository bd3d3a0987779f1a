package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{newError("op", PricingViolation, ErrPriceMismatch), PricingViolation},
		{fmt.Errorf("wrapped: %w", newError("op", MarketUnavailable, ErrMarketPaused)), MarketUnavailable},
		{fmt.Errorf("order: %w", ErrNotFound), NotFound},
		{fmt.Errorf("order: %w", ErrAlreadyExists), AlreadyExists},
		{fmt.Errorf("order: %w", ErrAddressCollision), AlreadyExists},
		{fmt.Errorf("order: %w", ErrStaleRecord), StateConflict},
		{ErrInvalidAmount, InvalidInput},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := newError(OpMatchOrders, NoMatchableQuantity, ErrNoMatchableAmount)
	assert.Equal(t, "match_orders: NoMatchableQuantity: no matchable amount", err.Error())
	assert.ErrorIs(t, err, ErrNoMatchableAmount)
	assert.True(t, IsKind(err, NoMatchableQuantity))
}

func TestParseKind(t *testing.T) {
	for kind := range kindNames {
		parsed, ok := ParseKind(kind.String())
		assert.True(t, ok)
		assert.Equal(t, kind, parsed)
	}
	_, ok := ParseKind("Nope")
	assert.False(t, ok)
}
