package core

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	full := "0x00000000000000000000000071c7656ec7ab88b098defb751b7401b5f6d8976f"
	id, err := ParseIdentity(full)
	require.NoError(t, err)
	assert.Equal(t, full, id.Hex())

	short, err := ParseIdentity("71C7656EC7ab88b098defB751B7401B5f6d8976F")
	require.NoError(t, err)
	assert.Equal(t, id, short)
	assert.Equal(t, common.HexToAddress("0x71C7656EC7ab88b098defB751B7401B5f6d8976F"), short.Address())

	for _, bad := range []string{"", "0x01", "zz", "0x" + full[2:] + "00"} {
		_, err := ParseIdentity(bad)
		assert.ErrorIs(t, err, ErrInvalidIdentity, bad)
	}
}

func TestIdentityFromAddress(t *testing.T) {
	addr := common.HexToAddress("0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	id := IdentityFromAddress(addr)
	assert.Equal(t, make([]byte, 12), id[:12])
	assert.Equal(t, addr, id.Address())
	assert.False(t, id.IsZero())
	assert.True(t, Identity{}.IsZero())
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "BUY", Buy.String())
	assert.Equal(t, "SELL", Sell.String())
	assert.Equal(t, "Side(7)", Side(7).String())

	side, err := ParseSide("sell")
	require.NoError(t, err)
	assert.Equal(t, Sell, side)
	_, err = ParseSide("hold")
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestStatusTerminal(t *testing.T) {
	tests := map[Status]bool{
		Open:        false,
		Delegated:   false,
		PartialFill: false,
		Filled:      true,
		Cancelled:   true,
	}
	for status, terminal := range tests {
		assert.Equal(t, terminal, status.IsTerminal(), status.String())
	}
}

func TestOrderJSON(t *testing.T) {
	order := &Order{
		Owner:        MustParseIdentity("0x71C7656EC7ab88b098defB751B7401B5f6d8976F"),
		OrderID:      42,
		Side:         Sell,
		Amount:       100,
		Price:        7,
		FilledAmount: 40,
		Status:       PartialFill,
		Delegation:   &Delegation{Validator: DefaultValidator, CommitFreqMs: 30000},
		Version:      9,
	}
	data, err := json.Marshal(order)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "SELL", fields["side"])
	assert.Equal(t, "PARTIAL_FILL", fields["status"])
	assert.Equal(t, order.Owner.Hex(), fields["owner"])
	assert.NotContains(t, fields, "Version")

	var decoded Order
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, uint64(0), decoded.Version)
	decoded.Version = order.Version
	assert.Equal(t, order, &decoded)
}

func TestOrderKeys(t *testing.T) {
	owner := MustParseIdentity("0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	order := &Order{Owner: owner, OrderID: 3}
	assert.Equal(t, OrderKey{Owner: owner, OrderID: 3}, order.OrderKey())
	assert.Equal(t, "order/"+owner.Hex()+"/3", order.Key())
	assert.Equal(t, "trade/3", (&TradeResult{TradeID: 3}).Key())
}
