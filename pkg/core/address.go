package core

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Seeds for derived storage addresses.
const (
	OrderbookSeed = "orderbook"
	OrderSeed     = "order"
	TradeSeed     = "trade"

	BufferSeed   = "buffer"
	RecordSeed   = "record"
	MetadataSeed = "metadata"
)

// Address is a deterministic storage address derived from a seed and the
// record's identifying fields. Two records with the same fields always
// land on the same address, which is what makes creation unique.
type Address [32]byte

// DeriveAddress hashes seed || parts with keccak256.
func DeriveAddress(seed string, parts ...[]byte) Address {
	data := make([][]byte, 0, len(parts)+1)
	data = append(data, []byte(seed))
	data = append(data, parts...)
	return Address(crypto.Keccak256Hash(data...))
}

func OrderbookAddress(market Identity) Address {
	return DeriveAddress(OrderbookSeed, market[:])
}

func OrderAddress(owner Identity, orderID uint64) Address {
	return DeriveAddress(OrderSeed, owner[:], le64(orderID))
}

func TradeAddress(tradeID uint64) Address {
	return DeriveAddress(TradeSeed, le64(tradeID))
}

// DelegationSlots returns the auxiliary buffer, record and metadata
// addresses the executor uses while it holds an order.
func DelegationSlots(order Address) (buffer, record, metadata Address) {
	return DeriveAddress(BufferSeed, order[:]),
		DeriveAddress(RecordSeed, order[:]),
		DeriveAddress(MetadataSeed, order[:])
}

func (a Address) Hex() string    { return hexutil.Encode(a[:]) }
func (a Address) String() string { return a.Hex() }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(a) {
		return fmt.Errorf("address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return nil
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
