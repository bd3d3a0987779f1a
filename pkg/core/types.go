package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Identity is an opaque 32-byte participant or market identifier.
type Identity [32]byte

// IdentityFromAddress left-pads a 20-byte signer address into an Identity.
func IdentityFromAddress(addr common.Address) Identity {
	var id Identity
	copy(id[12:], addr.Bytes())
	return id
}

// ParseIdentity accepts either a 32-byte or a 20-byte hex value, with or
// without the 0x prefix.
func ParseIdentity(s string) (Identity, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identity %q: %v", ErrInvalidIdentity, s, err)
	}
	switch len(b) {
	case 32:
		var id Identity
		copy(id[:], b)
		return id, nil
	case common.AddressLength:
		return IdentityFromAddress(common.BytesToAddress(b)), nil
	default:
		return Identity{}, fmt.Errorf("%w: identity %q has %d bytes", ErrInvalidIdentity, s, len(b))
	}
}

// MustParseIdentity is ParseIdentity for constants and tests.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identity) Hex() string    { return hexutil.Encode(id[:]) }
func (id Identity) String() string { return id.Hex() }
func (id Identity) IsZero() bool   { return id == Identity{} }

// Address returns the trailing 20 bytes, the signer address for identities
// built with IdentityFromAddress.
func (id Identity) Address() common.Address {
	return common.BytesToAddress(id[12:])
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Side of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

func (s Side) IsValid() bool { return s == Buy || s == Sell }

// ParseSide parses "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Status is the lifecycle state of an order.
type Status uint8

const (
	Open Status = iota
	Delegated
	PartialFill
	Filled
	Cancelled
)

var statusNames = map[Status]string{
	Open:        "OPEN",
	Delegated:   "DELEGATED",
	PartialFill: "PARTIAL_FILL",
	Filled:      "FILLED",
	Cancelled:   "CANCELLED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool { return s == Filled || s == Cancelled }

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

// Orderbook is the per-market registry record.
type Orderbook struct {
	Market     Identity `json:"market"`
	Authority  Identity `json:"authority"`
	OrderCount uint64   `json:"order_count"`
	TradeCount uint64   `json:"trade_count"`
	IsPaused   bool     `json:"is_paused"`

	// Version is assigned by the store; zero means never committed.
	Version uint64 `json:"-"`
}

// Address is the derived storage address of the orderbook.
func (ob *Orderbook) Address() Address { return OrderbookAddress(ob.Market) }

// Key is the logical key used to detect address collisions.
func (ob *Orderbook) Key() string { return "orderbook/" + ob.Market.Hex() }

// OrderKey identifies an order: ids are unique per owner.
type OrderKey struct {
	Owner   Identity `json:"owner"`
	OrderID uint64   `json:"order_id"`
}

func (k OrderKey) Address() Address { return OrderAddress(k.Owner, k.OrderID) }

func (k OrderKey) String() string { return fmt.Sprintf("order/%s/%d", k.Owner.Hex(), k.OrderID) }

// Delegation records the parameters of a successful handoff to the
// confidential executor.
type Delegation struct {
	Validator    Identity `json:"validator"`
	ValidUntil   int64    `json:"valid_until"`
	CommitFreqMs uint32   `json:"commit_freq_ms"`
	DelegatedAt  int64    `json:"delegated_at"`
}

// Order is a single participant's resting intent.
type Order struct {
	Owner        Identity    `json:"owner"`
	OrderID      uint64      `json:"order_id"`
	Market       Identity    `json:"market"`
	Side         Side        `json:"side"`
	Amount       uint64      `json:"amount"`
	Price        uint64      `json:"price"`
	FilledAmount uint64      `json:"filled_amount"`
	Status       Status      `json:"status"`
	CreatedAt    int64       `json:"created_at"`
	Delegation   *Delegation `json:"delegation,omitempty"`

	Version uint64 `json:"-"`
}

func (o *Order) OrderKey() OrderKey { return OrderKey{Owner: o.Owner, OrderID: o.OrderID} }
func (o *Order) Address() Address   { return o.OrderKey().Address() }
func (o *Order) Key() string        { return o.OrderKey().String() }

// TradeResult is the immutable record of one executed match.
type TradeResult struct {
	TradeID     uint64   `json:"trade_id"`
	Market      Identity `json:"market"`
	Buyer       Identity `json:"buyer"`
	Seller      Identity `json:"seller"`
	BuyOrderID  uint64   `json:"buy_order_id"`
	SellOrderID uint64   `json:"sell_order_id"`
	Amount      uint64   `json:"amount"`
	Price       uint64   `json:"price"`
	ExecutedAt  int64    `json:"executed_at"`

	Version uint64 `json:"-"`
}

func (t *TradeResult) Address() Address { return TradeAddress(t.TradeID) }
func (t *TradeResult) Key() string      { return fmt.Sprintf("trade/%d", t.TradeID) }

// MatchResult is returned by a successful match.
type MatchResult struct {
	Trade *TradeResult `json:"trade"`
	Buy   *Order       `json:"buy"`
	Sell  *Order       `json:"sell"`
}
