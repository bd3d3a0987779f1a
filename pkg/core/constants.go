package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Operations return them wrapped in an *Error carrying the
// failure Kind.
var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidPrice        = errors.New("price must be greater than zero")
	ErrInvalidSide         = errors.New("invalid order side")
	ErrInvalidIdentity     = errors.New("invalid identity")
	ErrInvalidDelegation   = errors.New("invalid delegation parameters")
	ErrMarketMismatch      = errors.New("order does not belong to market")
	ErrOrderNotOpen        = errors.New("order is not open")
	ErrOrderNotDelegated   = errors.New("order is not delegated")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled in its current status")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMarketPaused        = errors.New("market is paused")
	ErrPriceMismatch       = errors.New("buy price is below sell price")
	ErrNoMatchableAmount   = errors.New("no matchable amount")
	ErrDelegationFailed    = errors.New("delegation handoff failed")

	// Store errors.
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyExists    = errors.New("record already exists")
	ErrStaleRecord      = errors.New("record changed since it was read")
	ErrAddressCollision = errors.New("derived address holds a different record")
	ErrDuplicateAddress = errors.New("transaction writes the same address twice")
	ErrImmutableRecord  = errors.New("record is immutable")
)

// Kind classifies a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	InvalidInput
	StateConflict
	AuthorizationFailure
	MarketUnavailable
	PricingViolation
	NoMatchableQuantity
	CollaboratorFailure
	NotFound
	AlreadyExists
)

var kindNames = map[Kind]string{
	KindUnknown:          "Unknown",
	InvalidInput:         "InvalidInput",
	StateConflict:        "StateConflict",
	AuthorizationFailure: "AuthorizationFailure",
	MarketUnavailable:    "MarketUnavailable",
	PricingViolation:     "PricingViolation",
	NoMatchableQuantity:  "NoMatchableQuantity",
	CollaboratorFailure:  "CollaboratorFailure",
	NotFound:             "NotFound",
	AlreadyExists:        "AlreadyExists",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// Error is the failure returned by every engine operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of err. Bare store sentinels are classified too so
// that store implementations can return plain wrapped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrAddressCollision):
		return AlreadyExists
	case errors.Is(err, ErrStaleRecord), errors.Is(err, ErrImmutableRecord):
		return StateConflict
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidSide), errors.Is(err, ErrInvalidIdentity),
		errors.Is(err, ErrInvalidDelegation), errors.Is(err, ErrDuplicateAddress):
		return InvalidInput
	}
	return KindUnknown
}

// IsKind reports whether err has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
