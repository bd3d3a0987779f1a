package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/erain9/darkpool/pkg/core"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrSignerMismatch   = errors.New("signature does not match caller")
)

// SignatureGuard authorizes a caller by recovering the signer of the request
// digest and comparing it with the claimed identity.
type SignatureGuard struct{}

func NewSignatureGuard() *SignatureGuard { return &SignatureGuard{} }

func (g *SignatureGuard) Authorize(_ context.Context, caller core.Identity, digest [32]byte, signature []byte) error {
	if len(signature) == 0 {
		return ErrMissingSignature
	}
	signer, err := RecoverIdentity(digest, signature)
	if err != nil {
		return err
	}
	if signer != caller {
		return fmt.Errorf("%w: signed by %s, claimed %s", ErrSignerMismatch, signer.Hex(), caller.Hex())
	}
	return nil
}

// TrustedCaller accepts the claimed caller as is. Use it only behind a
// transport that already authenticated the caller.
type TrustedCaller struct{}

func (TrustedCaller) Authorize(context.Context, core.Identity, [32]byte, []byte) error {
	return nil
}

// Mode selects an Authorizer by name.
type Mode string

const (
	ModeSignature Mode = "signature"
	ModeTrusted   Mode = "trusted"
)

// New returns the Authorizer for mode.
func New(mode Mode) (core.Authorizer, error) {
	switch mode {
	case ModeSignature, "":
		return NewSignatureGuard(), nil
	case ModeTrusted:
		return TrustedCaller{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

var (
	_ core.Authorizer = (*SignatureGuard)(nil)
	_ core.Authorizer = TrustedCaller{}
)
