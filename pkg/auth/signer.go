package auth

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] secp256k1 signature.
const SignatureLength = crypto.SignatureLength

// Signer holds a secp256k1 key pair. Its identity is the key's address
// left-padded to 32 bytes.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a signer with a fresh random key.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex loads a signer from a hex-encoded private key, with or
// without the 0x prefix.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

func (s *Signer) Address() common.Address { return s.address }

// Identity is the caller identity this signer authenticates as.
func (s *Signer) Identity() core.Identity {
	return core.IdentityFromAddress(s.address)
}

// PrivateKeyHex returns the private key without the 0x prefix.
// Never log it.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// SignDigest signs a 32-byte request digest.
func (s *Signer) SignDigest(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Signable is implemented by every core request type.
type Signable interface {
	SetCaller(core.Identity)
	Digest() [32]byte
	Attach(signature []byte)
}

// Sign sets the signer as the request's caller and attaches a signature
// over the resulting digest.
func Sign(s *Signer, req Signable) error {
	req.SetCaller(s.Identity())
	sig, err := s.SignDigest(req.Digest())
	if err != nil {
		return err
	}
	req.Attach(sig)
	return nil
}

// RecoverIdentity returns the identity that produced signature over digest.
func RecoverIdentity(digest [32]byte, signature []byte) (core.Identity, error) {
	if len(signature) != SignatureLength {
		return core.Identity{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	pub, err := crypto.SigToPub(digest[:], signature)
	if err != nil {
		return core.Identity{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return core.IdentityFromAddress(crypto.PubkeyToAddress(*pub)), nil
}
