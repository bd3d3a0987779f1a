package delegation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/erain9/darkpool/pkg/core"
)

// Discriminator prefixes every delegation payload.
const Discriminator = "Delegate"

// PayloadSize is the encoded size of a delegation payload.
const PayloadSize = len(Discriminator) + 32 + 8 + 4

var ErrMalformedPayload = errors.New("malformed delegation payload")

// Payload is the instruction the executor program receives.
type Payload struct {
	Validator    core.Identity
	ValidUntil   int64
	CommitFreqMs uint32
}

// PayloadFor extracts the executor instruction from a handoff.
func PayloadFor(req core.DelegationRequest) Payload {
	return Payload{
		Validator:    req.Validator,
		ValidUntil:   req.ValidUntil,
		CommitFreqMs: req.CommitFreqMs,
	}
}

// Encode lays the payload out as
// "Delegate" || validator || valid_until (i64 LE) || commit_freq_ms (u32 LE).
func (p Payload) Encode() []byte {
	buf := make([]byte, 0, PayloadSize)
	buf = append(buf, Discriminator...)
	buf = append(buf, p.Validator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.ValidUntil))
	buf = binary.LittleEndian.AppendUint32(buf, p.CommitFreqMs)
	return buf
}

func DecodePayload(b []byte) (Payload, error) {
	if len(b) != PayloadSize {
		return Payload{}, fmt.Errorf("%w: %d bytes", ErrMalformedPayload, len(b))
	}
	if string(b[:len(Discriminator)]) != Discriminator {
		return Payload{}, fmt.Errorf("%w: bad discriminator %q", ErrMalformedPayload, b[:len(Discriminator)])
	}
	b = b[len(Discriminator):]

	var p Payload
	copy(p.Validator[:], b[:32])
	p.ValidUntil = int64(binary.LittleEndian.Uint64(b[32:40]))
	p.CommitFreqMs = binary.LittleEndian.Uint32(b[40:44])
	return p, nil
}
