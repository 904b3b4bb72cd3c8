package attestation

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

// CanonicalMessage is the structured form of the bytes the validator checks.
//
// Layout:
//
//	8 bytes   agility
//	8 bytes   exp
//	8 bytes   hp
//	8 bytes   intelligence
//	8 bytes   session_id
//	8 bytes   speed
//	8 bytes   strength
//	n bytes   player address (raw, hex-decoded)
type CanonicalMessage struct {
	Stats         types.StatSet
	SessionID     int64
	PlayerAddress []byte

	raw []byte
}

// Canonicalize builds the canonical message for stats, sessionID and the hex
// encoded player address.
func Canonicalize(stats types.StatSet, sessionID int64, playerAddressHex string) ([]byte, error) {
	address, err := DecodeHex("player address", playerAddressHex)
	if err != nil {
		return nil, err
	}
	return canonicalBytes(stats, sessionID, address), nil
}

// NewCanonicalMessage is Canonicalize returning the structured form.
func NewCanonicalMessage(stats types.StatSet, sessionID int64, playerAddressHex string) (*CanonicalMessage, error) {
	address, err := DecodeHex("player address", playerAddressHex)
	if err != nil {
		return nil, err
	}
	return &CanonicalMessage{
		Stats:         stats,
		SessionID:     sessionID,
		PlayerAddress: address,
		raw:           canonicalBytes(stats, sessionID, address),
	}, nil
}

func canonicalBytes(stats types.StatSet, sessionID int64, address []byte) []byte {
	buf := make([]byte, 0, FieldCount*IntWidth+len(address))
	for _, v := range statFields(stats, sessionID) {
		enc := EncodeInt(v)
		buf = append(buf, enc[:]...)
	}
	return append(buf, address...)
}

// ParseCanonicalMessage decodes a canonical message back into its fields. The
// address is whatever follows the fixed integer block.
func ParseCanonicalMessage(data []byte) (*CanonicalMessage, error) {
	fixed := FieldCount * IntWidth
	if len(data) < fixed {
		return nil, errors.Wrapf(errs.ErrEncoding, "canonical message too short: got %d bytes, need at least %d", len(data), fixed)
	}

	var fields [FieldCount]int64
	for i := range fields {
		v, err := DecodeInt(data[i*IntWidth : (i+1)*IntWidth])
		if err != nil {
			return nil, fmt.Errorf("decode field %d: %w", i, err)
		}
		fields[i] = v
	}

	return &CanonicalMessage{
		Stats: types.StatSet{
			Agility:      fields[0],
			Exp:          fields[1],
			HP:           fields[2],
			Intelligence: fields[3],
			Speed:        fields[5],
			Strength:     fields[6],
		},
		SessionID:     fields[4],
		PlayerAddress: bytes.Clone(data[fixed:]),
		raw:           bytes.Clone(data),
	}, nil
}

// SigningBytes returns the canonical bytes. Callers should treat the slice as
// immutable.
func (m *CanonicalMessage) SigningBytes() []byte {
	return m.raw
}

// SigningDigest returns sha256(SigningBytes()).
func (m *CanonicalMessage) SigningDigest() [DigestSize]byte {
	return Hash(m.raw)
}
