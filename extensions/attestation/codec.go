package attestation

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"

	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

const (
	// IntWidth is the byte width of every integer field, matching the
	// validator's integer_to_bytearray(True, 8, n).
	IntWidth = 8
	// FieldCount is the number of integer fields in the canonical message.
	FieldCount = 7
	// DigestSize is the SHA-256 output length.
	DigestSize = sha256.Size
)

// EncodeInt writes n as an 8-byte big-endian two's complement integer.
func EncodeInt(n int64) [IntWidth]byte {
	var out [IntWidth]byte
	binary.BigEndian.PutUint64(out[:], uint64(n))
	return out
}

// DecodeInt is the inverse of EncodeInt.
func DecodeInt(b []byte) (int64, error) {
	if len(b) != IntWidth {
		return 0, errors.Wrapf(errs.ErrEncoding, "integer field must be %d bytes, got %d", IntWidth, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// DecodeHex decodes caller supplied hex, tolerating surrounding whitespace and
// a 0x prefix. Odd lengths and non-hex characters are rejected.
func DecodeHex(field, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrEncoding, "invalid %s hex %q: %v", field, s, err)
	}
	return b, nil
}

// Hash returns sha256(message).
func Hash(message []byte) [DigestSize]byte {
	return sha256.Sum256(message)
}

// HashHex returns the lowercase hex SHA-256 of message.
func HashHex(message []byte) string {
	digest := Hash(message)
	return hex.EncodeToString(digest[:])
}

// VerifyHash recomputes the digest of message and compares it to digestHex,
// ignoring case. Malformed hex simply does not match.
func VerifyHash(message []byte, digestHex string) bool {
	return HashHex(message) == strings.ToLower(strings.TrimSpace(digestHex))
}

// statFields returns the integer fields in canonical (alphabetical) order.
func statFields(stats types.StatSet, sessionID int64) [FieldCount]int64 {
	return [FieldCount]int64{
		stats.Agility,
		stats.Exp,
		stats.HP,
		stats.Intelligence,
		sessionID,
		stats.Speed,
		stats.Strength,
	}
}
