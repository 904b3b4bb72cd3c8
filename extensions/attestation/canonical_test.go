package attestation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

var goldenStats = types.StatSet{HP: 100, Exp: 0, Agility: 10, Strength: 10, Intelligence: 10, Speed: 10}

const (
	goldenMessageHex = "000000000000000a" + // agility
		"0000000000000000" + // exp
		"0000000000000064" + // hp
		"000000000000000a" + // intelligence
		"0000000000000001" + // session_id
		"000000000000000a" + // speed
		"000000000000000a" + // strength
		"deadbeef"
	goldenHashHex = "3b73beffd663074e08e053a1804c73adf10e0afda2bc406110512b27071854b0"
)

func TestEncodeInt(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want string
	}{
		{name: "zero", in: 0, want: "0000000000000000"},
		{name: "ten", in: 10, want: "000000000000000a"},
		{name: "hp cap", in: 10000, want: "0000000000002710"},
		{name: "minus one", in: -1, want: "ffffffffffffffff"},
		{name: "max", in: math.MaxInt64, want: "7fffffffffffffff"},
		{name: "min", in: math.MinInt64, want: "8000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := EncodeInt(tt.in)
			assert.Equal(t, tt.want, hex.EncodeToString(enc[:]))

			back, err := DecodeInt(enc[:])
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}

	_, err := DecodeInt([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, errs.ErrEncoding))
}

func TestCanonicalizeGoldenVector(t *testing.T) {
	msg, err := Canonicalize(goldenStats, 1, "deadbeef")
	require.NoError(t, err)

	require.Len(t, msg, FieldCount*IntWidth+4)
	assert.Equal(t, goldenMessageHex, hex.EncodeToString(msg))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 10}, msg[:8], "agility leads the message")
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, msg[56:], "address follows the integer block")

	assert.Equal(t, goldenHashHex, HashHex(msg))
	assert.True(t, VerifyHash(msg, goldenHashHex))
	assert.True(t, VerifyHash(msg, "3B73BEFFD663074E08E053A1804C73ADF10E0AFDA2BC406110512B27071854B0"))
}

func TestCanonicalizeDeterministic(t *testing.T) {
	stats := types.StatSet{HP: 4321, Exp: 987654, Agility: 17, Strength: 3, Intelligence: 999, Speed: 42}
	first, err := Canonicalize(stats, 77, "0xABCDEF0123")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := Canonicalize(stats, 77, "abcdef0123")
		require.NoError(t, err)
		require.True(t, bytes.Equal(first, again))
	}
}

func TestCanonicalizeFieldOrder(t *testing.T) {
	stats := types.StatSet{HP: 1, Exp: 2, Agility: 3, Strength: 4, Intelligence: 5, Speed: 6}
	base, err := Canonicalize(stats, 7, "00")
	require.NoError(t, err)

	// Swapping any two distinct fields must change the bytes.
	swaps := map[string]types.StatSet{
		"hp<->exp":             {HP: 2, Exp: 1, Agility: 3, Strength: 4, Intelligence: 5, Speed: 6},
		"agility<->strength":   {HP: 1, Exp: 2, Agility: 4, Strength: 3, Intelligence: 5, Speed: 6},
		"intelligence<->speed": {HP: 1, Exp: 2, Agility: 3, Strength: 4, Intelligence: 6, Speed: 5},
		"hp<->speed":           {HP: 6, Exp: 2, Agility: 3, Strength: 4, Intelligence: 5, Speed: 1},
	}
	for name, swapped := range swaps {
		t.Run(name, func(t *testing.T) {
			msg, err := Canonicalize(swapped, 7, "00")
			require.NoError(t, err)
			assert.False(t, bytes.Equal(base, msg))
		})
	}

	// Each field sits at its alphabetical slot.
	offsets := []int64{stats.Agility, stats.Exp, stats.HP, stats.Intelligence, 7, stats.Speed, stats.Strength}
	for i, want := range offsets {
		got, err := DecodeInt(base[i*IntWidth : (i+1)*IntWidth])
		require.NoError(t, err)
		assert.Equal(t, want, got, "field %d", i)
	}
}

func TestCanonicalizeNegativeValues(t *testing.T) {
	msg, err := Canonicalize(types.StatSet{Agility: -1}, -2, "")
	require.NoError(t, err)
	require.Len(t, msg, FieldCount*IntWidth)
	assert.Equal(t, "ffffffffffffffff", hex.EncodeToString(msg[:8]))
	assert.Equal(t, "fffffffffffffffe", hex.EncodeToString(msg[32:40]))
}

func TestCanonicalizeMalformedAddress(t *testing.T) {
	for _, addr := range []string{"abc", "zz", "dead beef", "0xg0"} {
		t.Run(addr, func(t *testing.T) {
			_, err := Canonicalize(goldenStats, 1, addr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrEncoding))
		})
	}
}

func TestParseCanonicalMessage(t *testing.T) {
	raw, err := hex.DecodeString(goldenMessageHex)
	require.NoError(t, err)

	msg, err := ParseCanonicalMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, goldenStats, msg.Stats)
	assert.Equal(t, int64(1), msg.SessionID)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, msg.PlayerAddress)
	assert.Equal(t, sha256.Sum256(raw), msg.SigningDigest())
	assert.True(t, bytes.Equal(raw, msg.SigningBytes()))

	_, err = ParseCanonicalMessage(raw[:55])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestNewCanonicalMessageMatchesCanonicalize(t *testing.T) {
	msg, err := NewCanonicalMessage(goldenStats, 1, "deadbeef")
	require.NoError(t, err)

	raw, err := Canonicalize(goldenStats, 1, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, raw, msg.SigningBytes())
	digest := msg.SigningDigest()
	assert.Equal(t, goldenHashHex, hex.EncodeToString(digest[:]))
}
