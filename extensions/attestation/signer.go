package attestation

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/questchain/node/internal/config"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

// Result is the attestation returned to callers. All fields are lowercase hex.
type Result struct {
	Signature string `json:"signature"`
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	PublicKey string `json:"publicKey"`
}

// Signer holds the node's Ed25519 keypair. A Signer is immutable after
// construction and safe for concurrent use without locking.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	logger     *zap.Logger
}

// NewSigner builds a Signer from configuration. Missing keys produce a signer
// that reports IsAvailable() == false; malformed keys are an error.
func NewSigner(cfg config.SigningConfig, logger *zap.Logger) (*Signer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Signer{logger: logger.Named("attestation")}

	if !cfg.Configured() {
		s.logger.Warn("signing keypair not configured; attestations disabled")
		return s, nil
	}

	priv, err := DecodeHex("private key", cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	pub, err := DecodeHex("public key", cfg.PublicKeyHex)
	if err != nil {
		return nil, err
	}

	signer, err := NewSignerFromKey(ed25519.PrivateKey(priv), logger)
	if err != nil {
		return nil, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(errs.ErrInvalidKeyLength, "public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	if !bytes.Equal(pub, signer.publicKey) {
		return nil, errors.Wrap(errs.ErrEncoding, "public key does not match private key")
	}

	signer.logger.Info("signing keypair loaded", zap.String("public_key", signer.PublicKeyHex()))
	return signer, nil
}

// NewSignerFromKey wraps an in-memory 64-byte Ed25519 private key.
func NewSignerFromKey(privateKey ed25519.PrivateKey, logger *zap.Logger) (*Signer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(errs.ErrInvalidKeyLength, "private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privateKey))
	}

	// ed25519 private keys embed their public half; a copy keeps callers from
	// mutating our key material.
	priv := bytes.Clone(privateKey)
	pub := ed25519.PublicKey(bytes.Clone(priv[ed25519.SeedSize:]))
	derived := ed25519.NewKeyFromSeed(priv[:ed25519.SeedSize]).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, pub) {
		return nil, errors.Wrap(errs.ErrEncoding, "private key public half does not match its seed")
	}

	return &Signer{
		privateKey: priv,
		publicKey:  pub,
		logger:     logger.Named("attestation"),
	}, nil
}

// GenerateKeyPair creates a fresh keypair and returns it hex encoded, in the
// same shape GAME_PRIVATE_KEY / GAME_PUBLIC_KEY expect.
func GenerateKeyPair() (privateKeyHex, publicKeyHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", errors.Wrap(err, "generate ed25519 key")
	}
	return hex.EncodeToString(priv), hex.EncodeToString(pub), nil
}

// IsAvailable reports whether a keypair is loaded.
func (s *Signer) IsAvailable() bool {
	return s != nil && len(s.privateKey) == ed25519.PrivateKeySize
}

// PublicKey returns a copy of the public key, or nil when unavailable.
func (s *Signer) PublicKey() []byte {
	if !s.IsAvailable() {
		return nil
	}
	return bytes.Clone(s.publicKey)
}

// PublicKeyHex returns the hex public key, or "" when unavailable.
func (s *Signer) PublicKeyHex() string {
	if !s.IsAvailable() {
		return ""
	}
	return hex.EncodeToString(s.publicKey)
}

// SignStats canonicalizes stats for sessionID and playerAddressHex, hashes the
// message and signs the digest.
func (s *Signer) SignStats(stats types.StatSet, playerAddressHex string, sessionID int64) (*Result, error) {
	if !s.IsAvailable() {
		return nil, errors.Wrap(errs.ErrSigningUnavailable, "configure GAME_PRIVATE_KEY and GAME_PUBLIC_KEY")
	}

	msg, err := NewCanonicalMessage(stats, sessionID, playerAddressHex)
	if err != nil {
		return nil, err
	}
	digest := msg.SigningDigest()
	signature := ed25519.Sign(s.privateKey, digest[:])

	result := &Result{
		Signature: hex.EncodeToString(signature),
		Hash:      hex.EncodeToString(digest[:]),
		Message:   hex.EncodeToString(msg.SigningBytes()),
		PublicKey: s.PublicKeyHex(),
	}

	s.logger.Debug("signed stats",
		zap.String("player", abbreviate(playerAddressHex)),
		zap.Int64("session_id", sessionID),
		zap.Stringer("stats", stats),
		zap.String("hash", abbreviate(result.Hash)))
	return result, nil
}

// SignDigest signs an already computed 32-byte digest. The returned result has
// an empty Message.
func (s *Signer) SignDigest(digest []byte) (*Result, error) {
	if !s.IsAvailable() {
		return nil, errors.Wrap(errs.ErrSigningUnavailable, "configure GAME_PRIVATE_KEY and GAME_PUBLIC_KEY")
	}
	if len(digest) != DigestSize {
		return nil, errors.Wrapf(errs.ErrInvalidDigestLength, "digest must be %d bytes, got %d", DigestSize, len(digest))
	}

	signature := ed25519.Sign(s.privateKey, digest)
	return &Result{
		Signature: hex.EncodeToString(signature),
		Hash:      hex.EncodeToString(digest),
		PublicKey: s.PublicKeyHex(),
	}, nil
}

// SignDigestHex is SignDigest for a hex encoded digest.
func (s *Signer) SignDigestHex(digestHex string) (*Result, error) {
	digest, err := DecodeHex("digest", digestHex)
	if err != nil {
		return nil, err
	}
	return s.SignDigest(digest)
}

// Verify checks signature over digest against this signer's own public key.
func (s *Signer) Verify(digest, signature []byte) bool {
	if !s.IsAvailable() {
		return false
	}
	return verify(s.logger, digest, signature, s.publicKey)
}

func abbreviate(s string) string {
	const keep = 16
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "..."
}
