package attestation

import (
	"crypto/ed25519"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/questchain/node/internal/errs"
)

// Verify reports whether signature is a valid Ed25519 signature of digest under
// publicKey. It never fails loudly: wrong lengths are logged and return false.
func Verify(digest, signature, publicKey []byte) bool {
	return verify(zap.L().Named("attestation"), digest, signature, publicKey)
}

// VerifyHex is Verify for hex encoded inputs, accepted in the same forms as
// DecodeHex. Malformed hex returns false.
func VerifyHex(digestHex, signatureHex, publicKeyHex string) bool {
	logger := zap.L().Named("attestation")

	digest, err := DecodeHex("digest", digestHex)
	if err != nil {
		logger.Warn("verify: malformed digest hex", zap.Error(err))
		return false
	}
	signature, err := DecodeHex("signature", signatureHex)
	if err != nil {
		logger.Warn("verify: malformed signature hex", zap.Error(err))
		return false
	}
	publicKey, err := DecodeHex("public key", publicKeyHex)
	if err != nil {
		logger.Warn("verify: malformed public key hex", zap.Error(err))
		return false
	}
	return verify(logger, digest, signature, publicKey)
}

// DecodeSignature decodes a hex signature and checks it is exactly 64 bytes.
// It fails with errs.ErrEncoding or errs.ErrInvalidSignatureLength.
func DecodeSignature(signatureHex string) ([]byte, error) {
	signature, err := DecodeHex("signature", signatureHex)
	if err != nil {
		return nil, err
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, errors.Wrapf(errs.ErrInvalidSignatureLength, "got %d bytes, want %d", len(signature), ed25519.SignatureSize)
	}
	return signature, nil
}

// VerifyMessage hashes message and verifies the signature over the digest.
func VerifyMessage(message, signature, publicKey []byte) bool {
	digest := Hash(message)
	return Verify(digest[:], signature, publicKey)
}

func verify(logger *zap.Logger, digest, signature, publicKey []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		logger.Warn("verify: invalid signature length",
			zap.Int("got", len(signature)), zap.Int("expected", ed25519.SignatureSize))
		return false
	}
	if len(publicKey) != ed25519.PublicKeySize {
		logger.Warn("verify: invalid public key length",
			zap.Int("got", len(publicKey)), zap.Int("expected", ed25519.PublicKeySize))
		return false
	}
	if len(digest) != DigestSize {
		logger.Warn("verify: invalid digest length",
			zap.Int("got", len(digest)), zap.Int("expected", DigestSize))
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), digest, signature)
}
