// Package attestation implements the stat attestation protocol shared with the
// on-chain validator.
//
// A finalized session's stats are turned into a canonical byte message, hashed
// with SHA-256 and the digest is signed with the node's Ed25519 key:
// 1. Canonicalize encodes every integer as 8 bytes, big-endian, two's complement
// 2. Fields are concatenated in alphabetical order, then the raw player address
// 3. Hash computes sha256(message)
// 4. Signer.SignStats signs the digest and returns hex encoded material
//
// Key components:
// - Signer: immutable Ed25519 keypair holder; a signer without keys is valid and reports IsAvailable() == false
// - Verify: stateless, fail-closed signature check that needs only the public key
//
// The layout is a cross-system contract. Reordering fields or changing the
// integer width silently breaks on-chain verification.
package attestation
