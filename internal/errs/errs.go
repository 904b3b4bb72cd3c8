// Package errs defines the error taxonomy shared by the attestation, session
// and transaction packages.
//
// Every failure the core reports is one of the sentinels below, usually wrapped
// with github.com/pkg/errors to carry context. Callers branch with errors.Is:
//
//	if errors.Is(err, errs.ErrSessionConflict) {
//	    // surface the existing session instead of retrying
//	}
//
// None of these errors are retried inside the core. The only retry path is the
// explicit, caller-invoked transaction retry, which enforces its own budget.
// A failed signature verification is not an error; Verify returns false.
package errs

import (
	"errors"
)

var (
	// ErrEncoding reports malformed hex or key material supplied by the caller.
	ErrEncoding = errors.New("encoding error")
	// ErrSigningUnavailable reports that no signing keypair is configured.
	ErrSigningUnavailable = errors.New("signing unavailable")
	// ErrInvalidDigestLength reports a digest that is not exactly 32 bytes.
	ErrInvalidDigestLength = errors.New("invalid digest length")
	// ErrInvalidSignatureLength reports a signature that is not exactly 64 bytes.
	ErrInvalidSignatureLength = errors.New("invalid signature length")
	// ErrInvalidKeyLength reports key material of the wrong size.
	ErrInvalidKeyLength = errors.New("invalid key length")
	// ErrInvalidArgument reports a request field that is missing or out of range.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrSessionConflict  = errors.New("player already has an active session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")

	ErrPlayerNotFound      = errors.New("player not found")
	ErrPlayerExists        = errors.New("player already registered")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidTransition reports a state-machine move not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrRetryBudgetExhausted reports a transaction that was moved to FAILED after max_retries.
	ErrRetryBudgetExhausted = errors.New("max retries exceeded")
)

// Category groups sentinels by how the caller is expected to react.
type Category string

const (
	CategoryNone        Category = "none"
	CategoryInvalid     Category = "invalid_input"
	CategoryUnavailable Category = "unavailable"
	CategoryConflict    Category = "conflict"
	CategoryNotFound    Category = "not_found"
	CategoryState       Category = "invalid_state"
	CategoryExhausted   Category = "exhausted"
	CategoryInternal    Category = "internal"
)

var categories = []struct {
	target   error
	category Category
}{
	{ErrEncoding, CategoryInvalid},
	{ErrInvalidDigestLength, CategoryInvalid},
	{ErrInvalidSignatureLength, CategoryInvalid},
	{ErrInvalidKeyLength, CategoryInvalid},
	{ErrInvalidArgument, CategoryInvalid},
	{ErrSigningUnavailable, CategoryUnavailable},
	{ErrSessionConflict, CategoryConflict},
	{ErrPlayerExists, CategoryConflict},
	{ErrSessionNotFound, CategoryNotFound},
	{ErrPlayerNotFound, CategoryNotFound},
	{ErrTransactionNotFound, CategoryNotFound},
	{ErrSessionNotActive, CategoryState},
	{ErrInvalidTransition, CategoryState},
	{ErrRetryBudgetExhausted, CategoryExhausted},
}

// Classify maps an error chain onto its category. Unknown errors are internal.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	for _, c := range categories {
		if errors.Is(err, c.target) {
			return c.category
		}
	}
	return CategoryInternal
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return Classify(err) == CategoryNotFound
}
