// Package common defines shared constants and sentinel errors used across
// the account server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors, rejected before any database access.
	ErrorValidation = errors.New("validation error")

	// Token lifecycle errors. All single-use credentials (one time
	// passwords, login tokens, account tokens, reset codes) fold into
	// one value so the response never tells an attacker whether a token
	// was wrong, expired or already used.
	ErrTokenInvalid = errors.New("token invalid or expired")

	// ErrBadSignature is returned when an ed25519 signature does not
	// verify under the presented public key.
	ErrBadSignature = errors.New("signature verification failed")
)
