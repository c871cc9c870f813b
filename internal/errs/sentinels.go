// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing or invalid authenticated identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated identity without the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInputValidation indicates malformed input (bad email shape, weak password).
	ErrInputValidation = errors.New("input validation")

	// ErrAuthenticationFailure indicates bad credentials or a bad one-time code.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrRateLimited indicates an active login cooldown.
	ErrRateLimited = errors.New("rate limited")

	// ErrStateInconsistency indicates the client skipped a step of a multi-step flow.
	ErrStateInconsistency = errors.New("state inconsistency")

	// ErrDependencyFailure indicates an email dispatch or persistence failure.
	ErrDependencyFailure = errors.New("dependency failure")
)
