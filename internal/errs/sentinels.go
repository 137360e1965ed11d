// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across cache/repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation or a duplicate cache entry.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotInCache indicates the entry exists but the requested data was never loaded into it.
	ErrNotInCache = errors.New("not in cache")

	// ErrTokenConflict indicates another account already holds the access token value.
	ErrTokenConflict = errors.New("access token conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrComponentDisabled indicates the operation needs a server component that is not enabled.
	ErrComponentDisabled = errors.New("component disabled")
)
