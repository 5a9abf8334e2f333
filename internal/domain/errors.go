package domain

import "errors"

// Error taxonomy shared across the access core. The HTTP layer maps each
// value to a fixed status and a generic message.
var (
	ErrInvalid      = errors.New("invalid token")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")

	ErrInvalidCredentials = errors.New("invalid credentials")
)
