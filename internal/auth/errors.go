package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown identity, wrong password and
	// deactivated accounts. Deliberately a single error so the response
	// cannot be used to enumerate identities.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrTokenInvalid   = errors.New("auth: invalid token")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenRevoked   = errors.New("auth: token revoked")
	ErrRefreshExpired = errors.New("auth: refresh token expired")

	// ErrReplayDetected is returned when a refresh token is presented after
	// it has already been rotated. The whole token family is revoked before
	// this error surfaces.
	ErrReplayDetected = errors.New("auth: refresh token reuse detected")

	ErrForbidden = errors.New("auth: forbidden")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")

	// ErrAlreadyConsumed is the store-level signal that a refresh token was
	// rotated by a concurrent or earlier request.
	ErrAlreadyConsumed = errors.New("auth: refresh token already consumed")
)
