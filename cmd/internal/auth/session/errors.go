package session

import "errors"

var (
	// ErrInvalidToken is returned when a credential fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when a credential does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrAccessTokensDisabled is returned by IssueAccessToken without a PASETO key.
	ErrAccessTokensDisabled = errors.New("access tokens disabled")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
