package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to client error codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
)
