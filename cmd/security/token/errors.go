package token

import "errors"

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
	ErrTooFewBytes     = errors.New("token entropy below minimum")
)
