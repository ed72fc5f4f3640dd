package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is the root of every authentication failure. Handlers map it to 401.
var ErrUnauthorized = errors.New("auth: unauthorized")

var (
	// ErrInvalidToken covers malformed, expired and foreign-signed tokens.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	// ErrUnknownActor means a valid token names a user that does not exist.
	ErrUnknownActor = fmt.Errorf("%w: unknown user", ErrUnauthorized)
)
