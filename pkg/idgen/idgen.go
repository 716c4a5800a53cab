// Package idgen mints request ids and session tokens.
package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionToken returns a new opaque session token. Tokens are UUIDv7 so they
// sort by creation time in key listings.
func SessionToken() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RequestID returns a new request id.
func RequestID() string {
	return ulid.Make().String()
}
