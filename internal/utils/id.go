package utils

import (
	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string used for attachments and connections.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first eight characters of a new ID, enough to tell
// connections apart in logs.
func ShortID() string {
	return NewID()[:8]
}
