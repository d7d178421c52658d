package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random 128-bit identifier in canonical uuid form.
func NewID() string {
	return uuid.NewString()
}

// NewToken returns 32 random bytes hex encoded, for refresh and reset tokens.
func NewToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
