package store

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns an opaque 24-character hex identifier, the same shape as the
// document ids this store has always used.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:12])
}

// ValidID reports whether the id has the expected 24-hex-character shape.
func ValidID(id string) bool {
	if len(id) != 24 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
