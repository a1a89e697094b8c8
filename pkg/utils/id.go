package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a prefixed unique identifier, e.g. "bid_2b1c...".
func GenerateID(prefix string) string {
	if prefix == "" {
		return uuid.New().String()
	}
	return prefix + "_" + uuid.New().String()
}
