package utils

import "github.com/google/uuid"

// GenerateID returns a new random UUID string.
func GenerateID() string {
	return uuid.New().String()
}
