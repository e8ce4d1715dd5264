// Package uuid issues run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRunID returns a time-ordered UUIDv7 string, so run ids sort by start time.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
