// Package uuid provides request ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements audit.IDGenerator with time-ordered UUID v7
// strings, so request IDs sort by submission time.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
