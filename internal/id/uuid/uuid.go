// Package uuid mints the string identifiers used for runs and local
// executions.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Generator produces UUID v7 identifiers. v7 sorts by creation time, so
// object-store listings of run descriptors stay chronological.
type Generator struct{}

var _ schedule.IDGenerator = Generator{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
