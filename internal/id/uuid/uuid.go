// Package uuid generates crawl run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues time-ordered run IDs so that listings sorted by ID follow
// submission order.
type Generator struct {
	source func() (uuid.UUID, error)
}

// New returns a Generator backed by UUIDv7.
func New() *Generator {
	return &Generator{source: uuid.NewV7}
}

// NewID implements crawler.IDGenerator.
func (g *Generator) NewID() (string, error) {
	source := uuid.NewV7
	if g != nil && g.source != nil {
		source = g.source
	}
	id, err := source()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
