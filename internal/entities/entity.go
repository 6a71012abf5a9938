// Package entities holds the entity definitions the resolver knows about.
// Each definition lives in its own sub-package and registers itself from
// init().
package entities

import (
	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

// Entity describes one resolvable entity type.
type Entity interface {
	// Name returns the entity name used on the command line.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Config returns the staging, dimension and dependent table layout.
	Config() scd.EntityConfig
}
