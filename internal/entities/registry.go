package entities

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

var (
	registry = make(map[string]Entity)
	mu       sync.RWMutex
)

// Register adds an entity to the registry.
func Register(e Entity) {
	mu.Lock()
	defer mu.Unlock()
	registry[e.Name()] = e
}

// Get retrieves an entity by name.
func Get(name string) (Entity, error) {
	mu.RLock()
	defer mu.RUnlock()

	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity: %s", name)
	}
	return e, nil
}

// List returns all registered entity names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered entities sorted by name.
func All() []Entity {
	names := List()

	mu.RLock()
	defer mu.RUnlock()

	all := make([]Entity, 0, len(names))
	for _, name := range names {
		all = append(all, registry[name])
	}
	return all
}

// Configs returns the configurations of the named entities in the given
// order. An empty list selects every registered entity.
func Configs(names []string) ([]scd.EntityConfig, error) {
	if len(names) == 0 {
		names = List()
	}

	configs := make([]scd.EntityConfig, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		e, err := Get(name)
		if err != nil {
			return nil, err
		}
		cfg := e.Config()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
