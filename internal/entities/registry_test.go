//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package entities_test

import (
	"testing"

	"github.com/pgEdge/pgedge-dwh/internal/entities"
	// Import entity packages to trigger their init() functions which register the entities
	_ "github.com/pgEdge/pgedge-dwh/internal/entities/merchant"
	_ "github.com/pgEdge/pgedge-dwh/internal/entities/staff"
	_ "github.com/pgEdge/pgedge-dwh/internal/entities/user"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

func TestGet(t *testing.T) {
	known := []string{"user", "staff", "merchant"}

	for _, name := range known {
		t.Run(name, func(t *testing.T) {
			e, err := entities.Get(name)
			if err != nil {
				t.Fatalf("Failed to get entity '%s': %v", name, err)
			}
			if e.Name() != name {
				t.Errorf("Entity name mismatch: expected '%s', got '%s'", name, e.Name())
			}
			if e.Description() == "" {
				t.Error("Entity description should not be empty")
			}
			cfg := e.Config()
			if cfg.Name != name {
				t.Errorf("Config name mismatch: expected '%s', got '%s'", name, cfg.Name)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Config should be valid: %v", err)
			}
		})
	}
}

func TestGetInvalidEntity(t *testing.T) {
	_, err := entities.Get("nonexistent")
	if err == nil {
		t.Error("Expected error for nonexistent entity")
	}
}

func TestList(t *testing.T) {
	names := entities.List()
	expected := []string{"merchant", "staff", "user"}
	if len(names) != len(expected) {
		t.Fatalf("Expected %d entities, got %d", len(expected), len(names))
	}
	for i, name := range expected {
		if names[i] != name {
			t.Errorf("Expected entity %d to be '%s', got '%s'", i, name, names[i])
		}
	}
}

func TestConfigs(t *testing.T) {
	all, err := entities.Configs(nil)
	if err != nil {
		t.Fatalf("Configs(nil) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 configs, got %d", len(all))
	}

	some, err := entities.Configs([]string{"user", "user", "staff"})
	if err != nil {
		t.Fatalf("Configs failed: %v", err)
	}
	if len(some) != 2 || some[0].Name != "user" || some[1].Name != "staff" {
		t.Errorf("Expected [user staff], got %v", some)
	}

	if _, err := entities.Configs([]string{"vendor"}); err == nil {
		t.Error("Expected error for unknown entity")
	}
}

func TestChildStrategies(t *testing.T) {
	tests := []struct {
		entity   string
		table    string
		strategy scd.MatchStrategy
	}{
		{"user", "stg_user_job", scd.NameMatch},
		{"user", "stg_user_credit_card", scd.NameMatch},
		{"user", "stg_order_data", scd.WindowMatch},
		{"staff", "stg_order_with_merchant_data", scd.TwoHopMatch},
		{"merchant", "stg_order_with_merchant_data", scd.TwoHopMatch},
	}

	for _, tt := range tests {
		t.Run(tt.entity+"/"+tt.table, func(t *testing.T) {
			e, err := entities.Get(tt.entity)
			if err != nil {
				t.Fatalf("Failed to get entity: %v", err)
			}
			found := false
			for _, child := range e.Config().Children {
				if child.Table == tt.table {
					found = true
					if got := child.ResolveStrategy(); got != tt.strategy {
						t.Errorf("Expected strategy %s, got %s", tt.strategy, got)
					}
				}
			}
			if !found {
				t.Errorf("Expected child table %s", tt.table)
			}
		})
	}
}

func TestTwoHopRowKeysIncludeReference(t *testing.T) {
	// A bridge row is located by its order and the id it references, so
	// several rows of one order each keep their own key.
	for _, name := range []string{"staff", "merchant"} {
		e, err := entities.Get(name)
		if err != nil {
			t.Fatalf("Failed to get entity: %v", err)
		}
		for _, child := range e.Config().Children {
			if child.ResolveStrategy() != scd.TwoHopMatch {
				continue
			}
			if len(child.RowKey) != 2 || child.RowKey[0] != "order_id" || child.RowKey[1] != child.IDColumn {
				t.Errorf("%s: expected row key [order_id %s], got %v", name, child.IDColumn, child.RowKey)
			}
		}
	}
}
