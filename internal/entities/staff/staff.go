//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package staff defines the staff entity.
package staff

import (
	"github.com/pgEdge/pgedge-dwh/internal/entities"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

func init() {
	entities.Register(&Staff{})
}

// Staff implements the staff entity.
type Staff struct{}

// Name returns the entity name.
func (s *Staff) Name() string {
	return "staff"
}

// Description returns the entity description.
func (s *Staff) Description() string {
	return "Staff members handling orders; keys flow to order/merchant links"
}

// Config returns the table layout. The order/merchant link has no date of
// its own and borrows the transaction date of the order it points to.
func (s *Staff) Config() scd.EntityConfig {
	return scd.EntityConfig{
		Name:            "staff",
		StagingTable:    "stg_staff_data",
		IDColumn:        "staff_id",
		NameColumn:      "name",
		TimestampColumn: "creation_date",
		DuplicateColumn: "possible_duplicate",
		KeyColumn:       "staff_key",
		DimensionTable:  "dim_staff",
		DimensionKey:    "staff_key",
		Children: []scd.ChildConfig{
			{
				Table:     "stg_order_with_merchant_data",
				IDColumn:  "staff_id",
				KeyColumn: "staff_key",
				Strategy:  scd.TwoHopMatch,
				RowKey:    []string{"order_id", "staff_id"},
				Via: &scd.ViaConfig{
					Table:       "stg_order_data",
					JoinColumn:  "order_id",
					EventColumn: "transaction_date",
				},
			},
		},
	}
}
