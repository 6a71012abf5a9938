//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package merchant defines the merchant entity.
package merchant

import (
	"github.com/pgEdge/pgedge-dwh/internal/entities"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

func init() {
	entities.Register(&Merchant{})
}

// Merchant implements the merchant entity.
type Merchant struct{}

// Name returns the entity name.
func (m *Merchant) Name() string {
	return "merchant"
}

// Description returns the entity description.
func (m *Merchant) Description() string {
	return "Merchants fulfilling orders; keys flow to order/merchant links"
}

// Config returns the table layout.
func (m *Merchant) Config() scd.EntityConfig {
	return scd.EntityConfig{
		Name:            "merchant",
		StagingTable:    "stg_merchant_data",
		IDColumn:        "merchant_id",
		NameColumn:      "name",
		TimestampColumn: "creation_date",
		DuplicateColumn: "possible_duplicate",
		KeyColumn:       "merchant_key",
		DimensionTable:  "dim_merchant",
		DimensionKey:    "merchant_key",
		Children: []scd.ChildConfig{
			{
				Table:     "stg_order_with_merchant_data",
				IDColumn:  "merchant_id",
				KeyColumn: "merchant_key",
				Strategy:  scd.TwoHopMatch,
				RowKey:    []string{"order_id", "merchant_id"},
				Via: &scd.ViaConfig{
					Table:       "stg_order_data",
					JoinColumn:  "order_id",
					EventColumn: "transaction_date",
				},
			},
		},
	}
}
