//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package user defines the customer entity. Customers re-register under
// a recycled user_id, so the same id may describe several people over
// time.
package user

import (
	"github.com/pgEdge/pgedge-dwh/internal/entities"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

func init() {
	entities.Register(&User{})
}

// User implements the customer entity.
type User struct{}

// Name returns the entity name.
func (u *User) Name() string {
	return "user"
}

// Description returns the entity description.
func (u *User) Description() string {
	return "Customers; keys flow to jobs, credit cards and orders"
}

// Config returns the table layout.
func (u *User) Config() scd.EntityConfig {
	return scd.EntityConfig{
		Name:            "user",
		StagingTable:    "stg_user_data",
		IDColumn:        "user_id",
		NameColumn:      "name",
		TimestampColumn: "creation_date",
		DuplicateColumn: "possible_duplicate",
		KeyColumn:       "user_key",
		DimensionTable:  "dim_user",
		DimensionKey:    "user_key",
		Children: []scd.ChildConfig{
			{
				// Jobs carry no timestamp; the name picks the version.
				Table:      "stg_user_job",
				IDColumn:   "user_id",
				NameColumn: "name",
				KeyColumn:  "user_key",
				Strategy:   scd.NameMatch,
				RowKey:     []string{"user_id", "name", "job_title", "job_level"},
			},
			{
				Table:      "stg_user_credit_card",
				IDColumn:   "user_id",
				NameColumn: "name",
				KeyColumn:  "user_key",
				Strategy:   scd.NameMatch,
				RowKey:     []string{"user_id", "name", "credit_card_number"},
			},
			{
				Table:       "stg_order_data",
				IDColumn:    "user_id",
				EventColumn: "transaction_date",
				KeyColumn:   "user_key",
				Strategy:    scd.WindowMatch,
				RowKey:      []string{"order_id"},
			},
		},
	}
}
