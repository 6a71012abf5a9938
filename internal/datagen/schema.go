//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package datagen

// StagingTables lists the staging tables in dependency order.
var StagingTables = []string{
	"stg_user_data",
	"stg_staff_data",
	"stg_merchant_data",
	"stg_user_job",
	"stg_user_credit_card",
	"stg_order_data",
	"stg_order_with_merchant_data",
}

// stagingSchema creates the staging tables the ingestion stage would
// normally fill. Key columns start out NULL.
const stagingSchema = `
CREATE TABLE IF NOT EXISTS stg_user_data (
    user_id             TEXT,
    creation_date       TIMESTAMP,
    name                TEXT,
    street              TEXT,
    state               TEXT,
    city                TEXT,
    country             TEXT,
    device_address      TEXT,
    user_type           TEXT,
    possible_duplicate  BOOLEAN DEFAULT FALSE,
    user_key            BIGINT
);

CREATE TABLE IF NOT EXISTS stg_staff_data (
    staff_id              TEXT,
    name                  TEXT,
    job_level             TEXT,
    street                TEXT,
    state                 TEXT,
    city                  TEXT,
    country               TEXT,
    contact_number        TEXT,
    creation_date         TIMESTAMP,
    possible_duplicate    BOOLEAN DEFAULT FALSE,
    possible_duplicate_of TEXT,
    staff_key             BIGINT
);

CREATE TABLE IF NOT EXISTS stg_merchant_data (
    merchant_id           TEXT,
    creation_date         TIMESTAMP,
    name                  TEXT,
    street                TEXT,
    state                 TEXT,
    city                  TEXT,
    country               TEXT,
    contact_number        TEXT,
    possible_duplicate    BOOLEAN DEFAULT FALSE,
    possible_duplicate_of TEXT,
    merchant_key          BIGINT
);

CREATE TABLE IF NOT EXISTS stg_user_job (
    user_id   TEXT,
    name      TEXT,
    job_title TEXT,
    job_level TEXT,
    user_key  BIGINT
);

CREATE TABLE IF NOT EXISTS stg_user_credit_card (
    user_id            TEXT,
    name               TEXT,
    credit_card_number TEXT,
    issuing_bank       TEXT,
    user_key           BIGINT
);

CREATE TABLE IF NOT EXISTS stg_order_data (
    order_id          TEXT UNIQUE,
    user_id           TEXT,
    estimated_arrival INTEGER,
    transaction_date  TIMESTAMP,
    user_key          BIGINT
);

CREATE TABLE IF NOT EXISTS stg_order_with_merchant_data (
    order_id     TEXT,
    merchant_id  TEXT,
    staff_id     TEXT,
    merchant_key BIGINT,
    staff_key    BIGINT
);
`
