//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package testutil provides utilities for integration testing.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	// ConnEnv names the environment variable holding the connection string
	// of an existing test server. It may also be set in a .env file.
	ConnEnv = "DWH_TEST_CONN"

	// ContainerEnv disables the container fallback when set to "0".
	ContainerEnv = "DWH_TEST_CONTAINERS"

	// PostgresImage is the image started when no server is configured.
	PostgresImage = "postgres:16-alpine"

	// TestDBPrefix is the prefix for test databases.
	TestDBPrefix = "dwh_test_"
)

// loadEnv reads the nearest .env file walking up from the working
// directory. Existing variables are not overridden.
func loadEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// PostgresAvailable checks if the configured PostgreSQL server answers.
// Returns the connection string if available, empty string otherwise.
func PostgresAvailable() string {
	loadEnv()
	connStr := os.Getenv(ConnEnv)
	if connStr == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return ""
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return ""
	}

	return connStr
}

// StartPostgres starts a disposable PostgreSQL container that is removed
// when the test finishes, and returns its connection string.
func StartPostgres(t *testing.T) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, PostgresImage,
		tcpostgres.WithDatabase("dwh"),
		tcpostgres.WithUsername("dwh"),
		tcpostgres.WithPassword("dwh"),
		tcpostgres.BasicWaitStrategies(),
	)
	if ctr != nil {
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(ctr); err != nil {
				t.Logf("Warning: Failed to terminate postgres container: %v", err)
			}
		})
	}
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("failed to read container connection string: %w", err)
	}
	return connStr, nil
}

// SkipIfNoPostgres returns the connection string of a test server: the one
// in DWH_TEST_CONN when it answers, otherwise a fresh container. The test
// is skipped when neither is available.
func SkipIfNoPostgres(t *testing.T) string {
	t.Helper()

	if connStr := PostgresAvailable(); connStr != "" {
		return connStr
	}
	if os.Getenv(ContainerEnv) == "0" {
		t.Skip("PostgreSQL not available, skipping integration test")
	}

	connStr, err := StartPostgres(t)
	if err != nil {
		t.Skipf("PostgreSQL not available, skipping integration test: %v", err)
	}
	return connStr
}

// CreateTestDB creates a uniquely named database and returns its
// connection string together with its name.
func CreateTestDB(t *testing.T, baseConnStr, name string) (string, string) {
	t.Helper()

	// Generate random suffix for database name
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		t.Fatalf("Failed to generate random database name: %v", err)
	}
	dbName := TestDBPrefix + name + "_" + hex.EncodeToString(randomBytes)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Connect to default database to create test database
	pool, err := pgxpool.New(ctx, baseConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	ident := pgx.Identifier{dbName}.Sanitize()
	if _, err := pool.Exec(ctx, "CREATE DATABASE "+ident); err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	config, err := pgx.ParseConfig(baseConnStr)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}

	// ConnString() does not reflect changes to Database, so build it.
	var testConnStr string
	if config.Password != "" {
		testConnStr = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			config.User, config.Password, config.Host, config.Port, dbName)
	} else {
		testConnStr = fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=disable",
			config.User, config.Host, config.Port, dbName)
	}

	return testConnStr, dbName
}

// DropTestDB drops the test database.
func DropTestDB(t *testing.T, baseConnStr, dbName string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, baseConnStr)
	if err != nil {
		t.Logf("Warning: Failed to connect to drop test database: %v", err)
		return
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{dbName}.Sanitize()+" WITH (FORCE)")
	if err != nil {
		t.Logf("Warning: Failed to drop test database: %v", err)
	}
}

// ConnectTestDB connects to a test database.
func ConnectTestDB(t *testing.T, connStr string) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	return pool
}

// NewTestDB creates a fresh database on the test server and returns a pool
// on it. The database is dropped when the test passes; on failure it
// remains for diagnostic purposes.
func NewTestDB(t *testing.T, name string) *pgxpool.Pool {
	t.Helper()

	baseConnStr := SkipIfNoPostgres(t)
	connStr, dbName := CreateTestDB(t, baseConnStr, name)
	pool := ConnectTestDB(t, connStr)

	t.Cleanup(func() {
		pool.Close()
		if t.Failed() {
			t.Logf("Test failed - keeping database %s for diagnostics", dbName)
			return
		}
		DropTestDB(t, baseConnStr, dbName)
	})
	return pool
}
