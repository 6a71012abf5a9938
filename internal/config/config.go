//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration management for pgedge-dwh.
// Configuration is loaded from config files and CLI flags (no environment variables).
// CLI flags take precedence over config file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Strategy names.
const (
	StrategySurrogate = "surrogate"
	StrategyRename    = "rename"
)

// Config holds all configuration for pgedge-dwh.
type Config struct {
	// Connection is the PostgreSQL connection string.
	Connection string `mapstructure:"connection"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// Strategy selects how re-used natural ids are resolved: surrogate
	// or rename. A warehouse keeps the strategy of its first run.
	Strategy string `mapstructure:"strategy"`

	// Init holds configuration for the init subcommand.
	Init InitConfig `mapstructure:"init"`

	// Resolve holds configuration for the resolve subcommand.
	Resolve ResolveConfig `mapstructure:"resolve"`
}

// InitConfig holds configuration for warehouse initialization.
type InitConfig struct {
	// DropExisting drops staging and dimension tables before initialization.
	DropExisting bool `mapstructure:"drop_existing"`

	// Seed loads synthetic staging data after creating the tables.
	Seed bool `mapstructure:"seed"`

	// SeedUsers, SeedStaff, SeedMerchants and SeedOrders size the dataset.
	SeedUsers     int `mapstructure:"seed_users"`
	SeedStaff     int `mapstructure:"seed_staff"`
	SeedMerchants int `mapstructure:"seed_merchants"`
	SeedOrders    int `mapstructure:"seed_orders"`

	// CollisionRate is the share of entities re-registered under the same
	// natural id (0..1).
	CollisionRate float64 `mapstructure:"collision_rate"`

	// RandomSeed makes the dataset reproducible; 0 is time based.
	RandomSeed uint64 `mapstructure:"random_seed"`
}

// ResolveConfig holds configuration for key resolution.
type ResolveConfig struct {
	// Entities lists the entity types to resolve; empty means all.
	Entities []string `mapstructure:"entities"`

	// MetricsFile is where a Prometheus textfile is written after the run.
	MetricsFile string `mapstructure:"metrics_file"`

	// DryRun reports what would change and rolls back.
	DryRun bool `mapstructure:"dry_run"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Strategy: StrategySurrogate,
		Init: InitConfig{
			DropExisting:  false,
			Seed:          false,
			SeedUsers:     1000,
			SeedStaff:     100,
			SeedMerchants: 200,
			SeedOrders:    5000,
			CollisionRate: 0.1,
		},
	}
}

// Load reads configuration from config files.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./pgedge-dwh.yaml
// 3. ~/.config/pgedge-dwh/config.yaml
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Set config name and type
	v.SetConfigName("pgedge-dwh")
	v.SetConfigType("yaml")

	// Add config paths
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "pgedge-dwh"))
	}

	// Use specific config file if provided
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal config file values
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Connection == "" {
		return fmt.Errorf("connection string is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	return nil
}

// ValidateInit checks configuration required for init command.
func (c *Config) ValidateInit() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.Init.Seed {
		return nil
	}
	if c.Init.SeedUsers < 0 || c.Init.SeedStaff < 0 || c.Init.SeedMerchants < 0 || c.Init.SeedOrders < 0 {
		return fmt.Errorf("seed row counts must not be negative")
	}
	if c.Init.SeedOrders > 0 && (c.Init.SeedUsers == 0 || c.Init.SeedStaff == 0 || c.Init.SeedMerchants == 0) {
		return fmt.Errorf("seed_orders needs users, staff and merchants")
	}
	if c.Init.CollisionRate < 0 || c.Init.CollisionRate > 1 {
		return fmt.Errorf("collision_rate must be between 0 and 1")
	}
	return nil
}

// ValidateResolve checks configuration required for resolve command.
func (c *Config) ValidateResolve() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Strategy != StrategySurrogate && c.Strategy != StrategyRename {
		return fmt.Errorf("strategy must be 'surrogate' or 'rename'")
	}
	return nil
}
