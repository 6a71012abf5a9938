//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package cli implements the command-line interface for pgedge-dwh.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-dwh/internal/config"
	"github.com/pgEdge/pgedge-dwh/internal/entities"
	"github.com/pgEdge/pgedge-dwh/internal/logging"
	"github.com/pgEdge/pgedge-dwh/pkg/version"
)

var (
	// Global flags
	cfgFile    string
	connection string
	strategy   string
	logLevel   string

	// Global config
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "pgedge-dwh",
		Short: "Surrogate key resolution for a slowly changing retail warehouse",
		Long: `pgedge-dwh resolves natural ids in a PostgreSQL staging area to
warehouse surrogate keys. Users, staff and merchants are kept as type 2
slowly changing dimensions: every re-registration of a natural id opens a
new version with its own key, and every dependent staging row (jobs,
credit cards, orders) is pointed at the version that was valid for it.

Each entity type is resolved in its own transaction; a failure leaves the
warehouse exactly as it was before the run.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./pgedge-dwh.yaml)")
	rootCmd.PersistentFlags().StringVar(&connection, "connection", "",
		"PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&strategy, "strategy", "",
		"duplicate resolution strategy (surrogate, rename)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(entitiesCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if connection != "" {
		cfg.Connection = connection
	}
	if strategy != "" {
		cfg.Strategy = strategy
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Reinitialize logger with config
	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Info())
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List entity types that can be resolved",
	Long: `List the entity types known to the resolver together with their
staging table, dimension table and the dependent tables that receive
their surrogate key.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("Available entities:")
		cmd.Println()
		for _, e := range entities.All() {
			c := e.Config()
			cmd.Printf("  %-10s - %s\n", e.Name(), e.Description())
			cmd.Printf("  %-10s   %s -> %s.%s\n", "", c.StagingTable, c.DimensionTable, c.DimensionKey)
			for _, child := range c.Children {
				cmd.Printf("  %-10s   %s.%s (%s)\n", "", child.Table, child.KeyColumn, child.ResolveStrategy())
			}
		}
		cmd.Println()
		cmd.Println("Use 'pgedge-dwh resolve --entities user,staff' to resolve a subset.")
	},
}
