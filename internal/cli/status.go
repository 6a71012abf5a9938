package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-dwh/internal/db"
	"github.com/pgEdge/pgedge-dwh/internal/entities"
	"github.com/pgEdge/pgedge-dwh/internal/warehouse"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dimension and run status",
	Long: `Show the schema version, the recorded resolution strategy, the row
counts of every dimension table and the last run of every entity.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	exists, err := db.MetadataExists(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to check metadata: %w", err)
	}
	if !exists {
		cmd.Println("Warehouse has not been initialized; run 'pgedge-dwh init' first.")
		return nil
	}

	schemaVersion, err := db.SchemaVersion(ctx, pool)
	if err != nil {
		return err
	}
	metadata, err := db.GetAllMetadata(ctx, pool)
	if err != nil {
		return err
	}

	recorded := metadata[db.StrategyKey]
	if recorded == "" {
		recorded = "(not yet resolved)"
	}
	cmd.Printf("Schema version:   %d\n", schemaVersion)
	cmd.Printf("Initialized at:   %s\n", metadata["initialized_at"])
	cmd.Printf("Strategy:         %s\n", recorded)
	cmd.Println()

	wh := warehouse.New(pool)
	cmd.Println("Dimensions:")
	for _, e := range entities.All() {
		stats, err := wh.Stats(ctx, e.Config())
		if err != nil {
			return err
		}
		if !stats.Exists {
			cmd.Printf("  %-10s %s missing\n", stats.Entity, stats.Table)
			continue
		}
		cmd.Printf("  %-10s %-14s %8d rows %8d current %8d natural ids\n",
			stats.Entity, stats.Table, stats.Rows, stats.Current, stats.NaturalIDs)
		if stats.MultiCurrent > 0 {
			cmd.Printf("  %-10s WARNING: %d natural ids have more than one current row\n",
				"", stats.MultiCurrent)
		}
	}
	cmd.Println()

	runs, err := db.LastRuns(ctx, pool)
	if err != nil {
		return err
	}
	cmd.Println("Last runs:")
	if len(runs) == 0 {
		cmd.Println("  none")
	}
	for _, r := range runs {
		outcome := "ok"
		if r.Error != nil {
			outcome = "failed: " + *r.Error
		} else if r.DryRun {
			outcome = "dry run"
		}
		cmd.Printf("  %-10s %s %s %s\n", r.Entity, r.FinishedAt.Local().Format(time.RFC3339), r.Strategy, outcome)
		cmd.Printf("  %-10s keys issued %d, windows updated %d, rejected %d, unmatched %d, dependents %d/%d, renamed %d\n",
			"", r.KeysIssued, r.WindowsUpdated, r.Rejected, r.Unmatched,
			r.Resolved, r.Resolved+r.Unresolved, r.IDsRenamed)
	}
	return nil
}
