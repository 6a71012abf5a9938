package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-dwh/internal/collision"
	"github.com/pgEdge/pgedge-dwh/internal/config"
	"github.com/pgEdge/pgedge-dwh/internal/db"
	"github.com/pgEdge/pgedge-dwh/internal/entities"
	"github.com/pgEdge/pgedge-dwh/internal/logging"
	"github.com/pgEdge/pgedge-dwh/internal/metrics"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
	"github.com/pgEdge/pgedge-dwh/internal/warehouse"
)

var (
	resolveEntities    []string
	resolveMetricsFile string
	resolveDryRun      bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve natural ids in staging to surrogate keys",
	Long: `Build dimension versions from the staging tables, upsert them into the
dimension tables and write the resulting surrogate keys back to the staging
rows and every dependent table. Each entity type runs in its own
transaction; a failed entity is rolled back and the others still run.

Strategies:
  surrogate - one dimension row per version, keys written to dependents (default)
  rename    - later versions get a new natural id (<id>_HIST_<yyyymmdd>)

The strategy is recorded on the first run and cannot be changed afterwards.

Example:
  pgedge-dwh resolve --connection "postgres://..."
  pgedge-dwh resolve --entities user --dry-run
  pgedge-dwh resolve --metrics-file /var/lib/node_exporter/pgedge_dwh.prom`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringSliceVar(&resolveEntities, "entities", nil,
		"entity types to resolve (default: all)")
	resolveCmd.Flags().StringVar(&resolveMetricsFile, "metrics-file", "",
		"write a Prometheus textfile after the run")
	resolveCmd.Flags().BoolVar(&resolveDryRun, "dry-run", false,
		"report what would change and roll back")
}

func runResolve(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if len(resolveEntities) > 0 {
		cfg.Resolve.Entities = resolveEntities
	}
	if resolveMetricsFile != "" {
		cfg.Resolve.MetricsFile = resolveMetricsFile
	}
	if resolveDryRun {
		cfg.Resolve.DryRun = true
	}

	// Validate configuration
	if err := cfg.ValidateResolve(); err != nil {
		return err
	}

	configs, err := entities.Configs(cfg.Resolve.Entities)
	if err != nil {
		return err
	}

	// Cancel the open transaction on shutdown signals; the entity in
	// flight is rolled back.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logging.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

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
		return fmt.Errorf("warehouse has not been initialized; run 'pgedge-dwh init' first")
	}

	if !cfg.Resolve.DryRun {
		if err := db.EnsureStrategy(ctx, pool, cfg.Strategy); err != nil {
			return err
		}
	}

	resolver, err := newStrategy(cfg, pool)
	if err != nil {
		return err
	}

	names := make([]string, len(configs))
	for i, c := range configs {
		names[i] = c.Name
	}
	logging.Info().
		Str("strategy", cfg.Strategy).
		Str("entities", strings.Join(names, ",")).
		Bool("dry_run", cfg.Resolve.DryRun).
		Msg("Starting key resolution")

	recorder := metrics.NewRecorder()
	var failed []error
	for _, entity := range configs {
		report, err := resolver.Resolve(ctx, entity)
		recorder.Observe(report, err)
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", entity.Name, err))
			logFailure(entity.Name, err)
		}
		if report == nil {
			continue
		}
		if recErr := db.RecordRun(context.WithoutCancel(ctx), pool, report, err); recErr != nil {
			logging.Warn().Err(recErr).Str("entity", entity.Name).Msg("Could not record run")
		}
		if err == nil {
			printReport(cmd, report)
		}
	}

	if cfg.Resolve.MetricsFile != "" {
		if err := recorder.WriteTextfile(cfg.Resolve.MetricsFile); err != nil {
			logging.Warn().Err(err).Msg("Could not write metrics")
		} else {
			logging.Info().Str("path", cfg.Resolve.MetricsFile).Msg("Wrote metrics")
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d entities failed: %w", len(failed), len(configs), errors.Join(failed...))
	}
	logging.Info().Msg("Key resolution complete")
	return nil
}

// newStrategy builds the configured resolution strategy on top of pool.
func newStrategy(c *config.Config, pool *pgxpool.Pool) (scd.Strategy, error) {
	wh := warehouse.New(pool)
	switch c.Strategy {
	case config.StrategyRename:
		return collision.NewRenamer(collision.Config{
			Warehouse: wh,
			DryRun:    c.Resolve.DryRun,
		})
	default:
		return scd.NewResolver(scd.ResolverConfig{
			Warehouse: wh,
			DryRun:    c.Resolve.DryRun,
		})
	}
}

func logFailure(entity string, err error) {
	event := logging.Error().Err(err).Str("entity", entity)

	var violation *scd.IdempotencyViolation
	var txErr *scd.TransactionFailure
	switch {
	case errors.As(err, &violation):
		event.Msg("Dimension key changed between runs; entity rolled back")
	case errors.As(err, &txErr):
		event.Bool("retryable", txErr.Retryable).Msg("Entity rolled back")
	default:
		event.Msg("Entity failed")
	}
}

func printReport(cmd *cobra.Command, r *scd.Report) {
	mode := ""
	if r.DryRun {
		mode = " (dry run, rolled back)"
	}
	cmd.Printf("%s [%s]%s\n", r.Entity, r.Strategy, mode)
	cmd.Printf("  staging rows:     %d (%d rejected, %d merged)\n", r.StagingRows, r.Rejected, r.Merged)
	if r.Strategy == scd.StrategyRename {
		cmd.Printf("  ids renamed:      %d in %d groups\n", r.IDsRenamed, r.GroupsRewritten)
	} else {
		cmd.Printf("  versions:         %d\n", r.Versions)
		cmd.Printf("  keys issued:      %d\n", r.KeysIssued)
		cmd.Printf("  windows updated:  %d\n", r.WindowsUpdated)
		cmd.Printf("  unmatched rows:   %d\n", r.Unmatched)
	}
	for _, c := range r.Children {
		cmd.Printf("  %-28s %d/%d resolved, %d written, %d cleared\n",
			c.Table+"."+c.Column, c.Resolved, c.Rows, c.Written, c.Cleared)
	}
	cmd.Printf("  duration:         %s\n", r.Duration())
}
