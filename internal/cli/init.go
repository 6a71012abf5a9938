package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-dwh/internal/datagen"
	"github.com/pgEdge/pgedge-dwh/internal/db"
	"github.com/pgEdge/pgedge-dwh/internal/logging"
)

var (
	initDropExisting  bool
	initSeed          bool
	initSeedUsers     int
	initSeedStaff     int
	initSeedMerchants int
	initSeedOrders    int
	initCollisionRate float64
	initRandomSeed    uint64
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the staging and dimension tables",
	Long: `Create the staging tables and run the dimension migrations. With
--seed the staging tables are filled with synthetic users, staff, merchants
and orders, a share of which re-use a natural id that was registered before.

Example:
  pgedge-dwh init --connection "postgres://..." --seed --seed-users 5000`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initDropExisting, "drop-existing", false,
		"drop staging and dimension tables before initialization")
	initCmd.Flags().BoolVar(&initSeed, "seed", false,
		"load synthetic staging data")
	initCmd.Flags().IntVar(&initSeedUsers, "seed-users", 0,
		"number of users to generate")
	initCmd.Flags().IntVar(&initSeedStaff, "seed-staff", 0,
		"number of staff members to generate")
	initCmd.Flags().IntVar(&initSeedMerchants, "seed-merchants", 0,
		"number of merchants to generate")
	initCmd.Flags().IntVar(&initSeedOrders, "seed-orders", 0,
		"number of orders to generate")
	initCmd.Flags().Float64Var(&initCollisionRate, "collision-rate", -1,
		"share of entities re-registered under an existing natural id (0..1)")
	initCmd.Flags().Uint64Var(&initRandomSeed, "random-seed", 0,
		"seed for reproducible data (0 = time based)")
}

func runInit(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if initDropExisting {
		cfg.Init.DropExisting = true
	}
	if initSeed {
		cfg.Init.Seed = true
	}
	if initSeedUsers > 0 {
		cfg.Init.SeedUsers = initSeedUsers
	}
	if initSeedStaff > 0 {
		cfg.Init.SeedStaff = initSeedStaff
	}
	if initSeedMerchants > 0 {
		cfg.Init.SeedMerchants = initSeedMerchants
	}
	if initSeedOrders > 0 {
		cfg.Init.SeedOrders = initSeedOrders
	}
	if initCollisionRate >= 0 {
		cfg.Init.CollisionRate = initCollisionRate
	}
	if initRandomSeed > 0 {
		cfg.Init.RandomSeed = initRandomSeed
	}

	// Validate configuration
	if err := cfg.ValidateInit(); err != nil {
		return err
	}

	logging.Info().
		Bool("drop_existing", cfg.Init.DropExisting).
		Bool("seed", cfg.Init.Seed).
		Msg("Initializing warehouse")

	// Connect to database
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	// Drop existing tables if requested
	if cfg.Init.DropExisting {
		logging.Warn().Msg("Dropping existing staging and dimension tables")
		if err := datagen.DropStagingSchema(ctx, pool); err != nil {
			return err
		}
		if err := db.ResetMigrations(ctx, pool); err != nil {
			return err
		}
	}

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	logging.Info().Msg("Creating staging tables")
	if err := datagen.CreateStagingSchema(ctx, pool, false); err != nil {
		return err
	}

	extra := map[string]string{}
	if cfg.Init.Seed {
		opts := datagen.DefaultOptions()
		opts.Users = cfg.Init.SeedUsers
		opts.Staff = cfg.Init.SeedStaff
		opts.Merchants = cfg.Init.SeedMerchants
		opts.Orders = cfg.Init.SeedOrders
		opts.CollisionRate = cfg.Init.CollisionRate
		opts.Seed = cfg.Init.RandomSeed

		logging.Info().
			Int("users", opts.Users).
			Int("staff", opts.Staff).
			Int("merchants", opts.Merchants).
			Int("orders", opts.Orders).
			Float64("collision_rate", opts.CollisionRate).
			Msg("Generating staging data")

		ds, err := datagen.Generate(opts)
		if err != nil {
			return fmt.Errorf("failed to generate data: %w", err)
		}
		if err := datagen.Load(ctx, pool, ds, datagen.DefaultBatchConfig()); err != nil {
			return fmt.Errorf("failed to load staging data: %w", err)
		}

		extra["seed_users"] = strconv.Itoa(opts.Users)
		extra["seed_orders"] = strconv.Itoa(opts.Orders)
		extra["user_collisions"] = strconv.Itoa(datagen.Collisions(ds.Users))
	}

	// Save metadata
	if err := db.SaveMetadata(ctx, pool, extra); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	logging.Info().Msg("Warehouse initialization complete")
	return nil
}
