//go:build integration

package warehouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-dwh/internal/collision"
	"github.com/pgEdge/pgedge-dwh/internal/datagen"
	"github.com/pgEdge/pgedge-dwh/internal/db"
	"github.com/pgEdge/pgedge-dwh/internal/entities/merchant"
	"github.com/pgEdge/pgedge-dwh/internal/entities/staff"
	"github.com/pgEdge/pgedge-dwh/internal/entities/user"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
	"github.com/pgEdge/pgedge-dwh/internal/testutil"
	"github.com/pgEdge/pgedge-dwh/internal/warehouse"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// setupWarehouse creates the dimension and staging tables and loads a user
// that re-registered on 2020-06-01 together with their jobs and orders.
func setupWarehouse(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool := testutil.NewTestDB(t, "warehouse")
	require.NoError(t, db.Migrate(ctx, pool))
	require.NoError(t, datagen.CreateStagingSchema(ctx, pool, false))

	stmts := []string{
		`INSERT INTO stg_user_data (user_id, name, creation_date, possible_duplicate) VALUES
            ('U1', 'Alice',    '2020-01-01', TRUE),
            ('U1', 'Alice B.', '2020-06-01', FALSE),
            ('U2', 'Bob',      '2020-02-01', FALSE)`,
		`INSERT INTO stg_user_job (user_id, name, job_title, job_level) VALUES
            ('U1', 'Alice',    'Engineer', 'Senior'),
            ('U1', 'Alice B.', 'Designer', 'Junior'),
            ('U9', 'Nobody',   'Clerk',    'Junior')`,
		`INSERT INTO stg_user_credit_card (user_id, name, credit_card_number) VALUES
            ('U2', 'Bob', '4111111111111111')`,
		`INSERT INTO stg_order_data (order_id, user_id, transaction_date) VALUES
            ('O1', 'U1', '2020-03-01'),
            ('O2', 'U1', '2020-07-01'),
            ('O3', 'U2', '2020-03-01')`,
		`INSERT INTO stg_staff_data (staff_id, name, creation_date) VALUES
            ('S1', 'Sam', '2019-01-01'),
            ('S1', 'Sue', '2020-05-01'),
            ('S2', 'Sid', '2019-01-01')`,
		`INSERT INTO stg_merchant_data (merchant_id, name, creation_date) VALUES
            ('M1', 'Acme', '2019-01-01')`,
		`INSERT INTO stg_order_with_merchant_data (order_id, merchant_id, staff_id) VALUES
            ('O1', 'M1', 'S1'),
            ('O1', 'M1', 'S2'),
            ('O2', 'M1', 'S1')`,
	}
	for _, stmt := range stmts {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	return pool
}

func dimKey(t *testing.T, pool *pgxpool.Pool, table, source, id string, from time.Time) int64 {
	t.Helper()
	var key int64
	err := pool.QueryRow(context.Background(),
		"SELECT "+table[len("dim_"):]+"_key FROM "+table+" WHERE "+source+" = $1 AND valid_from = $2",
		id, from).Scan(&key)
	require.NoError(t, err)
	return key
}

func childKey(t *testing.T, pool *pgxpool.Pool, query string, args ...any) *int64 {
	t.Helper()
	var key *int64
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&key))
	return key
}

func newResolver(t *testing.T, pool *pgxpool.Pool) *scd.Resolver {
	t.Helper()
	r, err := scd.NewResolver(scd.ResolverConfig{
		Warehouse: warehouse.New(pool),
		Clock:     clockwork.NewFakeClockAt(day("2024-01-01")),
	})
	require.NoError(t, err)
	return r
}

func TestResolveUserSurrogateKeys(t *testing.T) {
	ctx := context.Background()
	pool := setupWarehouse(t)
	resolver := newResolver(t, pool)

	report, err := resolver.Resolve(ctx, (&user.User{}).Config())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Versions)
	assert.Equal(t, 3, report.KeysIssued)

	first := dimKey(t, pool, "dim_user", "source_user_id", "U1", day("2020-01-01"))
	second := dimKey(t, pool, "dim_user", "source_user_id", "U1", day("2020-06-01"))
	bob := dimKey(t, pool, "dim_user", "source_user_id", "U2", day("2020-02-01"))
	assert.NotEqual(t, first, second)

	var validTo *time.Time
	var current bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT valid_to, is_current FROM dim_user WHERE user_key = $1", first).Scan(&validTo, &current))
	require.NotNil(t, validTo)
	assert.True(t, validTo.Equal(day("2020-06-01")))
	assert.False(t, current)

	// Staging rows carry their own version's key and lose the flag.
	assert.Equal(t, first, *childKey(t, pool,
		"SELECT user_key FROM stg_user_data WHERE user_id = 'U1' AND name = 'Alice'"))
	var flagged int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM stg_user_data WHERE possible_duplicate").Scan(&flagged))
	assert.Zero(t, flagged)

	// Name match, window match and unresolved dependents.
	assert.Equal(t, first, *childKey(t, pool, "SELECT user_key FROM stg_user_job WHERE job_title = 'Engineer'"))
	assert.Equal(t, second, *childKey(t, pool, "SELECT user_key FROM stg_user_job WHERE job_title = 'Designer'"))
	assert.Nil(t, childKey(t, pool, "SELECT user_key FROM stg_user_job WHERE user_id = 'U9'"))
	assert.Equal(t, bob, *childKey(t, pool, "SELECT user_key FROM stg_user_credit_card WHERE user_id = 'U2'"))
	assert.Equal(t, first, *childKey(t, pool, "SELECT user_key FROM stg_order_data WHERE order_id = 'O1'"))
	assert.Equal(t, second, *childKey(t, pool, "SELECT user_key FROM stg_order_data WHERE order_id = 'O2'"))
	assert.Equal(t, bob, *childKey(t, pool, "SELECT user_key FROM stg_order_data WHERE order_id = 'O3'"))

	// A second run issues no keys and keeps every assignment.
	again, err := resolver.Resolve(ctx, (&user.User{}).Config())
	require.NoError(t, err)
	assert.Zero(t, again.KeysIssued)
	assert.Equal(t, second, *childKey(t, pool, "SELECT user_key FROM stg_order_data WHERE order_id = 'O2'"))

	// An order that loses its match also loses the key of the earlier run.
	_, err = pool.Exec(ctx, "UPDATE stg_order_data SET user_id = 'U9' WHERE order_id = 'O3'")
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, (&user.User{}).Config())
	require.NoError(t, err)
	assert.Nil(t, childKey(t, pool, "SELECT user_key FROM stg_order_data WHERE order_id = 'O3'"))
	assert.Equal(t, bob, *childKey(t, pool, "SELECT user_key FROM stg_user_credit_card WHERE user_id = 'U2'"))

	stats, err := warehouse.New(pool).Stats(ctx, (&user.User{}).Config())
	require.NoError(t, err)
	assert.True(t, stats.Exists)
	assert.EqualValues(t, 3, stats.Rows)
	assert.EqualValues(t, 2, stats.Current)
	assert.EqualValues(t, 2, stats.NaturalIDs)
	assert.Zero(t, stats.MultiCurrent)
}

func TestResolveTwoHopDependents(t *testing.T) {
	ctx := context.Background()
	pool := setupWarehouse(t)
	resolver := newResolver(t, pool)

	reports, err := resolver.ResolveAll(ctx, []scd.EntityConfig{
		(&user.User{}).Config(),
		(&staff.Staff{}).Config(),
		(&merchant.Merchant{}).Config(),
	})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	sam := dimKey(t, pool, "dim_staff", "source_staff_id", "S1", day("2019-01-01"))
	sue := dimKey(t, pool, "dim_staff", "source_staff_id", "S1", day("2020-05-01"))
	sid := dimKey(t, pool, "dim_staff", "source_staff_id", "S2", day("2019-01-01"))
	acme := dimKey(t, pool, "dim_merchant", "source_merchant_id", "M1", day("2019-01-01"))

	const bridge = "SELECT %s FROM stg_order_with_merchant_data WHERE order_id = $1 AND staff_id = $2"
	assert.Equal(t, sam, *childKey(t, pool, fmt.Sprintf(bridge, "staff_key"), "O1", "S1"))
	assert.Equal(t, sid, *childKey(t, pool, fmt.Sprintf(bridge, "staff_key"), "O1", "S2"))
	assert.Equal(t, sue, *childKey(t, pool, fmt.Sprintf(bridge, "staff_key"), "O2", "S1"))
	assert.Equal(t, acme, *childKey(t, pool, fmt.Sprintf(bridge, "merchant_key"), "O1", "S2"))
	assert.Equal(t, acme, *childKey(t, pool, fmt.Sprintf(bridge, "merchant_key"), "O2", "S1"))
}

func TestResolveDryRunLeavesWarehouseUntouched(t *testing.T) {
	ctx := context.Background()
	pool := setupWarehouse(t)

	resolver, err := scd.NewResolver(scd.ResolverConfig{
		Warehouse: warehouse.New(pool),
		DryRun:    true,
	})
	require.NoError(t, err)

	report, err := resolver.Resolve(ctx, (&user.User{}).Config())
	require.NoError(t, err)
	assert.Equal(t, 3, report.KeysIssued)

	var rows int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM dim_user").Scan(&rows))
	assert.Zero(t, rows)
	assert.Nil(t, childKey(t, pool, "SELECT user_key FROM stg_order_data WHERE order_id = 'O1'"))
}

func TestResolveMissingStagingTableRollsBack(t *testing.T) {
	ctx := context.Background()
	pool := setupWarehouse(t)
	_, err := pool.Exec(ctx, "DROP TABLE stg_merchant_data")
	require.NoError(t, err)

	_, err = newResolver(t, pool).Resolve(ctx, (&merchant.Merchant{}).Config())
	require.Error(t, err)

	var txErr *scd.TransactionFailure
	require.ErrorAs(t, err, &txErr)
	assert.True(t, txErr.Retryable)
}

func TestRenameStrategy(t *testing.T) {
	ctx := context.Background()
	pool := setupWarehouse(t)

	renamer, err := collision.NewRenamer(collision.Config{Warehouse: warehouse.New(pool)})
	require.NoError(t, err)

	report, err := renamer.Resolve(ctx, (&user.User{}).Config())
	require.NoError(t, err)
	assert.Equal(t, 1, report.IDsRenamed)

	var ids []string
	rows, err := pool.Query(ctx, "SELECT user_id FROM stg_user_data ORDER BY creation_date")
	require.NoError(t, err)
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"U1", "U2", "U1_HIST_20200601"}, ids)

	var orderUser string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT user_id FROM stg_order_data WHERE order_id = 'O2'").Scan(&orderUser))
	assert.Equal(t, "U1_HIST_20200601", orderUser)

	var jobUser string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT user_id FROM stg_user_job WHERE job_title = 'Engineer'").Scan(&jobUser))
	assert.Equal(t, "U1", jobUser)
}
