package datagen

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgEdge/pgedge-dwh/internal/logging"
)

// BatchInsertConfig configures batch insert behavior.
type BatchInsertConfig struct {
	// BatchSize is the number of rows per COPY.
	BatchSize int

	// ProgressInterval is how often to log progress (in rows).
	ProgressInterval int64
}

// DefaultBatchConfig returns default batch insert configuration.
func DefaultBatchConfig() BatchInsertConfig {
	return BatchInsertConfig{
		BatchSize:        5000,
		ProgressInterval: 50000,
	}
}

// ProgressReporter tracks and reports data generation progress.
type ProgressReporter struct {
	tableName        string
	totalRows        int64
	currentRow       int64
	progressInterval int64
}

// NewProgressReporter creates a new progress reporter.
func NewProgressReporter(tableName string, totalRows int64, interval int64) *ProgressReporter {
	if interval <= 0 {
		interval = DefaultBatchConfig().ProgressInterval
	}
	return &ProgressReporter{
		tableName:        tableName,
		totalRows:        totalRows,
		progressInterval: interval,
	}
}

// Update updates the progress and logs if necessary.
func (p *ProgressReporter) Update(rowsInserted int64) {
	oldRow := p.currentRow
	p.currentRow += rowsInserted

	// Check if we crossed a progress interval
	if p.currentRow/p.progressInterval > oldRow/p.progressInterval {
		pct := float64(p.currentRow) / float64(p.totalRows) * 100
		logging.Info().
			Str("table", p.tableName).
			Int64("rows", p.currentRow).
			Int64("total", p.totalRows).
			Float64("percent", pct).
			Msg("Loading staging data")
	}
}

// Rows returns the number of rows reported so far.
func (p *ProgressReporter) Rows() int64 {
	return p.currentRow
}

// Done logs completion.
func (p *ProgressReporter) Done() {
	logging.Info().
		Str("table", p.tableName).
		Int64("rows", p.currentRow).
		Msg("Table complete")
}

// CreateStagingSchema creates the staging tables. With drop set, existing
// staging tables are dropped first.
func CreateStagingSchema(ctx context.Context, pool *pgxpool.Pool, drop bool) error {
	if drop {
		if err := DropStagingSchema(ctx, pool); err != nil {
			return err
		}
	}
	if _, err := pool.Exec(ctx, stagingSchema); err != nil {
		return fmt.Errorf("failed to create staging tables: %w", err)
	}
	return nil
}

// DropStagingSchema drops every staging table.
func DropStagingSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tables := make([]string, len(StagingTables))
	for i, t := range StagingTables {
		tables[i] = pgx.Identifier{t}.Sanitize()
	}
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s", strings.Join(tables, ", "))
	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to drop staging tables: %w", err)
	}
	return nil
}

// Load copies a dataset into the staging tables inside one transaction.
func Load(ctx context.Context, pool *pgxpool.Pool, ds *Dataset, cfg BatchInsertConfig) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range ds.Tables() {
		if err := copyTable(ctx, tx, t, cfg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit staging data: %w", err)
	}
	return nil
}

// Table is the COPY form of one staging table.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

func copyTable(ctx context.Context, tx pgx.Tx, t Table, cfg BatchInsertConfig) error {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchConfig().BatchSize
	}

	progress := NewProgressReporter(t.Name, int64(len(t.Rows)), cfg.ProgressInterval)
	for start := 0; start < len(t.Rows); start += batch {
		end := min(start+batch, len(t.Rows))
		n, err := tx.CopyFrom(ctx, pgx.Identifier{t.Name}, t.Columns, pgx.CopyFromRows(t.Rows[start:end]))
		if err != nil {
			return fmt.Errorf("failed to copy into %s: %w", t.Name, err)
		}
		progress.Update(n)
	}
	progress.Done()
	return nil
}

// Tables converts the dataset into COPY input.
func (ds *Dataset) Tables() []Table {
	users := Table{
		Name: "stg_user_data",
		Columns: []string{"user_id", "creation_date", "name", "street", "state", "city",
			"country", "device_address", "user_type", "possible_duplicate"},
	}
	for _, u := range ds.Users {
		users.Rows = append(users.Rows, []any{u.ID, u.CreatedAt, u.Name, u.Street, u.State,
			u.City, u.Country, u.Device, u.Kind, u.PossibleDuplicate})
	}

	staff := Table{
		Name: "stg_staff_data",
		Columns: []string{"staff_id", "name", "job_level", "street", "state", "city",
			"country", "contact_number", "creation_date", "possible_duplicate", "possible_duplicate_of"},
	}
	for _, s := range ds.Staff {
		staff.Rows = append(staff.Rows, []any{s.ID, s.Name, s.Kind, s.Street, s.State, s.City,
			s.Country, s.Contact, s.CreatedAt, s.PossibleDuplicate, duplicateOf(s)})
	}

	merchants := Table{
		Name: "stg_merchant_data",
		Columns: []string{"merchant_id", "creation_date", "name", "street", "state", "city",
			"country", "contact_number", "possible_duplicate", "possible_duplicate_of"},
	}
	for _, m := range ds.Merchants {
		merchants.Rows = append(merchants.Rows, []any{m.ID, m.CreatedAt, m.Name, m.Street,
			m.State, m.City, m.Country, m.Contact, m.PossibleDuplicate, duplicateOf(m)})
	}

	jobs := Table{
		Name:    "stg_user_job",
		Columns: []string{"user_id", "name", "job_title", "job_level"},
	}
	for _, j := range ds.Jobs {
		jobs.Rows = append(jobs.Rows, []any{j.UserID, j.Name, j.JobTitle, j.JobLevel})
	}

	cards := Table{
		Name:    "stg_user_credit_card",
		Columns: []string{"user_id", "name", "credit_card_number", "issuing_bank"},
	}
	for _, c := range ds.Cards {
		cards.Rows = append(cards.Rows, []any{c.UserID, c.Name, c.Number, c.IssuingBank})
	}

	orders := Table{
		Name:    "stg_order_data",
		Columns: []string{"order_id", "user_id", "estimated_arrival", "transaction_date"},
	}
	for _, o := range ds.Orders {
		orders.Rows = append(orders.Rows, []any{o.OrderID, o.UserID, int32(o.EstimatedArrival), o.TransactionDate})
	}

	links := Table{
		Name:    "stg_order_with_merchant_data",
		Columns: []string{"order_id", "merchant_id", "staff_id"},
	}
	for _, l := range ds.OrderLinks {
		links.Rows = append(links.Rows, []any{l.OrderID, l.MerchantID, l.StaffID})
	}

	return []Table{users, staff, merchants, jobs, cards, orders, links}
}

func duplicateOf(r EntityRow) *string {
	if !r.PossibleDuplicate {
		return nil
	}
	id := r.ID
	return &id
}
