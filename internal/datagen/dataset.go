//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package datagen

import (
	"fmt"
	"sort"
	"time"
)

// Options controls the size and shape of a generated dataset.
type Options struct {
	Users     int
	Staff     int
	Merchants int
	Orders    int

	// CollisionRate is the share of entities whose natural id is
	// registered again later by a different person.
	CollisionRate float64

	// Seed makes the dataset reproducible; 0 picks a time based seed.
	Seed uint64

	// Start is the earliest creation date.
	Start time.Time
}

// DefaultOptions returns a small dataset.
func DefaultOptions() Options {
	return Options{
		Users:         1000,
		Staff:         100,
		Merchants:     200,
		Orders:        5000,
		CollisionRate: 0.1,
		Start:         time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// The timeline: first registrations happen in the first period,
// re-registrations in the second and orders from the end of the first
// period onwards, so every order date has a live staff and merchant.
const (
	firstPeriod   = 180 * 24 * time.Hour
	reRegisterMin = 200 * 24 * time.Hour
	reRegisterMax = 600 * 24 * time.Hour
	timelineEnd   = 900 * 24 * time.Hour
)

// EntityRow is one staging row of a user, staff member or merchant.
type EntityRow struct {
	ID                string
	Name              string
	CreatedAt         time.Time
	Street            string
	City              string
	State             string
	Country           string
	Contact           string
	Device            string
	Kind              string
	PossibleDuplicate bool
}

// JobRow is one stg_user_job row.
type JobRow struct {
	UserID   string
	Name     string
	JobTitle string
	JobLevel string
}

// CardRow is one stg_user_credit_card row.
type CardRow struct {
	UserID      string
	Name        string
	Number      string
	IssuingBank string
}

// OrderRow is one stg_order_data row.
type OrderRow struct {
	OrderID          string
	UserID           string
	EstimatedArrival int
	TransactionDate  time.Time
}

// OrderLinkRow is one stg_order_with_merchant_data row.
type OrderLinkRow struct {
	OrderID    string
	MerchantID string
	StaffID    string
}

// Dataset is a complete set of staging rows.
type Dataset struct {
	Users      []EntityRow
	Staff      []EntityRow
	Merchants  []EntityRow
	Jobs       []JobRow
	Cards      []CardRow
	Orders     []OrderRow
	OrderLinks []OrderLinkRow
}

// Collisions returns the number of natural ids with more than one row in
// rows.
func Collisions(rows []EntityRow) int {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.ID]++
	}
	n := 0
	for _, c := range counts {
		if c > 1 {
			n++
		}
	}
	return n
}

// Generate builds a dataset.
func Generate(opts Options) (*Dataset, error) {
	if opts.Users < 0 || opts.Staff < 0 || opts.Merchants < 0 || opts.Orders < 0 {
		return nil, fmt.Errorf("row counts must not be negative")
	}
	if opts.CollisionRate < 0 || opts.CollisionRate > 1 {
		return nil, fmt.Errorf("collision rate must be between 0 and 1, got %g", opts.CollisionRate)
	}
	if opts.Orders > 0 && (opts.Users == 0 || opts.Staff == 0 || opts.Merchants == 0) {
		return nil, fmt.Errorf("orders need at least one user, staff member and merchant")
	}
	if opts.Start.IsZero() {
		opts.Start = DefaultOptions().Start
	}

	f := NewFaker()
	if opts.Seed != 0 {
		f = NewFakerWithSeed(opts.Seed)
	}
	g := &generator{f: f, opts: opts}

	ds := &Dataset{
		Users:     g.entities("U%06d", opts.Users, g.userKind),
		Staff:     g.entities("S%05d", opts.Staff, g.f.JobLevel),
		Merchants: g.entities("M%05d", opts.Merchants, g.f.Company),
	}

	for _, u := range ds.Users {
		ds.Jobs = append(ds.Jobs, JobRow{
			UserID:   u.ID,
			Name:     u.Name,
			JobTitle: g.f.JobTitle(),
			JobLevel: g.f.JobLevel(),
		})
		ds.Cards = append(ds.Cards, CardRow{
			UserID:      u.ID,
			Name:        u.Name,
			Number:      g.f.CreditCardNumber(),
			IssuingBank: g.f.IssuingBank(),
		})
	}

	userWindows := windows(ds.Users)
	end := opts.Start.Add(timelineEnd)
	floor := opts.Start.Add(firstPeriod)
	for i := 0; i < opts.Orders; i++ {
		w := Choose(g.f, userWindows)
		from := w.from
		if from.Before(floor) {
			from = floor
		}
		to := end
		if w.to != nil {
			to = w.to.Add(-time.Second)
		}

		order := OrderRow{
			OrderID:          fmt.Sprintf("O%07d", i+1),
			UserID:           w.id,
			EstimatedArrival: g.f.Int(1, 14),
			TransactionDate:  g.f.DateRange(from, to).Truncate(time.Second),
		}
		ds.Orders = append(ds.Orders, order)
		ds.OrderLinks = append(ds.OrderLinks, OrderLinkRow{
			OrderID:    order.OrderID,
			MerchantID: Choose(g.f, ds.Merchants).ID,
			StaffID:    Choose(g.f, ds.Staff).ID,
		})
	}

	return ds, nil
}

type generator struct {
	f    *Faker
	opts Options
}

func (g *generator) userKind() string {
	return ChooseWeighted(g.f, []string{"regular", "premium", "business"}, []int{80, 15, 5})
}

// entities creates n ids, re-registers a share of them and flags every row
// but the newest of an id as a possible duplicate.
func (g *generator) entities(format string, n int, kind func() string) []EntityRow {
	var rows []EntityRow
	first := g.opts.Start
	for i := 0; i < n; i++ {
		id := fmt.Sprintf(format, i+1)
		created := g.f.DateRange(first, first.Add(firstPeriod)).Truncate(time.Second)
		rows = append(rows, g.entity(id, created, kind))

		if g.f.Chance(g.opts.CollisionRate) {
			again := g.f.DateRange(first.Add(reRegisterMin), first.Add(reRegisterMax)).Truncate(time.Second)
			rows = append(rows, g.entity(id, again, kind))
		}
	}

	newest := make(map[string]time.Time)
	for _, r := range rows {
		if r.CreatedAt.After(newest[r.ID]) {
			newest[r.ID] = r.CreatedAt
		}
	}
	for i := range rows {
		rows[i].PossibleDuplicate = rows[i].CreatedAt.Before(newest[rows[i].ID])
	}
	return rows
}

func (g *generator) entity(id string, created time.Time, kind func() string) EntityRow {
	return EntityRow{
		ID:        id,
		Name:      g.f.Name(),
		CreatedAt: created,
		Street:    g.f.Street(),
		City:      g.f.City(),
		State:     g.f.State(),
		Country:   g.f.Country(),
		Contact:   g.f.Phone(),
		Device:    g.f.DeviceAddress(),
		Kind:      kind(),
	}
}

type window struct {
	id   string
	from time.Time
	to   *time.Time
}

// windows returns the validity window of every entity row.
func windows(rows []EntityRow) []window {
	sorted := make([]EntityRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	out := make([]window, 0, len(sorted))
	for i, r := range sorted {
		w := window{id: r.ID, from: r.CreatedAt}
		if i+1 < len(sorted) && sorted[i+1].ID == r.ID {
			next := sorted[i+1].CreatedAt
			w.to = &next
		}
		out = append(out, w)
	}
	return out
}
