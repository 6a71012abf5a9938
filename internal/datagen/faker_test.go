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
	"testing"
	"time"
)

func TestNewFaker(t *testing.T) {
	f := NewFaker()
	if f == nil {
		t.Fatal("NewFaker returned nil")
	}
	if f.faker == nil {
		t.Fatal("faker field is nil")
	}
}

func TestNewFakerWithSeed(t *testing.T) {
	seed := uint64(12345)
	f1 := NewFakerWithSeed(seed)
	f2 := NewFakerWithSeed(seed)

	// Same seed should produce same sequence
	for i := 0; i < 10; i++ {
		v1 := f1.Int(0, 1000)
		v2 := f2.Int(0, 1000)
		if v1 != v2 {
			t.Errorf("Same seed produced different values: %d != %d", v1, v2)
		}
	}
}

func TestFakerStrings(t *testing.T) {
	f := NewFakerWithSeed(1)
	tests := map[string]func() string{
		"Name":             f.Name,
		"Company":          f.Company,
		"Phone":            f.Phone,
		"Street":           f.Street,
		"City":             f.City,
		"State":            f.State,
		"Country":          f.Country,
		"DeviceAddress":    f.DeviceAddress,
		"JobTitle":         f.JobTitle,
		"JobLevel":         f.JobLevel,
		"CreditCardNumber": f.CreditCardNumber,
		"IssuingBank":      f.IssuingBank,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			if fn() == "" {
				t.Errorf("%s returned empty string", name)
			}
		})
	}
}

func TestFakerDateRange(t *testing.T) {
	f := NewFaker()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		d := f.DateRange(start, end)
		if d.Before(start) || d.After(end) {
			t.Errorf("DateRange returned %v, expected between %v and %v", d, start, end)
		}
	}

	if got := f.DateRange(end, start); !got.Equal(end) {
		t.Errorf("Expected empty range to return start, got %v", got)
	}
}

func TestFakerInt(t *testing.T) {
	f := NewFaker()
	for i := 0; i < 100; i++ {
		v := f.Int(10, 20)
		if v < 10 || v > 20 {
			t.Errorf("Int(10, 20) returned %d", v)
		}
	}
}

func TestFakerChance(t *testing.T) {
	f := NewFaker()
	for i := 0; i < 100; i++ {
		if f.Chance(0) {
			t.Fatal("Chance(0) returned true")
		}
		if !f.Chance(1.01) {
			t.Fatal("Chance(>1) returned false")
		}
	}
}

func TestChoose(t *testing.T) {
	f := NewFaker()
	items := []string{"a", "b", "c"}

	for i := 0; i < 100; i++ {
		v := Choose(f, items)
		if v != "a" && v != "b" && v != "c" {
			t.Errorf("Choose returned unexpected value: %s", v)
		}
	}
}

func TestChooseEmpty(t *testing.T) {
	f := NewFaker()
	var items []string

	v := Choose(f, items)
	if v != "" {
		t.Errorf("Choose on empty slice should return zero value, got %s", v)
	}
}

func TestChooseWeighted(t *testing.T) {
	f := NewFaker()
	items := []string{"common", "rare"}
	weights := []int{99, 1}

	commonCount := 0
	for i := 0; i < 1000; i++ {
		if ChooseWeighted(f, items, weights) == "common" {
			commonCount++
		}
	}

	if commonCount < 900 {
		t.Errorf("Expected mostly 'common', got %d/1000", commonCount)
	}
}
