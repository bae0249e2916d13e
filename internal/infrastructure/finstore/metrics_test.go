package finstore

import (
	"context"
	"testing"

	"github.com/bme3412/clarity/internal/core/domain"
)

func TestMetricsStoreRoundTrip(t *testing.T) {
	store, err := NewMetricsStore(t.TempDir())
	if err != nil {
		t.Fatalf("new metrics store: %v", err)
	}
	ctx := context.Background()

	period := domain.NewPeriod(2024, 1)
	raw := []byte(`{"income_statement":{"revenue":{"value":90753,"unit":"usd_millions"}}}`)
	if err := store.PutQuarter(ctx, "aapl", period, raw); err != nil {
		t.Fatalf("put quarter: %v", err)
	}

	doc, err := store.Quarter(ctx, "AAPL", period)
	if err != nil {
		t.Fatalf("read quarter: %v", err)
	}
	if doc == nil {
		t.Fatalf("expected document")
	}
	if string(doc.Raw) != string(raw) {
		t.Fatalf("raw payload mismatch: %s", doc.Raw)
	}
	if doc.Entity != "AAPL" {
		t.Fatalf("expected normalized ticker, got %q", doc.Entity)
	}
	if doc.Source != "AAPL/FY2024/Q1.json" {
		t.Fatalf("unexpected source path %q", doc.Source)
	}
}

func TestMetricsStoreMissingQuarterIsNil(t *testing.T) {
	store, err := NewMetricsStore(t.TempDir())
	if err != nil {
		t.Fatalf("new metrics store: %v", err)
	}

	doc, err := store.Quarter(context.Background(), "NVDA", domain.NewPeriod(2023, 3))
	if err != nil {
		t.Fatalf("read quarter: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document for missing quarter")
	}
}

func TestMetricsStoreCoverageAndEntities(t *testing.T) {
	store, err := NewMetricsStore(t.TempDir())
	if err != nil {
		t.Fatalf("new metrics store: %v", err)
	}
	ctx := context.Background()

	for _, put := range []struct {
		entity string
		period domain.Period
	}{
		{"MSFT", domain.NewPeriod(2024, 2)},
		{"MSFT", domain.NewPeriod(2024, 1)},
		{"MSFT", domain.NewPeriod(2023, 4)},
		{"MSFT", domain.NewPeriod(2023, 0)},
		{"AAPL", domain.NewPeriod(2024, 1)},
	} {
		if err := store.PutQuarter(ctx, put.entity, put.period, []byte(`{}`)); err != nil {
			t.Fatalf("put quarter: %v", err)
		}
	}

	coverage, err := store.Coverage(ctx, "MSFT")
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}
	if len(coverage) != 2 {
		t.Fatalf("expected 2 fiscal years, got %d", len(coverage))
	}
	if coverage[0].FiscalYear != "FY2023" || coverage[1].FiscalYear != "FY2024" {
		t.Fatalf("fiscal years out of order: %+v", coverage)
	}
	if got := coverage[0].Quarters; len(got) != 2 || got[0] != "FY" || got[1] != "Q4" {
		t.Fatalf("unexpected FY2023 quarters: %v", got)
	}
	if got := coverage[1].Quarters; len(got) != 2 || got[0] != "Q1" || got[1] != "Q2" {
		t.Fatalf("unexpected FY2024 quarters: %v", got)
	}

	entities, err := store.Entities(ctx)
	if err != nil {
		t.Fatalf("entities: %v", err)
	}
	if len(entities) != 2 || entities[0] != "AAPL" || entities[1] != "MSFT" {
		t.Fatalf("unexpected entities: %v", entities)
	}
}

func TestMetricsStoreCoverageUnknownEntity(t *testing.T) {
	store, err := NewMetricsStore(t.TempDir())
	if err != nil {
		t.Fatalf("new metrics store: %v", err)
	}

	coverage, err := store.Coverage(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}
	if coverage != nil {
		t.Fatalf("expected nil coverage, got %v", coverage)
	}
}
