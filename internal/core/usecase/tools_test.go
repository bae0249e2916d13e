package usecase

import (
	"context"
	"testing"

	"github.com/bme3412/clarity/internal/core/domain"
)

func toolsFixture() *ResearchToolsUseCase {
	store := &fakeMetricsStore{
		docs: map[string]string{
			"NVDA|Q1 FY2025": `{"income_statement": {"revenue": {"value": 26044}}}`,
			"NVDA|Q2 FY2025": `{"income_statement": {"revenue": {"value": 30040}}}`,
			"NVDA|Q3 FY2025": `{"income_statement": {"revenue": {"value": 35082}}}`,
		},
		coverage: map[string][]domain.PeriodCoverage{
			"NVDA": {{FiscalYear: "FY2025", Quarters: []string{"Q1", "Q2", "Q3"}}},
		},
	}
	return NewResearchTools(NewMetricsEngine(store, nil), nil, nil)
}

func TestMultiQuarterMetricsReturnsNewestOldestFirst(t *testing.T) {
	tools := toolsFixture()

	records, err := tools.MultiQuarterMetrics(context.Background(), "nvda", 2)
	if err != nil {
		t.Fatalf("multi quarter: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !records[0].Period.Equal(domain.NewPeriod(2025, 2)) || !records[1].Period.Equal(domain.NewPeriod(2025, 3)) {
		t.Fatalf("expected Q2 then Q3, got %v and %v", records[0].Period, records[1].Period)
	}
}

func TestFinancialMetricsZeroPeriodMeansLatest(t *testing.T) {
	tools := toolsFixture()

	record, err := tools.FinancialMetrics(context.Background(), "NVDA", domain.Period{})
	if err != nil {
		t.Fatalf("financial metrics: %v", err)
	}
	if record == nil || !record.Period.Equal(domain.NewPeriod(2025, 3)) {
		t.Fatalf("expected the latest quarter, got %+v", record)
	}
}

func TestToolsRejectMissingEntityAndPeriods(t *testing.T) {
	tools := toolsFixture()

	if _, err := tools.FinancialMetrics(context.Background(), "  ", domain.Period{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := tools.GrowthRate(context.Background(), "NVDA", domain.MetricRevenue, domain.Period{}, domain.NewPeriod(2025, 3)); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero base period, got %v", err)
	}
}

func TestGrowthRateThroughTools(t *testing.T) {
	tools := toolsFixture()

	growth, err := tools.GrowthRate(context.Background(), "NVDA", domain.MetricRevenue, domain.NewPeriod(2025, 1), domain.NewPeriod(2025, 3))
	if err != nil {
		t.Fatalf("growth: %v", err)
	}
	if growth == nil || growth.Direction != domain.GrowthIncrease {
		t.Fatalf("expected an increase, got %+v", growth)
	}
}
