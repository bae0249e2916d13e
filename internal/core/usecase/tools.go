package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// ResearchToolsUseCase exposes the deterministic research operations behind
// ports.ResearchTools. Everything here reads stored data directly; no
// generation is involved, so results are exactly reproducible.
type ResearchToolsUseCase struct {
	engine      *MetricsEngine
	transcripts ports.TranscriptStore
	logger      *slog.Logger
}

func NewResearchTools(engine *MetricsEngine, transcripts ports.TranscriptStore, logger *slog.Logger) *ResearchToolsUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResearchToolsUseCase{engine: engine, transcripts: transcripts, logger: logger}
}

// FinancialMetrics resolves one entity+period record; a zero period means
// the entity's own latest quarter.
func (t *ResearchToolsUseCase) FinancialMetrics(ctx context.Context, entity string, period domain.Period) (*domain.MetricsRecord, error) {
	entity, err := requireEntity(entity)
	if err != nil {
		return nil, err
	}
	if period.IsZero() {
		return t.engine.Latest(ctx, entity)
	}
	return t.engine.Quarter(ctx, entity, period)
}

// MultiQuarterMetrics returns up to the requested number of most recent
// quarters, oldest first, driven by the entity's own coverage.
func (t *ResearchToolsUseCase) MultiQuarterMetrics(ctx context.Context, entity string, quarters int) ([]domain.MetricsRecord, error) {
	entity, err := requireEntity(entity)
	if err != nil {
		return nil, err
	}
	if quarters <= 0 {
		quarters = 4
	}
	if quarters > 12 {
		quarters = 12
	}

	coverage, err := t.engine.Available(ctx, entity)
	if err != nil {
		return nil, err
	}
	if len(coverage) == 0 {
		return nil, nil
	}

	var periods []domain.Period
	for _, year := range coverage[0].Coverage {
		for _, quarter := range year.Quarters {
			period := periodFromCoverage(year.FiscalYear, quarter)
			if period.Year() != 0 {
				periods = append(periods, period)
			}
		}
	}
	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Index() < periods[j].Index()
	})
	if len(periods) > quarters {
		periods = periods[len(periods)-quarters:]
	}

	records, err := t.engine.Quarters(ctx, entity, periods)
	if err != nil {
		return nil, err
	}
	sortRecordsByPeriod(records)
	return records, nil
}

func (t *ResearchToolsUseCase) GrowthRate(ctx context.Context, entity string, metric domain.MetricName, base, comparison domain.Period) (*domain.GrowthRate, error) {
	entity, err := requireEntity(entity)
	if err != nil {
		return nil, err
	}
	if base.IsZero() || comparison.IsZero() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "growth rate", fmt.Errorf("base and comparison periods are required"))
	}
	return t.engine.GrowthRate(ctx, entity, metric, base, comparison)
}

func (t *ResearchToolsUseCase) SearchTranscripts(ctx context.Context, query string, entity string, period domain.Period, topK int) ([]domain.EvidenceItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search transcripts", fmt.Errorf("query is required"))
	}
	var periods []domain.Period
	if !period.IsZero() {
		periods = []domain.Period{period}
	}
	return t.transcripts.KeywordSearch(ctx, query, strings.ToUpper(strings.TrimSpace(entity)), periods, topK)
}

func (t *ResearchToolsUseCase) AvailableData(ctx context.Context, entity string) ([]domain.EntityCoverage, error) {
	return t.engine.Available(ctx, entity)
}

func requireEntity(entity string) (string, error) {
	entity = strings.ToUpper(strings.TrimSpace(entity))
	if entity == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "research tools", fmt.Errorf("entity is required"))
	}
	return entity, nil
}
