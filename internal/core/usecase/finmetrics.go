package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// metricPaths is the ordered fallback chain per canonical metric. Vendor
// documents disagree on layout; a metric is missing only after the whole
// chain misses. Paths resolve against the raw quarterly JSON document.
var metricPaths = map[domain.MetricName][]string{
	domain.MetricRevenue: {
		"income_statement.revenue",
		"income_statement.total_revenue",
		"income_statement.net_revenue",
		"summary.revenue",
		"revenue",
	},
	domain.MetricGrossMargin: {
		"income_statement.gross_margin",
		"margins.gross_margin",
		"summary.gross_margin",
		"gross_margin",
	},
	domain.MetricOperatingMargin: {
		"income_statement.operating_margin",
		"margins.operating_margin",
		"summary.operating_margin",
		"operating_margin",
	},
	domain.MetricNetIncome: {
		"income_statement.net_income",
		"summary.net_income",
		"net_income",
	},
	domain.MetricDilutedEPS: {
		"income_statement.eps_diluted",
		"income_statement.diluted_eps",
		"per_share.eps_diluted",
		"eps_diluted",
	},
	domain.MetricOperatingCashFlow: {
		"cash_flow.operating_cash_flow",
		"cash_flow.cash_from_operations",
		"summary.operating_cash_flow",
		"operating_cash_flow",
	},
	domain.MetricFreeCashFlow: {
		"cash_flow.free_cash_flow",
		"summary.free_cash_flow",
		"free_cash_flow",
	},
}

var defaultUnits = map[domain.MetricName]string{
	domain.MetricRevenue:           domain.UnitUSDMillions,
	domain.MetricGrossMargin:       domain.UnitPercent,
	domain.MetricOperatingMargin:   domain.UnitPercent,
	domain.MetricNetIncome:         domain.UnitUSDMillions,
	domain.MetricDilutedEPS:        domain.UnitUSD,
	domain.MetricOperatingCashFlow: domain.UnitUSDMillions,
	domain.MetricFreeCashFlow:      domain.UnitUSDMillions,
}

var segmentPaths = []string{"segments", "segment_revenue", "revenue_by_segment"}

// MetricsEngine resolves canonical metric values from raw quarterly
// documents. It only ever reports values actually present in a document;
// a miss is a missing metric, never an estimate.
type MetricsEngine struct {
	store  ports.MetricsStore
	logger *slog.Logger
}

func NewMetricsEngine(store ports.MetricsStore, logger *slog.Logger) *MetricsEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsEngine{store: store, logger: logger}
}

// Quarter resolves the canonical record for one entity+period; (nil, nil)
// when the quarter has no stored document.
func (e *MetricsEngine) Quarter(ctx context.Context, entity string, period domain.Period) (*domain.MetricsRecord, error) {
	doc, err := e.store.Quarter(ctx, entity, period)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return extractRecord(doc), nil
}

func (e *MetricsEngine) Quarters(ctx context.Context, entity string, periods []domain.Period) ([]domain.MetricsRecord, error) {
	out := make([]domain.MetricsRecord, 0, len(periods))
	for _, period := range periods {
		record, err := e.Quarter(ctx, entity, period)
		if err != nil {
			return nil, err
		}
		if record != nil {
			out = append(out, *record)
		}
	}
	return out, nil
}

// GrowthRate computes the percentage change of one metric between two
// resolved periods. Any unresolved input or zero base yields (nil, nil).
func (e *MetricsEngine) GrowthRate(ctx context.Context, entity string, metric domain.MetricName, base, comparison domain.Period) (*domain.GrowthRate, error) {
	baseRecord, err := e.Quarter(ctx, entity, base)
	if err != nil {
		return nil, err
	}
	comparisonRecord, err := e.Quarter(ctx, entity, comparison)
	if err != nil {
		return nil, err
	}
	if baseRecord == nil || comparisonRecord == nil {
		return nil, nil
	}

	baseValue, okBase := baseRecord.Value(metric)
	comparisonValue, okComparison := comparisonRecord.Value(metric)
	if !okBase || !okComparison || baseValue.Value == 0 {
		return nil, nil
	}

	change := (comparisonValue.Value - baseValue.Value) / math.Abs(baseValue.Value) * 100

	direction := domain.GrowthFlat
	switch {
	case change > 0.005:
		direction = domain.GrowthIncrease
	case change < -0.005:
		direction = domain.GrowthDecrease
	}

	return &domain.GrowthRate{
		Entity:           entity,
		Metric:           metric,
		BasePeriod:       base,
		ComparisonPeriod: comparison,
		Value:            change,
		Direction:        direction,
	}, nil
}

// Latest resolves the newest available quarter for the entity from its own
// coverage; entities report on their own fiscal calendars, so "latest" is
// always per entity.
func (e *MetricsEngine) Latest(ctx context.Context, entity string) (*domain.MetricsRecord, error) {
	coverage, err := e.store.Coverage(ctx, entity)
	if err != nil {
		return nil, err
	}

	var best domain.Period
	for _, year := range coverage {
		for _, quarter := range year.Quarters {
			period := periodFromCoverage(year.FiscalYear, quarter)
			if period.Year() == 0 {
				continue
			}
			if best.IsZero() || period.Index() > best.Index() {
				best = period
			}
		}
	}
	if best.IsZero() {
		return nil, nil
	}
	return e.Quarter(ctx, entity, best)
}

func (e *MetricsEngine) Available(ctx context.Context, entity string) ([]domain.EntityCoverage, error) {
	var entities []string
	if strings.TrimSpace(entity) != "" {
		entities = []string{strings.ToUpper(strings.TrimSpace(entity))}
	} else {
		var err error
		entities, err = e.store.Entities(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.EntityCoverage, 0, len(entities))
	for _, ticker := range entities {
		coverage, err := e.store.Coverage(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if coverage == nil {
			continue
		}
		out = append(out, domain.EntityCoverage{Entity: ticker, Coverage: coverage})
	}
	return out, nil
}

func extractRecord(doc *domain.MetricsDocument) *domain.MetricsRecord {
	raw := string(doc.Raw)
	record := &domain.MetricsRecord{
		Entity:  doc.Entity,
		Period:  doc.Period,
		Metrics: make(map[domain.MetricName]domain.MetricValue),
		Source:  doc.Source,
	}

	for _, metric := range domain.KnownMetrics() {
		for _, path := range metricPaths[metric] {
			value, unit, ok := valueAt(raw, path)
			if !ok {
				continue
			}
			if unit == "" {
				unit = defaultUnits[metric]
			}
			record.Metrics[metric] = domain.MetricValue{Value: value, Unit: unit}
			break
		}
	}

	for _, path := range segmentPaths {
		segments := gjson.Get(raw, path)
		if !segments.IsObject() {
			continue
		}
		record.Segments = make(map[string]domain.MetricValue)
		segments.ForEach(func(key, node gjson.Result) bool {
			// Segment names stay exactly as reported.
			if value, unit, ok := valueFromNode(node); ok {
				if unit == "" {
					unit = domain.UnitUSDMillions
				}
				record.Segments[key.String()] = domain.MetricValue{Value: value, Unit: unit}
			}
			return true
		})
		break
	}
	return record
}

// valueAt reads a metric at path, accepting either a bare number or a
// {value, unit} object.
func valueAt(raw, path string) (float64, string, bool) {
	return valueFromNode(gjson.Get(raw, path))
}

func valueFromNode(node gjson.Result) (float64, string, bool) {
	if !node.Exists() {
		return 0, "", false
	}
	if node.IsObject() {
		value := node.Get("value")
		if !value.Exists() {
			return 0, "", false
		}
		return value.Float(), node.Get("unit").String(), true
	}
	if node.Type == gjson.Number {
		return node.Float(), "", true
	}
	return 0, "", false
}

func periodFromCoverage(fiscalYear, quarter string) domain.Period {
	year, err := strconv.Atoi(strings.TrimPrefix(fiscalYear, "FY"))
	if err != nil {
		return domain.Period{}
	}
	q := 0
	if len(quarter) == 2 && quarter[0] == 'Q' {
		q = int(quarter[1] - '0')
	}
	return domain.NewPeriod(year, q)
}

// sortRecordsByPeriod orders records oldest first on the quarter axis.
func sortRecordsByPeriod(records []domain.MetricsRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Period.Index() < records[j].Period.Index()
	})
}
