package domain

// MetricName identifies a canonical financial metric.
type MetricName string

const (
	MetricRevenue           MetricName = "revenue"
	MetricGrossMargin       MetricName = "gross_margin"
	MetricOperatingMargin   MetricName = "operating_margin"
	MetricNetIncome         MetricName = "net_income"
	MetricDilutedEPS        MetricName = "eps_diluted"
	MetricOperatingCashFlow MetricName = "operating_cash_flow"
	MetricFreeCashFlow      MetricName = "free_cash_flow"
)

func KnownMetrics() []MetricName {
	return []MetricName{
		MetricRevenue,
		MetricGrossMargin,
		MetricOperatingMargin,
		MetricNetIncome,
		MetricDilutedEPS,
		MetricOperatingCashFlow,
		MetricFreeCashFlow,
	}
}

// Units used by canonical metric values.
const (
	UnitUSDMillions = "usd_millions"
	UnitUSD         = "usd"
	UnitPercent     = "percent"
)

type MetricValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// MetricsDocument is one raw quarterly document as stored, before canonical
// extraction. Raw preserves the vendor schema untouched.
type MetricsDocument struct {
	Entity string `json:"entity"`
	Period Period `json:"period"`
	Raw    []byte `json:"-"`
	Source string `json:"source"`
}

// MetricsRecord holds the canonical values resolved for one entity+period.
// Metrics absent from every fallback path are simply not present.
type MetricsRecord struct {
	Entity   string                     `json:"entity"`
	Period   Period                     `json:"period"`
	Metrics  map[MetricName]MetricValue `json:"metrics"`
	Segments map[string]MetricValue     `json:"segments,omitempty"`
	Source   string                     `json:"source"`
}

func (r *MetricsRecord) Value(name MetricName) (MetricValue, bool) {
	if r == nil || r.Metrics == nil {
		return MetricValue{}, false
	}
	v, ok := r.Metrics[name]
	return v, ok
}

func (r *MetricsRecord) Empty() bool {
	return r == nil || (len(r.Metrics) == 0 && len(r.Segments) == 0)
}

type GrowthDirection string

const (
	GrowthIncrease GrowthDirection = "increase"
	GrowthDecrease GrowthDirection = "decrease"
	GrowthFlat     GrowthDirection = "flat"
)

// GrowthRate is a computed percentage change between two resolved periods.
// It is only ever produced from real values, never estimated.
type GrowthRate struct {
	Entity           string          `json:"entity"`
	Metric           MetricName      `json:"metric"`
	BasePeriod       Period          `json:"base_period"`
	ComparisonPeriod Period          `json:"comparison_period"`
	Value            float64         `json:"value"`
	Direction        GrowthDirection `json:"direction"`
}

// PeriodCoverage lists the quarters available for one fiscal year.
type PeriodCoverage struct {
	FiscalYear string   `json:"fiscal_year"`
	Quarters   []string `json:"quarters"`
}

type EntityCoverage struct {
	Entity   string           `json:"entity"`
	Coverage []PeriodCoverage `json:"coverage"`
}
