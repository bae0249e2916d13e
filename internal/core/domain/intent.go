package domain

type AnalysisCategory string

const (
	CategoryFinancial  AnalysisCategory = "financial"
	CategoryGuidance   AnalysisCategory = "guidance"
	CategoryComparison AnalysisCategory = "comparison"
	CategoryTechnology AnalysisCategory = "technology"
	CategoryMarket     AnalysisCategory = "market"
	CategoryTranscript AnalysisCategory = "transcript"
)

type Timeframe string

const (
	TimeframeLatest   Timeframe = "latest"
	TimeframeRecent   Timeframe = "recent"
	TimeframeSpecific Timeframe = "specific"
	TimeframeRange    Timeframe = "range"
)

// IntentSource records which classifier stage produced the intent.
type IntentSource string

const (
	IntentSourceHeuristic IntentSource = "heuristic"
	IntentSourceLLM       IntentSource = "llm"
	IntentSourceDefault   IntentSource = "default"
)

// Intent is derived once per Query and read-only thereafter.
// EntityRefs holds canonical tickers only; aliases are resolved before the
// intent leaves the analyzer.
type Intent struct {
	AnalysisCategory    AnalysisCategory `json:"analysis_category"`
	Topics              []string         `json:"topics,omitempty"`
	Timeframe           Timeframe        `json:"timeframe"`
	ContentType         string           `json:"content_type,omitempty"`
	EntityRefs          []string         `json:"entity_refs,omitempty"`
	ExplicitPeriods     []Period         `json:"explicit_periods,omitempty"`
	RequiresCalculation bool             `json:"requires_calculation"`
	Source              IntentSource     `json:"source"`
}

func (i Intent) PrimaryEntity() string {
	if len(i.EntityRefs) == 0 {
		return ""
	}
	return i.EntityRefs[0]
}

func (i Intent) IsComparison() bool {
	return i.AnalysisCategory == CategoryComparison || len(i.EntityRefs) >= 2
}
