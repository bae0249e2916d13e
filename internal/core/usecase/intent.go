package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// IntentAnalyzer classifies queries through an ordered chain of stages:
// heuristics first, an LLM with a strict JSON contract when the heuristics
// are not confident, and a default stage that never defers. Strategy
// auto-selection runs the same way.
type IntentAnalyzer struct {
	lexicon ports.Lexicon
	llm     ports.GenerationProvider
	logger  *slog.Logger
}

func NewIntentAnalyzer(lexicon ports.Lexicon, llm ports.GenerationProvider, logger *slog.Logger) *IntentAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentAnalyzer{lexicon: lexicon, llm: llm, logger: logger}
}

func (a *IntentAnalyzer) Analyze(ctx context.Context, query domain.Query) domain.Intent {
	if intent, ok := a.heuristicIntent(query); ok {
		return a.applyHints(query, intent)
	}
	if intent, ok := a.llmIntent(ctx, query); ok {
		return a.applyHints(query, intent)
	}
	return a.applyHints(query, a.defaultIntent(query))
}

func (a *IntentAnalyzer) heuristicIntent(query domain.Query) (domain.Intent, bool) {
	text := query.Text
	entities := a.lexicon.ResolveEntities(text)
	if len(entities) == 0 {
		entities = a.carryOverEntities(query.History)
	}
	periods := domain.ParsePeriods(text)
	category, categoryFound := classifyCategory(text)

	// Confidence requires a resolved entity or a recognized category;
	// otherwise the LLM stage gets a chance before the default.
	if len(entities) == 0 && !categoryFound {
		return domain.Intent{}, false
	}

	intent := domain.Intent{
		AnalysisCategory:    category,
		Topics:              a.matchTopics(text),
		Timeframe:           classifyTimeframe(text, periods),
		ContentType:         classifyContentType(text),
		EntityRefs:          entities,
		ExplicitPeriods:     periods,
		RequiresCalculation: requiresCalculation(text),
		Source:              domain.IntentSourceHeuristic,
	}
	return intent, true
}

// carryOverEntities scans recent user turns, newest first, so follow-up
// questions keep their subject.
func (a *IntentAnalyzer) carryOverEntities(history []domain.ChatTurn) []string {
	for i := len(history) - 1; i >= 0; i-- {
		if !strings.EqualFold(history[i].Role, "user") {
			continue
		}
		if entities := a.lexicon.ResolveEntities(history[i].Content); len(entities) > 0 {
			return entities
		}
	}
	return nil
}

type llmIntentPayload struct {
	AnalysisCategory    string   `json:"analysis_category"`
	Topics              []string `json:"topics"`
	Timeframe           string   `json:"timeframe"`
	ContentType         string   `json:"content_type"`
	Entities            []string `json:"entities"`
	RequiresCalculation bool     `json:"requires_calculation"`
}

const intentSystemPrompt = `You classify financial research questions. Respond with a single JSON object and nothing else:
{"analysis_category":"financial|guidance|comparison|technology|market|transcript","topics":["..."],"timeframe":"latest|recent|specific|range","content_type":"","entities":["TICKER"],"requires_calculation":false}`

func (a *IntentAnalyzer) llmIntent(ctx context.Context, query domain.Query) (domain.Intent, bool) {
	if a.llm == nil {
		return domain.Intent{}, false
	}

	result, err := a.llm.Complete(ctx, domain.CompletionRequest{
		System:      intentSystemPrompt,
		Messages:    []domain.ChatTurn{{Role: "user", Content: query.Text}},
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil {
		a.logger.Warn("intent llm stage failed, deferring", "error", err)
		return domain.Intent{}, false
	}

	payload, ok := decodeJSONObject[llmIntentPayload](result.Text)
	if !ok {
		a.logger.Warn("intent llm stage returned unparseable output, deferring")
		return domain.Intent{}, false
	}

	category := domain.AnalysisCategory(payload.AnalysisCategory)
	switch category {
	case domain.CategoryFinancial, domain.CategoryGuidance, domain.CategoryComparison,
		domain.CategoryTechnology, domain.CategoryMarket, domain.CategoryTranscript:
	default:
		return domain.Intent{}, false
	}

	var entities []string
	for _, raw := range payload.Entities {
		if ticker, ok := a.lexicon.Canonical(raw); ok {
			entities = append(entities, ticker)
		}
	}

	timeframe := domain.Timeframe(payload.Timeframe)
	switch timeframe {
	case domain.TimeframeLatest, domain.TimeframeRecent, domain.TimeframeSpecific, domain.TimeframeRange:
	default:
		timeframe = domain.TimeframeLatest
	}

	return domain.Intent{
		AnalysisCategory:    category,
		Topics:              payload.Topics,
		Timeframe:           timeframe,
		ContentType:         payload.ContentType,
		EntityRefs:          entities,
		ExplicitPeriods:     domain.ParsePeriods(query.Text),
		RequiresCalculation: payload.RequiresCalculation,
		Source:              domain.IntentSourceLLM,
	}, true
}

func (a *IntentAnalyzer) defaultIntent(query domain.Query) domain.Intent {
	periods := domain.ParsePeriods(query.Text)
	return domain.Intent{
		AnalysisCategory:    domain.CategoryFinancial,
		Timeframe:           classifyTimeframe(query.Text, periods),
		ExplicitPeriods:     periods,
		RequiresCalculation: requiresCalculation(query.Text),
		Source:              domain.IntentSourceDefault,
	}
}

func (a *IntentAnalyzer) applyHints(query domain.Query, intent domain.Intent) domain.Intent {
	if query.EntityHint != "" {
		if ticker, ok := a.lexicon.Canonical(query.EntityHint); ok && !containsString(intent.EntityRefs, ticker) {
			intent.EntityRefs = append([]string{ticker}, intent.EntityRefs...)
		}
	}
	if query.PeriodHint != nil && !query.PeriodHint.IsZero() {
		found := false
		for _, p := range intent.ExplicitPeriods {
			if p.Equal(*query.PeriodHint) {
				found = true
				break
			}
		}
		if !found {
			intent.ExplicitPeriods = append(intent.ExplicitPeriods, *query.PeriodHint)
		}
		if intent.Timeframe == domain.TimeframeLatest || intent.Timeframe == domain.TimeframeRecent {
			intent.Timeframe = domain.TimeframeSpecific
		}
	}
	return intent
}

func (a *IntentAnalyzer) matchTopics(text string) []string {
	var topics []string
	seen := make(map[string]struct{})
	lower := strings.ToLower(text)
	for _, token := range strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	}) {
		if _, dup := seen[token]; dup {
			continue
		}
		if a.lexicon.IsDomainTerm(token) {
			seen[token] = struct{}{}
			topics = append(topics, token)
		}
	}
	return topics
}

// SelectStrategy resolves the retrieval strategy. An explicit non-auto
// strategy on the query wins; otherwise shape heuristics, then an LLM pick,
// then the hybrid default.
func (a *IntentAnalyzer) SelectStrategy(ctx context.Context, query domain.Query, intent domain.Intent) domain.Strategy {
	if query.Strategy != "" && query.Strategy != domain.StrategyAuto && query.Strategy.Valid() {
		return query.Strategy
	}

	if strategy, ok := heuristicStrategy(query, intent); ok {
		return strategy
	}
	if strategy, ok := a.llmStrategy(ctx, query); ok {
		return strategy
	}
	return domain.StrategyHybridBM25
}

func heuristicStrategy(query domain.Query, intent domain.Intent) (domain.Strategy, bool) {
	if intent.IsComparison() {
		return domain.StrategyMultiQuery, true
	}
	if len(intent.Topics) >= 3 {
		return domain.StrategyMultiQuery, true
	}
	if len(intent.Topics) > 0 && (len(intent.ExplicitPeriods) > 0 || intent.Timeframe == domain.TimeframeSpecific) {
		return domain.StrategyHybridBM25, true
	}

	lower := strings.ToLower(query.Text)
	for _, phrase := range []string{"tell me about", "overview", "how is", "how are", "what is going on", "summarize"} {
		if strings.Contains(lower, phrase) {
			return domain.StrategyHypotheticalDoc, true
		}
	}
	if intent.AnalysisCategory == domain.CategoryTechnology || intent.AnalysisCategory == domain.CategoryMarket {
		if !intent.RequiresCalculation && len(intent.ExplicitPeriods) == 0 {
			return domain.StrategyDenseOnly, true
		}
	}
	return "", false
}

const strategySystemPrompt = `Pick the best retrieval strategy for the question. Respond with a single JSON object and nothing else:
{"strategy":"dense-only|hybrid-bm25|hypothetical-doc|multi-query"}`

func (a *IntentAnalyzer) llmStrategy(ctx context.Context, query domain.Query) (domain.Strategy, bool) {
	if a.llm == nil {
		return "", false
	}
	result, err := a.llm.Complete(ctx, domain.CompletionRequest{
		System:      strategySystemPrompt,
		Messages:    []domain.ChatTurn{{Role: "user", Content: query.Text}},
		MaxTokens:   50,
		Temperature: 0,
	})
	if err != nil {
		a.logger.Warn("strategy llm stage failed, deferring", "error", err)
		return "", false
	}
	payload, ok := decodeJSONObject[struct {
		Strategy string `json:"strategy"`
	}](result.Text)
	if !ok {
		return "", false
	}
	strategy := domain.Strategy(payload.Strategy)
	if strategy.Valid() && strategy != domain.StrategyAuto {
		return strategy, true
	}
	return "", false
}

func classifyTimeframe(text string, periods []domain.Period) domain.Timeframe {
	if len(periods) >= 2 {
		return domain.TimeframeRange
	}
	if len(periods) == 1 {
		return domain.TimeframeSpecific
	}
	lower := strings.ToLower(text)
	for _, phrase := range []string{"over the past", "over the last", "trend", "trajectory", "recent quarters", "recently", "past few"} {
		if strings.Contains(lower, phrase) {
			return domain.TimeframeRecent
		}
	}
	return domain.TimeframeLatest
}

var categoryKeywords = []struct {
	category domain.AnalysisCategory
	words    []string
}{
	{domain.CategoryComparison, []string{" vs ", " versus ", "compare", "compared", "peers", "relative to"}},
	{domain.CategoryGuidance, []string{"guidance", "outlook", "forecast", "expect", "expects", "next quarter", "next year"}},
	{domain.CategoryTranscript, []string{"transcript", "said on", "quote", "management said", "call", "remarks"}},
	{domain.CategoryFinancial, []string{"revenue", "margin", "eps", "earnings", "net income", "cash flow", "profit", "operating income", "buyback", "dividend"}},
	{domain.CategoryTechnology, []string{"ai ", " ai", "chip", "gpu", "cloud", "datacenter", "data center", "product", "technology", "platform"}},
	{domain.CategoryMarket, []string{"market", "demand", "competition", "competitive", "share", "macro", "pricing"}},
}

func classifyCategory(text string) (domain.AnalysisCategory, bool) {
	lower := " " + strings.ToLower(text) + " "
	for _, group := range categoryKeywords {
		for _, word := range group.words {
			if strings.Contains(lower, word) {
				return group.category, true
			}
		}
	}
	return domain.CategoryFinancial, false
}

func classifyContentType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "press release"):
		return domain.ContentTypePressRelease
	case strings.Contains(lower, "prepared remarks"):
		return domain.ContentTypePreparedRemarks
	case strings.Contains(lower, "q&a") || strings.Contains(lower, "analyst question"):
		return domain.ContentTypeQASession
	case strings.Contains(lower, "earnings call") || strings.Contains(lower, "transcript"):
		return domain.ContentTypeEarningsCall
	default:
		return ""
	}
}

func requiresCalculation(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range []string{"growth", "grew", "grow", "increase", "decrease", "decline", "change", "yoy", "year over year", "year-over-year", "qoq", "quarter over quarter", "cagr", "rate"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// decodeJSONObject extracts and decodes the first {...} block from raw LLM
// output, tolerating prose or code fences around it.
func decodeJSONObject[T any](text string) (T, bool) {
	var out T
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return out, false
	}
	return out, true
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
