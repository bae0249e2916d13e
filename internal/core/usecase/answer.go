package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// PipelineObserver receives pipeline telemetry. The observability package
// provides the Prometheus-backed implementation; a nil observer disables
// recording.
type PipelineObserver interface {
	RecordAnswer(service, strategy, status string, evidenceItems int, duration time.Duration)
	RecordStage(service, stage string, duration time.Duration)
	RecordFallback(service, kind string)
	RecordSparseDegraded()
	RecordVerification(service, status string)
	RecordTokenUsage(service, model string, promptTokens, completionTokens int64)
}

type AnswerConfig struct {
	Service           string
	Model             string
	RRFK              int
	FanoutConcurrency int
	MaxEntities       int
	VerifyPolicy      VerifyPolicy
}

func (c AnswerConfig) normalize() AnswerConfig {
	out := c
	if out.Service == "" {
		out.Service = "api"
	}
	if out.RRFK <= 0 {
		out.RRFK = 60
	}
	if out.FanoutConcurrency < 2 {
		out.FanoutConcurrency = 2
	}
	if out.FanoutConcurrency > 5 {
		out.FanoutConcurrency = 5
	}
	if out.MaxEntities <= 0 {
		out.MaxEntities = 4
	}
	if out.VerifyPolicy == "" {
		out.VerifyPolicy = VerifyAdvisory
	}
	return out
}

// AnswerUseCase runs the grounded answering pipeline: intent, retrieval,
// fallbacks, generation, verification, audit. It implements
// ports.ResearchAnswerer for both buffered and streamed delivery.
type AnswerUseCase struct {
	intents     *IntentAnalyzer
	expander    *Expander
	retriever   *HybridRetriever
	embedder    ports.EmbeddingProvider
	engine      *MetricsEngine
	transcripts ports.TranscriptStore
	llm         ports.GenerationProvider
	prompts     *PromptBuilder
	verifier    *Verifier
	lexicon     ports.Lexicon
	graph       ports.EntityGraph
	audit       ports.AnswerAuditRepository
	observer    PipelineObserver
	logger      *slog.Logger
	clock       ports.Clock
	cfg         AnswerConfig
}

type AnswerDeps struct {
	Intents     *IntentAnalyzer
	Expander    *Expander
	Retriever   *HybridRetriever
	Embedder    ports.EmbeddingProvider
	Engine      *MetricsEngine
	Transcripts ports.TranscriptStore
	LLM         ports.GenerationProvider
	Prompts     *PromptBuilder
	Verifier    *Verifier
	Lexicon     ports.Lexicon
	Graph       ports.EntityGraph
	Audit       ports.AnswerAuditRepository
	Observer    PipelineObserver
	Logger      *slog.Logger
	Clock       ports.Clock
}

func NewAnswerUseCase(deps AnswerDeps, cfg AnswerConfig) *AnswerUseCase {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = NewVerifier(0)
	}
	return &AnswerUseCase{
		intents:     deps.Intents,
		expander:    deps.Expander,
		retriever:   deps.Retriever,
		embedder:    deps.Embedder,
		engine:      deps.Engine,
		transcripts: deps.Transcripts,
		llm:         deps.LLM,
		prompts:     deps.Prompts,
		verifier:    verifier,
		lexicon:     deps.Lexicon,
		graph:       deps.Graph,
		audit:       deps.Audit,
		observer:    deps.Observer,
		logger:      logger,
		clock:       clock,
		cfg:         cfg.normalize(),
	}
}

func (u *AnswerUseCase) Answer(ctx context.Context, query domain.Query) (*domain.GroundedAnswer, error) {
	return u.run(ctx, query, nil)
}

// AnswerStream runs the same pipeline and emits events in the order
// status* retrieval* content* citations metrics end. Streamed content is
// never retracted; the verification policy shapes only the final payload.
func (u *AnswerUseCase) AnswerStream(ctx context.Context, query domain.Query, emit func(domain.AnswerEvent)) error {
	_, err := u.run(ctx, query, emit)
	if err != nil && emit != nil {
		emit(domain.AnswerEvent{Type: domain.EventError, Error: err.Error()})
	}
	return err
}

func (u *AnswerUseCase) run(ctx context.Context, query domain.Query, emit func(domain.AnswerEvent)) (*domain.GroundedAnswer, error) {
	if query.Empty() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("empty question"))
	}
	start := u.clock()
	streaming := emit != nil
	send := func(event domain.AnswerEvent) {
		if streaming {
			emit(event)
		}
	}

	trace := domain.PipelineTrace{RequestID: uuid.NewString()}
	addStage := func(stage string, began time.Time, matches int, detail string) {
		elapsed := u.clock().Sub(began)
		trace.Stages = append(trace.Stages, domain.StageReport{
			Stage:     stage,
			LatencyMS: float64(elapsed.Microseconds()) / 1000,
			Matches:   matches,
			Detail:    detail,
		})
		if u.observer != nil {
			u.observer.RecordStage(u.cfg.Service, stage, elapsed)
		}
	}

	// Intent and strategy.
	send(domain.AnswerEvent{Type: domain.EventStatus, Status: "analyzing"})
	began := u.clock()
	intent := u.intents.Analyze(ctx, query)
	intent = u.expandPeers(ctx, intent)
	strategy := u.intents.SelectStrategy(ctx, query, intent)
	trace.Flags.IntentSource = intent.Source
	trace.Flags.Strategy = strategy
	trace.Flags.FiscalMismatch = u.fiscalMismatch(intent.EntityRefs)
	addStage("intent", began, len(intent.EntityRefs), string(intent.AnalysisCategory))

	// Narrative retrieval.
	send(domain.AnswerEvent{Type: domain.EventStatus, Status: "retrieving"})
	began = u.clock()
	// A dead index or embedder degrades to empty narrative evidence; the
	// structured and keyword fallbacks below can still ground an answer.
	narrative, err := u.retrieveNarrative(ctx, query, intent, strategy, &trace.Flags)
	if err != nil {
		u.logger.Warn("narrative retrieval failed",
			"request_id", trace.RequestID,
			"strategy", strategy,
			"error", err)
		trace.Flags.RetrievalDegraded = true
		narrative = nil
	}
	explicit := len(intent.ExplicitPeriods) > 0
	narrative = applyRecency(narrative, explicit, u.focusBoosts())
	addStage("narrative", began, len(narrative), string(strategy))
	send(domain.AnswerEvent{Type: domain.EventRetrieval, Stage: lastStage(trace.Stages)})

	// Structured metrics augment metric-flavored questions and backstop
	// empty narrative retrieval.
	if u.engine != nil && (u.metricFlavored(intent) || len(narrative) == 0) {
		began = u.clock()
		structured := u.structuredEvidence(ctx, intent)
		if len(structured) > 0 {
			trace.Flags.UsedMetricsFallback = true
			if u.observer != nil {
				u.observer.RecordFallback(u.cfg.Service, "metrics")
			}
			narrative = append(structured, narrative...)
			addStage("structured", began, len(structured), "")
			send(domain.AnswerEvent{Type: domain.EventRetrieval, Stage: lastStage(trace.Stages)})
		}
	}

	// Raw keyword search is the last resort when the index produced nothing
	// usable.
	if u.transcripts != nil && len(narrative) < 2 {
		began = u.clock()
		keyword, kwErr := u.transcripts.KeywordSearch(ctx, query.Text, intent.PrimaryEntity(), intent.ExplicitPeriods, 3)
		if kwErr != nil {
			u.logger.Warn("keyword fallback failed", "error", kwErr)
		} else if len(keyword) > 0 {
			trace.Flags.UsedKeywordFallback = true
			if u.observer != nil {
				u.observer.RecordFallback(u.cfg.Service, "keyword")
			}
			narrative = append(narrative, keyword...)
			addStage("keyword", began, len(keyword), "")
			send(domain.AnswerEvent{Type: domain.EventRetrieval, Stage: lastStage(trace.Stages)})
		}
	}

	// Generation.
	send(domain.AnswerEvent{Type: domain.EventStatus, Status: "generating"})
	began = u.clock()
	req, included := u.prompts.Build(query, narrative)
	citations := makeCitations(included)

	var text string
	if streaming {
		text, err = u.completeStream(ctx, req, &trace.Usage, send)
	} else {
		text, err = u.complete(ctx, req, &trace.Usage)
	}
	if err != nil {
		u.recordAnswer(strategy, "error", len(included), start)
		return nil, err
	}
	addStage("generation", began, len(included), "")

	// Verification.
	began = u.clock()
	trace.Verification = u.verifier.Verify(text, included)
	final := u.verifier.Apply(u.cfg.VerifyPolicy, text, trace.Verification)
	addStage("verification", began, trace.Verification.Matched, string(trace.Verification.Status))
	if u.observer != nil {
		u.observer.RecordVerification(u.cfg.Service, string(trace.Verification.Status))
		u.observer.RecordTokenUsage(u.cfg.Service, u.cfg.Model, trace.Usage.PromptTokens, trace.Usage.CompletionTokens)
	}

	trace.TotalLatencyMS = float64(u.clock().Sub(start).Microseconds()) / 1000
	answer := &domain.GroundedAnswer{Text: final, Citations: citations, Trace: trace}

	u.recordAnswer(strategy, "ok", len(included), start)
	u.writeAudit(ctx, query, intent, strategy, answer)

	send(domain.AnswerEvent{Type: domain.EventCitations, Citations: citations})
	send(domain.AnswerEvent{Type: domain.EventMetrics, Trace: &trace})
	send(domain.AnswerEvent{Type: domain.EventEnd})
	return answer, nil
}

// retrieveNarrative dispatches on strategy. Multi-query fans out variant
// retrievals concurrently and fuses them; one failed branch degrades to a
// partial fanout instead of failing the request.
func (u *AnswerUseCase) retrieveNarrative(ctx context.Context, query domain.Query, intent domain.Intent, strategy domain.Strategy, flags *domain.TraceFlags) ([]domain.EvidenceItem, error) {
	filter := buildFilter(intent)
	topK := query.TopK

	switch strategy {
	case domain.StrategyMultiQuery:
		variants, degraded := u.expander.Variants(ctx, query, intent)
		flags.ExpansionDegraded = flags.ExpansionDegraded || degraded
		sets, partial, err := u.fanout(ctx, variants, filter, topK)
		if err != nil {
			return nil, err
		}
		flags.PartialFanout = partial
		flags.SparseDegraded = u.retriever.SparseDegraded()
		return fuseRRF(sets, u.cfg.RRFK), nil

	case domain.StrategyHypotheticalDoc:
		embedText := query.Text
		if excerpt, degraded := u.expander.Hypothetical(ctx, query); degraded {
			flags.ExpansionDegraded = true
		} else {
			embedText = excerpt
		}
		return u.retrieveOne(ctx, embedText, RetrieveOptions{
			TextQuery: query.Text,
			Filter:    filter,
			TopK:      topK,
		}, flags)

	case domain.StrategyDenseOnly:
		return u.retrieveOne(ctx, query.Text, RetrieveOptions{
			TextQuery: query.Text,
			Filter:    filter,
			TopK:      topK,
			DenseOnly: true,
		}, flags)

	default: // hybrid-bm25
		return u.retrieveOne(ctx, query.Text, RetrieveOptions{
			TextQuery:  query.Text,
			Filter:     filter,
			TopK:       topK,
			Preprocess: true,
		}, flags)
	}
}

func (u *AnswerUseCase) retrieveOne(ctx context.Context, embedText string, opts RetrieveOptions, flags *domain.TraceFlags) ([]domain.EvidenceItem, error) {
	dense, err := u.embedder.EmbedQuery(ctx, embedText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	result, err := u.retriever.Retrieve(ctx, dense, opts)
	if err != nil {
		return nil, err
	}
	if result.SparseDegraded {
		flags.SparseDegraded = true
		if u.observer != nil {
			u.observer.RecordSparseDegraded()
		}
	}
	return result.Items, nil
}

func (u *AnswerUseCase) fanout(ctx context.Context, variants []string, filter domain.Predicate, topK int) ([][]domain.EvidenceItem, bool, error) {
	sets := make([][]domain.EvidenceItem, len(variants))
	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.FanoutConcurrency)
	for i, variant := range variants {
		g.Go(func() error {
			dense, err := u.embedder.EmbedQuery(gctx, variant)
			if err == nil {
				var result *RetrievalResult
				result, err = u.retriever.Retrieve(gctx, dense, RetrieveOptions{
					TextQuery:  variant,
					Filter:     filter,
					TopK:       topK,
					Preprocess: true,
				})
				if err == nil {
					sets[i] = result.Items
					return nil
				}
			}
			mu.Lock()
			failures = append(failures, fmt.Errorf("variant %d: %w", i, err))
			mu.Unlock()
			// Branch errors are collected, not propagated, so the other
			// variants keep running.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	if len(failures) == len(variants) {
		return nil, false, fmt.Errorf("multi-query fanout: %w", failures[0])
	}
	for _, failure := range failures {
		u.logger.Warn("fanout branch failed", "error", failure)
	}

	kept := make([][]domain.EvidenceItem, 0, len(sets))
	for _, set := range sets {
		if set != nil {
			kept = append(kept, set)
		}
	}
	return kept, len(failures) > 0, nil
}

// expandPeers fills in comparison peers from the entity graph when the user
// named only one company.
func (u *AnswerUseCase) expandPeers(ctx context.Context, intent domain.Intent) domain.Intent {
	if u.graph == nil || intent.AnalysisCategory != domain.CategoryComparison || len(intent.EntityRefs) != 1 {
		return intent
	}
	peers, err := u.graph.Peers(ctx, intent.PrimaryEntity())
	if err != nil {
		u.logger.Warn("peer expansion failed", "ticker", intent.PrimaryEntity(), "error", err)
		return intent
	}
	for _, peer := range peers {
		if len(intent.EntityRefs) >= u.cfg.MaxEntities {
			break
		}
		if !containsString(intent.EntityRefs, peer) {
			intent.EntityRefs = append(intent.EntityRefs, peer)
		}
	}
	return intent
}

func (u *AnswerUseCase) metricFlavored(intent domain.Intent) bool {
	return intent.RequiresCalculation ||
		intent.AnalysisCategory == domain.CategoryFinancial ||
		intent.AnalysisCategory == domain.CategoryGuidance
}

// structuredEvidence resolves canonical metric records per entity and
// renders them as high-priority evidence items. Explicit periods win; a
// bare metric question gets each entity's own latest quarter.
func (u *AnswerUseCase) structuredEvidence(ctx context.Context, intent domain.Intent) []domain.EvidenceItem {
	entities := intent.EntityRefs
	if len(entities) > u.cfg.MaxEntities {
		entities = entities[:u.cfg.MaxEntities]
	}

	var out []domain.EvidenceItem
	for _, entity := range entities {
		var records []domain.MetricsRecord
		if len(intent.ExplicitPeriods) > 0 {
			resolved, err := u.engine.Quarters(ctx, entity, intent.ExplicitPeriods)
			if err != nil {
				u.logger.Warn("structured lookup failed", "ticker", entity, "error", err)
				continue
			}
			records = resolved
		} else {
			record, err := u.engine.Latest(ctx, entity)
			if err != nil {
				u.logger.Warn("structured lookup failed", "ticker", entity, "error", err)
				continue
			}
			if record != nil {
				records = []domain.MetricsRecord{*record}
			}
		}

		for _, record := range records {
			if record.Empty() {
				continue
			}
			out = append(out, domain.EvidenceItem{
				ID:          "metrics:" + record.Entity + ":" + record.Period.String(),
				Score:       1.0,
				SourceKind:  domain.SourceStructured,
				Entity:      record.Entity,
				Period:      record.Period,
				ContentType: "financial_metrics",
				Text:        renderRecord(record),
				Provenance:  record.Source,
			})
		}

		// Two explicit periods on a calculation question get the growth
		// figure computed server-side, never left to the model. The earlier
		// period is always the base regardless of mention order.
		if intent.RequiresCalculation && len(intent.ExplicitPeriods) == 2 {
			base, comparison := intent.ExplicitPeriods[0], intent.ExplicitPeriods[1]
			if base.Index() > comparison.Index() {
				base, comparison = comparison, base
			}
			for _, metric := range metricsFromTopics(intent.Topics) {
				growth, err := u.engine.GrowthRate(ctx, entity, metric, base, comparison)
				if err != nil || growth == nil {
					continue
				}
				out = append(out, domain.EvidenceItem{
					ID:          "growth:" + entity + ":" + string(metric),
					Score:       1.0,
					SourceKind:  domain.SourceStructured,
					Entity:      entity,
					Period:      growth.ComparisonPeriod,
					ContentType: "growth_rate",
					Text: fmt.Sprintf("%s %s changed %.1f%% (%s) from %s to %s.",
						entity, metric, growth.Value, growth.Direction,
						growth.BasePeriod, growth.ComparisonPeriod),
				})
			}
		}
	}
	return out
}

func renderRecord(record domain.MetricsRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s reported metrics:", record.Entity, record.Period)
	for _, metric := range domain.KnownMetrics() {
		value, ok := record.Value(metric)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, " %s %s;", metric, formatMetricValue(value))
	}
	if len(record.Segments) > 0 {
		b.WriteString(" segments:")
		names := make([]string, 0, len(record.Segments))
		for name := range record.Segments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, " %s %s;", name, formatMetricValue(record.Segments[name]))
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}

// formatMetricValue renders values in the same notation answers use, so
// the verifier recognizes structured figures as references.
func formatMetricValue(value domain.MetricValue) string {
	switch value.Unit {
	case domain.UnitUSDMillions:
		return "$" + formatNumber(value.Value) + " million"
	case domain.UnitUSD:
		return "$" + formatNumber(value.Value)
	case domain.UnitPercent:
		return formatNumber(value.Value) + "%"
	default:
		return formatNumber(value.Value) + " " + value.Unit
	}
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

var topicMetricAliases = []struct {
	substr string
	metric domain.MetricName
}{
	{"gross margin", domain.MetricGrossMargin},
	{"operating margin", domain.MetricOperatingMargin},
	{"net income", domain.MetricNetIncome},
	{"eps", domain.MetricDilutedEPS},
	{"earnings per share", domain.MetricDilutedEPS},
	{"free cash flow", domain.MetricFreeCashFlow},
	{"operating cash flow", domain.MetricOperatingCashFlow},
	{"cash flow", domain.MetricOperatingCashFlow},
	{"revenue", domain.MetricRevenue},
	{"sales", domain.MetricRevenue},
}

func metricsFromTopics(topics []string) []domain.MetricName {
	var out []domain.MetricName
	seen := make(map[domain.MetricName]struct{})
	for _, topic := range topics {
		lower := strings.ToLower(topic)
		for _, alias := range topicMetricAliases {
			if strings.Contains(lower, alias.substr) {
				if _, dup := seen[alias.metric]; !dup {
					seen[alias.metric] = struct{}{}
					out = append(out, alias.metric)
				}
				break
			}
		}
	}
	if len(out) == 0 {
		out = append(out, domain.MetricRevenue)
	}
	return out
}

// buildFilter compiles the intent into an index predicate: entities OR-ed,
// periods OR-ed, the groups AND-ed.
func buildFilter(intent domain.Intent) domain.Predicate {
	var entityPreds []domain.Predicate
	for _, ticker := range intent.EntityRefs {
		entityPreds = append(entityPreds, domain.Eq(domain.FilterFieldEntity, ticker))
	}

	var periodPreds []domain.Predicate
	for _, period := range intent.ExplicitPeriods {
		yearPred := domain.Eq(domain.FilterFieldFiscalYear, period.FiscalYear)
		if period.Quarter == "" {
			periodPreds = append(periodPreds, yearPred)
			continue
		}
		periodPreds = append(periodPreds, domain.And(yearPred, domain.Eq(domain.FilterFieldQuarter, period.Quarter)))
	}

	var contentPred domain.Predicate
	if intent.ContentType != "" {
		contentPred = domain.Eq(domain.FilterFieldContentType, intent.ContentType)
	}

	return domain.And(domain.Or(entityPreds...), domain.Or(periodPreds...), contentPred)
}

func (u *AnswerUseCase) fiscalMismatch(tickers []string) bool {
	if u.lexicon == nil || len(tickers) < 2 {
		return false
	}
	first := 0
	for _, ticker := range tickers {
		month, ok := u.lexicon.FiscalYearEndMonth(ticker)
		if !ok {
			continue
		}
		if first == 0 {
			first = month
			continue
		}
		if month != first {
			return true
		}
	}
	return false
}

func (u *AnswerUseCase) focusBoosts() func(string) map[string]float64 {
	if u.lexicon == nil {
		return nil
	}
	return u.lexicon.FocusBoosts
}

func (u *AnswerUseCase) complete(ctx context.Context, req domain.CompletionRequest, usage *domain.TokenUsage) (string, error) {
	result, err := u.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	*usage = result.Usage
	return result.Text, nil
}

func (u *AnswerUseCase) completeStream(ctx context.Context, req domain.CompletionRequest, usage *domain.TokenUsage, send func(domain.AnswerEvent)) (string, error) {
	deltas, err := u.llm.CompleteStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	var text strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			return "", fmt.Errorf("generate stream: %w", delta.Err)
		}
		if delta.Content != "" {
			text.WriteString(delta.Content)
			send(domain.AnswerEvent{Type: domain.EventContent, Delta: delta.Content})
		}
		if delta.Usage != nil {
			*usage = *delta.Usage
		}
		if delta.Done {
			break
		}
	}
	return text.String(), nil
}

func (u *AnswerUseCase) recordAnswer(strategy domain.Strategy, status string, evidence int, start time.Time) {
	if u.observer == nil {
		return
	}
	u.observer.RecordAnswer(u.cfg.Service, string(strategy), status, evidence, u.clock().Sub(start))
}

// writeAudit persists the answer trail best-effort; audit failures never
// fail the request.
func (u *AnswerUseCase) writeAudit(ctx context.Context, query domain.Query, intent domain.Intent, strategy domain.Strategy, answer *domain.GroundedAnswer) {
	if u.audit == nil {
		return
	}
	record := &domain.AuditRecord{
		ID:           answer.Trace.RequestID,
		Question:     query.Text,
		Strategy:     strategy,
		Intent:       intent,
		Answer:       answer.Text,
		Citations:    answer.Citations,
		Verification: answer.Trace.Verification,
		LatencyMS:    answer.Trace.TotalLatencyMS,
		CreatedAt:    u.clock().UTC(),
	}
	if err := u.audit.Insert(ctx, record); err != nil {
		u.logger.Warn("audit insert failed", "request_id", record.ID, "error", err)
	}
}

func lastStage(stages []domain.StageReport) *domain.StageReport {
	if len(stages) == 0 {
		return nil
	}
	return &stages[len(stages)-1]
}
