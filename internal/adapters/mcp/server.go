package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// Server exposes the research tools and the grounded answering pipeline to
// MCP clients over stdio. Every tool returns JSON text content; missing data
// is an empty result, not a protocol error.
type Server struct {
	mcp     *server.MCPServer
	tools   ports.ResearchTools
	answers ports.ResearchAnswerer
	logger  *slog.Logger
}

func NewServer(tools ports.ResearchTools, answers ports.ResearchAnswerer, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp: server.NewMCPServer(
			"clarity-research",
			version,
			server.WithToolCapabilities(false),
			server.WithInstructions("Grounded financial research over ingested filings: structured quarterly metrics, transcript search, and cited question answering."),
		),
		tools:   tools,
		answers: answers,
		logger:  logger,
	}
	s.register()
	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool("get_financial_metrics",
		mcp.WithDescription("Canonical financial metrics for one company and fiscal quarter. Omit period for the company's latest available quarter."),
		mcp.WithString("entity", mcp.Required(), mcp.Description("Company ticker, e.g. AAPL")),
		mcp.WithString("period", mcp.Description("Fiscal period like 'Q3 FY2024' or 'FY2024'")),
	), s.handleFinancialMetrics)

	s.mcp.AddTool(mcp.NewTool("get_multi_quarter_metrics",
		mcp.WithDescription("Metrics across the most recent quarters for one company, oldest first."),
		mcp.WithString("entity", mcp.Required(), mcp.Description("Company ticker")),
		mcp.WithNumber("quarters", mcp.Description("How many quarters, default 4, max 12")),
	), s.handleMultiQuarter)

	s.mcp.AddTool(mcp.NewTool("compute_growth_rate",
		mcp.WithDescription("Percentage change of one metric between two fiscal periods. Returns no result when either period lacks data."),
		mcp.WithString("entity", mcp.Required(), mcp.Description("Company ticker")),
		mcp.WithString("metric", mcp.Required(), mcp.Description("One of: revenue, gross_margin, operating_margin, net_income, eps_diluted, operating_cash_flow, free_cash_flow")),
		mcp.WithString("base_period", mcp.Required(), mcp.Description("Earlier fiscal period, e.g. 'Q1 FY2024'")),
		mcp.WithString("comparison_period", mcp.Required(), mcp.Description("Later fiscal period, e.g. 'Q1 FY2025'")),
	), s.handleGrowthRate)

	s.mcp.AddTool(mcp.NewTool("search_earnings_transcript",
		mcp.WithDescription("Keyword search over stored earnings-call transcripts and related narrative documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithString("entity", mcp.Description("Optional ticker to scope the search")),
		mcp.WithString("period", mcp.Description("Optional fiscal period")),
		mcp.WithNumber("top_k", mcp.Description("Max results, default 3")),
	), s.handleSearchTranscripts)

	s.mcp.AddTool(mcp.NewTool("list_available_data",
		mcp.WithDescription("Which companies and fiscal quarters have stored data. Scope with entity, or omit it to list everything."),
		mcp.WithString("entity", mcp.Description("Optional ticker")),
	), s.handleAvailableData)

	s.mcp.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Full grounded question answering: retrieval, generation, citations, and numeric verification."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The research question")),
		mcp.WithString("strategy", mcp.Description("Optional retrieval strategy: auto, dense-only, hybrid-bm25, hypothetical-doc, multi-query")),
	), s.handleAsk)
}

func (s *Server) handleFinancialMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := req.RequireString("entity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	period, ok := parsePeriodArg(req.GetString("period", ""))
	if !ok {
		return mcp.NewToolResultError("unparseable period"), nil
	}

	record, err := s.tools.FinancialMetrics(ctx, entity, period)
	if err != nil {
		return s.toolError("get_financial_metrics", err), nil
	}
	if record == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No stored metrics for %s.", strings.ToUpper(entity))), nil
	}
	return jsonResult(record)
}

func (s *Server) handleMultiQuarter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := req.RequireString("entity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records, err := s.tools.MultiQuarterMetrics(ctx, entity, req.GetInt("quarters", 4))
	if err != nil {
		return s.toolError("get_multi_quarter_metrics", err), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No stored metrics for %s.", strings.ToUpper(entity))), nil
	}
	return jsonResult(records)
}

func (s *Server) handleGrowthRate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entity, err := req.RequireString("entity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	metricName, err := req.RequireString("metric")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	metric, ok := canonicalMetric(metricName)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown metric %q", metricName)), nil
	}
	base, ok := parsePeriodArg(req.GetString("base_period", ""))
	if !ok || base.IsZero() {
		return mcp.NewToolResultError("base_period is required"), nil
	}
	comparison, ok := parsePeriodArg(req.GetString("comparison_period", ""))
	if !ok || comparison.IsZero() {
		return mcp.NewToolResultError("comparison_period is required"), nil
	}

	growth, err := s.tools.GrowthRate(ctx, entity, metric, base, comparison)
	if err != nil {
		return s.toolError("compute_growth_rate", err), nil
	}
	if growth == nil {
		return mcp.NewToolResultText("No result: one of the periods has no stored value for this metric, or the base value is zero."), nil
	}
	return jsonResult(growth)
}

func (s *Server) handleSearchTranscripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	period, ok := parsePeriodArg(req.GetString("period", ""))
	if !ok {
		return mcp.NewToolResultError("unparseable period"), nil
	}

	items, err := s.tools.SearchTranscripts(ctx, query, req.GetString("entity", ""), period, req.GetInt("top_k", 3))
	if err != nil {
		return s.toolError("search_earnings_transcript", err), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("No matching transcript passages."), nil
	}
	return jsonResult(items)
}

func (s *Server) handleAvailableData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	coverage, err := s.tools.AvailableData(ctx, req.GetString("entity", ""))
	if err != nil {
		return s.toolError("list_available_data", err), nil
	}
	if len(coverage) == 0 {
		return mcp.NewToolResultText("No stored data."), nil
	}
	return jsonResult(coverage)
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	strategy := domain.Strategy(req.GetString("strategy", string(domain.StrategyAuto)))
	if !strategy.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown strategy %q", strategy)), nil
	}

	answer, err := s.answers.Answer(ctx, domain.Query{Text: question, Strategy: strategy})
	if err != nil {
		return s.toolError("ask", err), nil
	}
	return jsonResult(answer)
}

func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("tool call failed", "tool", tool, "error", err)
	if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrNotFound) {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError("internal error")
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// parsePeriodArg accepts an empty string as a zero period; a non-empty
// string must parse.
func parsePeriodArg(raw string) (domain.Period, bool) {
	if strings.TrimSpace(raw) == "" {
		return domain.Period{}, true
	}
	periods := domain.ParsePeriods(raw)
	if len(periods) == 0 {
		return domain.Period{}, false
	}
	return periods[0], true
}

func canonicalMetric(name string) (domain.MetricName, bool) {
	candidate := domain.MetricName(strings.ToLower(strings.TrimSpace(name)))
	for _, metric := range domain.KnownMetrics() {
		if metric == candidate {
			return metric, true
		}
	}
	return "", false
}
