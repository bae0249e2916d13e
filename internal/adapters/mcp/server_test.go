package mcpadapter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bme3412/clarity/internal/core/domain"
)

type fakeTools struct {
	record *domain.MetricsRecord
	growth *domain.GrowthRate
}

func (f *fakeTools) FinancialMetrics(_ context.Context, entity string, _ domain.Period) (*domain.MetricsRecord, error) {
	if f.record != nil && f.record.Entity == strings.ToUpper(entity) {
		return f.record, nil
	}
	return nil, nil
}

func (f *fakeTools) MultiQuarterMetrics(context.Context, string, int) ([]domain.MetricsRecord, error) {
	return nil, nil
}

func (f *fakeTools) GrowthRate(context.Context, string, domain.MetricName, domain.Period, domain.Period) (*domain.GrowthRate, error) {
	return f.growth, nil
}

func (f *fakeTools) SearchTranscripts(context.Context, string, string, domain.Period, int) ([]domain.EvidenceItem, error) {
	return nil, nil
}

func (f *fakeTools) AvailableData(context.Context, string) ([]domain.EntityCoverage, error) {
	return nil, nil
}

type fakeAnswerer struct {
	answer *domain.GroundedAnswer
	query  domain.Query
}

func (f *fakeAnswerer) Answer(_ context.Context, query domain.Query) (*domain.GroundedAnswer, error) {
	f.query = query
	return f.answer, nil
}

func (f *fakeAnswerer) AnswerStream(_ context.Context, query domain.Query, emit func(domain.AnswerEvent)) error {
	f.query = query
	emit(domain.AnswerEvent{Type: domain.EventEnd})
	return nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatalf("empty tool result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestFinancialMetricsHandlerReturnsRecordJSON(t *testing.T) {
	tools := &fakeTools{record: &domain.MetricsRecord{
		Entity: "AAPL",
		Period: domain.NewPeriod(2024, 3),
		Metrics: map[domain.MetricName]domain.MetricValue{
			domain.MetricRevenue: {Value: 85777, Unit: domain.UnitUSDMillions},
		},
	}}
	srv := NewServer(tools, &fakeAnswerer{}, nil, "test")

	result, err := srv.handleFinancialMetrics(context.Background(), callRequest(map[string]any{
		"entity": "aapl",
		"period": "Q3 FY2024",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}

	var record domain.MetricsRecord
	if err := json.Unmarshal([]byte(resultText(t, result)), &record); err != nil {
		t.Fatalf("result is not record JSON: %v", err)
	}
	if record.Entity != "AAPL" || record.Period.FiscalYear != "FY2024" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestFinancialMetricsHandlerRejectsBadArguments(t *testing.T) {
	srv := NewServer(&fakeTools{}, &fakeAnswerer{}, nil, "test")

	result, err := srv.handleFinancialMetrics(context.Background(), callRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("missing entity must produce a tool error")
	}

	result, err = srv.handleFinancialMetrics(context.Background(), callRequest(map[string]any{
		"entity": "AAPL",
		"period": "next tuesday",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("unparseable period must produce a tool error")
	}
}

func TestGrowthRateHandlerValidatesMetricAndPeriods(t *testing.T) {
	srv := NewServer(&fakeTools{}, &fakeAnswerer{}, nil, "test")

	result, err := srv.handleGrowthRate(context.Background(), callRequest(map[string]any{
		"entity":            "AAPL",
		"metric":            "vibes",
		"base_period":       "Q1 FY2024",
		"comparison_period": "Q1 FY2025",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "vibes") {
		t.Fatalf("unknown metric must name the offender, got %q", resultText(t, result))
	}

	result, err = srv.handleGrowthRate(context.Background(), callRequest(map[string]any{
		"entity":            "AAPL",
		"metric":            "revenue",
		"comparison_period": "Q1 FY2025",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("missing base_period must produce a tool error")
	}

	// Nil growth is a no-result message, not an error.
	result, err = srv.handleGrowthRate(context.Background(), callRequest(map[string]any{
		"entity":            "AAPL",
		"metric":            "revenue",
		"base_period":       "Q1 FY2024",
		"comparison_period": "Q1 FY2025",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError || !strings.Contains(resultText(t, result), "No result") {
		t.Fatalf("nil growth expected no-result text, got %q", resultText(t, result))
	}
}

func TestAskHandlerPassesStrategyThrough(t *testing.T) {
	answers := &fakeAnswerer{answer: &domain.GroundedAnswer{Text: "Revenue grew."}}
	srv := NewServer(&fakeTools{}, answers, nil, "test")

	result, err := srv.handleAsk(context.Background(), callRequest(map[string]any{
		"question": "How did Apple do?",
		"strategy": "dense-only",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	if answers.query.Strategy != domain.StrategyDenseOnly {
		t.Fatalf("strategy not forwarded, got %q", answers.query.Strategy)
	}

	result, err = srv.handleAsk(context.Background(), callRequest(map[string]any{
		"question": "q",
		"strategy": "psychic",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("unknown strategy must produce a tool error")
	}
}
