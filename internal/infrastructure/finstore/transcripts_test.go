package finstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bme3412/clarity/internal/core/domain"
)

func writeTranscript(t *testing.T, root, ticker, fiscalYear, name, text string) {
	t.Helper()
	dir := filepath.Join(root, ticker, fiscalYear)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
}

func TestKeywordSearchRanksByOverlap(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "AAPL", "FY2024", "Q1_earnings_call.md",
		"Opening remarks about the holiday quarter.\n\nServices revenue set an all-time record driven by the installed base.")
	writeTranscript(t, root, "AAPL", "FY2024", "Q2_earnings_call.md",
		"Greater China commentary.\n\nWe will not discuss services here.")
	writeTranscript(t, root, "AAPL", "FY2023", "Q4_press_release.md",
		"Board declared a dividend.")

	store, err := NewTranscriptStore(root)
	if err != nil {
		t.Fatalf("new transcript store: %v", err)
	}

	items, err := store.KeywordSearch(context.Background(), "services revenue record", "AAPL", nil, 5)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(items) == 0 {
		t.Fatalf("expected matches")
	}
	top := items[0]
	if top.Period.String() != "Q1 FY2024" {
		t.Fatalf("expected Q1 FY2024 on top, got %s", top.Period)
	}
	if top.SourceKind != domain.SourceKeywordFallback {
		t.Fatalf("unexpected source kind %s", top.SourceKind)
	}
	if top.ContentType != "earnings_call" {
		t.Fatalf("unexpected content type %q", top.ContentType)
	}
	if top.Provenance != "AAPL/FY2024/Q1_earnings_call.md" {
		t.Fatalf("unexpected provenance %q", top.Provenance)
	}
	for _, item := range items {
		if item.Provenance == "AAPL/FY2023/Q4_press_release.md" {
			t.Fatalf("zero-overlap document should be dropped")
		}
	}
}

func TestKeywordSearchPeriodFilter(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "NVDA", "FY2025", "Q1_earnings_call.md", "Data center revenue grew sharply.")
	writeTranscript(t, root, "NVDA", "FY2024", "Q1_earnings_call.md", "Data center revenue grew as well.")

	store, err := NewTranscriptStore(root)
	if err != nil {
		t.Fatalf("new transcript store: %v", err)
	}

	items, err := store.KeywordSearch(context.Background(), "data center revenue",
		"NVDA", []domain.Period{domain.NewPeriod(2025, 1)}, 5)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected a single period-scoped match, got %d", len(items))
	}
	if items[0].Period.FiscalYear != "FY2025" {
		t.Fatalf("wrong period: %s", items[0].Period)
	}
}

func TestKeywordSearchEmptyQuery(t *testing.T) {
	store, err := NewTranscriptStore(t.TempDir())
	if err != nil {
		t.Fatalf("new transcript store: %v", err)
	}

	items, err := store.KeywordSearch(context.Background(), "   ", "AAPL", nil, 5)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if items != nil {
		t.Fatalf("expected nil result for empty query")
	}
}
