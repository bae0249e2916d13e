package milvus

import (
	"fmt"
	"testing"

	"github.com/bme3412/clarity/internal/core/domain"
)

func TestCompileFilterNilMatchesAll(t *testing.T) {
	if expr := CompileFilter(nil); expr != "" {
		t.Fatalf("expected empty expression, got %q", expr)
	}
}

func TestCompileFilterEq(t *testing.T) {
	expr := CompileFilter(domain.Eq(domain.FilterFieldEntity, "AAPL"))
	if expr != `ticker == "AAPL"` {
		t.Fatalf("unexpected expression: %q", expr)
	}
}

func TestCompileFilterConjunction(t *testing.T) {
	expr := CompileFilter(domain.And(
		domain.Eq(domain.FilterFieldEntity, "NVDA"),
		domain.Eq(domain.FilterFieldFiscalYear, "FY2025"),
		domain.Eq(domain.FilterFieldQuarter, "Q2"),
	))
	want := `(ticker == "NVDA" && fiscal_year == "FY2025" && fiscal_quarter == "Q2")`
	if expr != want {
		t.Fatalf("expression mismatch:\n got %q\nwant %q", expr, want)
	}
}

func TestCompileFilterDisjunctionOfPeriods(t *testing.T) {
	expr := CompileFilter(domain.And(
		domain.Eq(domain.FilterFieldEntity, "MSFT"),
		domain.Or(
			domain.And(domain.Eq(domain.FilterFieldFiscalYear, "FY2024"), domain.Eq(domain.FilterFieldQuarter, "Q4")),
			domain.And(domain.Eq(domain.FilterFieldFiscalYear, "FY2025"), domain.Eq(domain.FilterFieldQuarter, "Q1")),
		),
	))
	want := `(ticker == "MSFT" && ((fiscal_year == "FY2024" && fiscal_quarter == "Q4") || (fiscal_year == "FY2025" && fiscal_quarter == "Q1")))`
	if expr != want {
		t.Fatalf("expression mismatch:\n got %q\nwant %q", expr, want)
	}
}

func TestCompileFilterEscapesQuotes(t *testing.T) {
	expr := CompileFilter(domain.Eq(domain.FilterFieldContentType, `press"release`))
	want := `content_type == "press\"release"`
	if expr != want {
		t.Fatalf("expression mismatch:\n got %q\nwant %q", expr, want)
	}
}

func TestCompileFilterSingleClauseUnwrapped(t *testing.T) {
	expr := CompileFilter(domain.And(domain.Eq(domain.FilterFieldEntity, "ORCL"), nil))
	if expr != `ticker == "ORCL"` {
		t.Fatalf("unexpected expression: %q", expr)
	}
}

func TestSparseUnsupportedDetection(t *testing.T) {
	err := fmt.Errorf("hybrid search: %w", errSparseRejected{})
	if !isSparseUnsupported(err) {
		t.Fatalf("expected sparse rejection to be recognized")
	}
}

// A transient failure that merely mentions the sparse field must not be
// treated as a capability rejection.
func TestSparseUnsupportedIgnoresTransientErrors(t *testing.T) {
	transient := []error{
		fmt.Errorf("hybrid search: connection reset while loading sparse segment"),
		fmt.Errorf("hybrid search: timeout waiting for sparse index node"),
		fmt.Errorf("hybrid search: rate limit exceeded"),
	}
	for _, err := range transient {
		if isSparseUnsupported(err) {
			t.Fatalf("transient error misread as capability rejection: %v", err)
		}
	}
}

type errSparseRejected struct{}

func (errSparseRejected) Error() string {
	return "data type SparseFloatVector is not supported by this index"
}
