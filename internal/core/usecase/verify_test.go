package usecase

import (
	"strings"
	"testing"

	"github.com/bme3412/clarity/internal/core/domain"
)

func evidenceWith(texts ...string) []domain.EvidenceItem {
	items := make([]domain.EvidenceItem, len(texts))
	for i, text := range texts {
		items[i] = domain.EvidenceItem{ID: "e" + string(rune('0'+i)), Text: text}
	}
	return items
}

func TestVerifyMatchesAcrossScaleNotation(t *testing.T) {
	verifier := NewVerifier(0.05)

	// $6.8B in the answer against 6,800 million in the evidence must land
	// on the same normalized value.
	report := verifier.Verify(
		"Operating cash flow reached $6.8B in the quarter.",
		evidenceWith("The company generated 6,800 million in operating cash flow."),
	)
	if report.Status != domain.VerificationVerified {
		t.Fatalf("expected verified, got %+v", report)
	}
	if report.Matched != 1 || report.Unmatched != 0 {
		t.Fatalf("unexpected counts %+v", report)
	}
}

func TestVerifyToleranceBoundary(t *testing.T) {
	verifier := NewVerifier(0.05)

	// 6800 vs 7140 sits inside 5% of the larger value; 7160 is just past it.
	report := verifier.Verify(
		"Revenue was $7,140 million.",
		evidenceWith("Revenue came in at $6.8 billion."),
	)
	if report.Status != domain.VerificationVerified {
		t.Fatalf("expected boundary value to verify, got %+v", report)
	}

	report = verifier.Verify(
		"Revenue was $7,160 million.",
		evidenceWith("Revenue came in at $6.8 billion."),
	)
	if report.Status != domain.VerificationUnverified {
		t.Fatalf("expected value past tolerance to fail, got %+v", report)
	}
}

func TestVerifySkipsPercentagesYearsAndQuarterLabels(t *testing.T) {
	verifier := NewVerifier(0.05)

	report := verifier.Verify(
		"Gross margin was 46.2% in Q3 FY2024, up 120 basis points.",
		nil,
	)
	if report.Status != domain.VerificationNoNumbers {
		t.Fatalf("expected no currency claims, got %+v", report)
	}
}

func TestVerifyPartialAndPolicy(t *testing.T) {
	verifier := NewVerifier(0.05)

	answer := "Revenue was $94.9 billion and net income was $30 billion."
	report := verifier.Verify(
		answer,
		evidenceWith("Total revenue of $94,930 million.", "Net income of $23,636 million."),
	)
	if report.Status != domain.VerificationPartial {
		t.Fatalf("expected partial, got %+v", report)
	}
	if report.Matched != 1 || report.Unmatched != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if len(report.UnverifiedClaims) != 1 || !strings.Contains(report.UnverifiedClaims[0], "30") {
		t.Fatalf("expected the net income claim flagged, got %v", report.UnverifiedClaims)
	}

	if got := verifier.Apply(VerifyAdvisory, answer, report); got != answer {
		t.Fatalf("advisory must leave the answer untouched")
	}
	redacted := verifier.Apply(VerifyRedact, answer, report)
	if strings.Contains(redacted, "$30 billion") || !strings.Contains(redacted, "[unverified]") {
		t.Fatalf("redact must replace the unmatched figure, got %q", redacted)
	}
	if !strings.Contains(redacted, "$94.9 billion") {
		t.Fatalf("redact must keep matched figures, got %q", redacted)
	}
	if got := verifier.Apply(VerifyBlock, answer, report); got != notFoundStatement {
		t.Fatalf("block must replace the whole answer, got %q", got)
	}
}

func TestParseVerifyPolicyDefaultsToAdvisory(t *testing.T) {
	if got := ParseVerifyPolicy("REDACT"); got != VerifyRedact {
		t.Fatalf("got %q", got)
	}
	if got := ParseVerifyPolicy(""); got != VerifyAdvisory {
		t.Fatalf("got %q", got)
	}
	if got := ParseVerifyPolicy("nonsense"); got != VerifyAdvisory {
		t.Fatalf("got %q", got)
	}
}
