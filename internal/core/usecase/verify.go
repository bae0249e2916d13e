package usecase

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
)

// VerifyPolicy controls what happens to a final answer whose numbers are
// not supported by the evidence. Streamed text is never retracted; the
// policy applies to the final payload and trace only.
type VerifyPolicy string

const (
	VerifyAdvisory VerifyPolicy = "advisory"
	VerifyRedact   VerifyPolicy = "redact"
	VerifyBlock    VerifyPolicy = "block"
)

func ParseVerifyPolicy(raw string) VerifyPolicy {
	switch VerifyPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case VerifyRedact:
		return VerifyRedact
	case VerifyBlock:
		return VerifyBlock
	default:
		return VerifyAdvisory
	}
}

const notFoundStatement = "The requested figures were not found in the provided sources."

// Verifier cross-checks currency amounts in a generated answer against the
// evidence the answer was grounded on. Percentages, fiscal years, and
// quarter labels are out of scope; only currency magnitudes are compared.
type Verifier struct {
	tolerance float64
}

func NewVerifier(tolerance float64) *Verifier {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	return &Verifier{tolerance: tolerance}
}

func (v *Verifier) Verify(answer string, evidence []domain.EvidenceItem) domain.VerificationReport {
	claims := extractAmounts(answer)
	report := domain.VerificationReport{Tolerance: v.tolerance}
	if len(claims) == 0 {
		report.Status = domain.VerificationNoNumbers
		return report
	}

	var reference []numericClaim
	for _, item := range evidence {
		reference = append(reference, extractAmounts(item.Text)...)
	}

	for _, claim := range claims {
		if v.matches(claim.value, reference) {
			report.Matched++
			continue
		}
		report.Unmatched++
		report.UnverifiedClaims = append(report.UnverifiedClaims, claim.text)
	}

	switch {
	case report.Unmatched == 0:
		report.Status = domain.VerificationVerified
	case report.Matched > 0:
		report.Status = domain.VerificationPartial
	default:
		report.Status = domain.VerificationUnverified
	}
	return report
}

func (v *Verifier) matches(value float64, reference []numericClaim) bool {
	for _, ref := range reference {
		if withinTolerance(value, ref.value, v.tolerance) {
			return true
		}
	}
	return false
}

// Apply enforces the policy on the final answer text.
func (v *Verifier) Apply(policy VerifyPolicy, answer string, report domain.VerificationReport) string {
	if report.Unmatched == 0 {
		return answer
	}
	switch policy {
	case VerifyRedact:
		for _, claim := range report.UnverifiedClaims {
			answer = strings.ReplaceAll(answer, claim, "[unverified]")
		}
		return answer
	case VerifyBlock:
		return notFoundStatement
	default:
		return answer
	}
}

func withinTolerance(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	largest := math.Max(math.Abs(a), math.Abs(b))
	if largest == 0 {
		return true
	}
	return math.Abs(a-b)/largest <= tolerance
}

type numericClaim struct {
	text  string
	value float64 // normalized to millions
}

var amountPattern = regexp.MustCompile(`(?i)(\$)?\s?(\d[\d,]*(?:\.\d+)?)\s*(trillion|billion|million|tn|bn|mm|[tbm])?\b`)

// extractAmounts finds currency amounts and normalizes them to millions.
// A match needs a dollar sign or a scale word; bare numbers, percentages,
// fiscal years, and quarter labels are skipped.
func extractAmounts(text string) []numericClaim {
	var out []numericClaim
	for _, m := range amountPattern.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[0]:m[1]]
		hasDollar := m[2] >= 0
		number := text[m[4]:m[5]]
		scale := ""
		if m[6] >= 0 {
			scale = strings.ToLower(text[m[6]:m[7]])
		}

		if !hasDollar && scale == "" {
			continue
		}
		// Percentages are handled by tolerance on the underlying values,
		// not as standalone claims.
		if rest := text[m[1]:]; strings.HasPrefix(rest, "%") || strings.HasPrefix(strings.TrimLeft(rest, " "), "percent") {
			continue
		}
		// Quarter and fiscal-year labels (Q1, FY2024, CY2024).
		if m[0] > 0 {
			prev := text[m[0]-1]
			if prev == 'Q' || prev == 'q' || prev == 'Y' || prev == 'y' {
				continue
			}
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", ""), 64)
		if err != nil {
			continue
		}
		switch scale {
		case "t", "tn", "trillion":
			value *= 1e6
		case "b", "bn", "billion":
			value *= 1e3
		case "m", "mm", "million":
			// already millions
		}
		out = append(out, numericClaim{text: strings.TrimSpace(full), value: value})
	}
	return out
}
