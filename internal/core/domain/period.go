package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Period is always a fiscal period. Companies map calendar time to fiscal
// periods differently, so periods from different entities must not be
// compared without checking fiscal calendars first.
type Period struct {
	FiscalYear string `json:"fiscal_year"`       // "FY2024"
	Quarter    string `json:"quarter,omitempty"` // "Q1".."Q4", empty for full year
}

func NewPeriod(year, quarter int) Period {
	p := Period{FiscalYear: fmt.Sprintf("FY%d", year)}
	if quarter >= 1 && quarter <= 4 {
		p.Quarter = fmt.Sprintf("Q%d", quarter)
	}
	return p
}

func (p Period) IsZero() bool {
	return p.FiscalYear == "" && p.Quarter == ""
}

func (p Period) String() string {
	if p.Quarter == "" {
		return p.FiscalYear
	}
	return p.Quarter + " " + p.FiscalYear
}

// Year returns the numeric fiscal year, 0 when unparseable.
func (p Period) Year() int {
	digits := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(p.FiscalYear)), "FY")
	year, err := strconv.Atoi(strings.TrimSpace(digits))
	if err != nil {
		return 0
	}
	return year
}

// QuarterNum returns 1..4, or 0 when the period has no quarter.
func (p Period) QuarterNum() int {
	q := strings.ToUpper(strings.TrimSpace(p.Quarter))
	if len(q) != 2 || q[0] != 'Q' {
		return 0
	}
	n := int(q[1] - '0')
	if n < 1 || n > 4 {
		return 0
	}
	return n
}

// Index maps the period onto a monotonic quarter axis for age arithmetic.
// Full-year periods count as their closing quarter.
func (p Period) Index() int {
	year := p.Year()
	if year == 0 {
		return 0
	}
	q := p.QuarterNum()
	if q == 0 {
		q = 4
	}
	return year*4 + q - 1
}

func (p Period) Equal(other Period) bool {
	return p.Year() == other.Year() && p.QuarterNum() == other.QuarterNum()
}

var (
	quarterFirstPattern = regexp.MustCompile(`(?i)\bQ([1-4])\s*(?:FY\s*)?((?:19|20)\d{2})\b`)
	yearFirstPattern    = regexp.MustCompile(`(?i)\b(?:FY\s*)?((?:19|20)\d{2})\s*Q([1-4])\b`)
	fiscalYearPattern   = regexp.MustCompile(`(?i)\b(?:FY\s*|fiscal\s+(?:year\s+)?)((?:19|20)\d{2})\b`)
)

// ParsePeriods extracts explicit fiscal periods from free text, quarter
// mentions first, then bare fiscal years, in order of appearance and without
// duplicates.
func ParsePeriods(text string) []Period {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Period
	seen := make(map[string]struct{})
	add := func(p Period) {
		key := p.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}

	for _, m := range quarterFirstPattern.FindAllStringSubmatch(text, -1) {
		q, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		add(NewPeriod(year, q))
	}
	for _, m := range yearFirstPattern.FindAllStringSubmatch(text, -1) {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		add(NewPeriod(year, q))
	}
	for _, m := range fiscalYearPattern.FindAllStringSubmatch(text, -1) {
		year, _ := strconv.Atoi(m[1])
		yearOnly := NewPeriod(year, 0)
		covered := false
		for _, p := range out {
			if p.Year() == year && p.Quarter != "" {
				covered = true
				break
			}
		}
		if !covered {
			add(yearOnly)
		}
	}
	return out
}
