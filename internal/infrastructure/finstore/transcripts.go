package finstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/bme3412/clarity/internal/core/domain"
)

// TranscriptStore serves raw narrative documents for last-resort keyword
// retrieval, laid out as:
//
//	<root>/<TICKER>/<FY2024>/<Q1>_earnings_call.md
//
// The period prefix is Q1..Q4 or FY; the remainder names the content type.
type TranscriptStore struct {
	root string
}

func NewTranscriptStore(root string) (*TranscriptStore, error) {
	if root == "" {
		root = "./data/transcripts"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts dir: %w", err)
	}
	return &TranscriptStore{root: root}, nil
}

// KeywordSearch scores the best paragraph of every candidate document by
// query-token overlap and returns the top matches as keyword-fallback
// evidence. Zero-overlap documents are dropped entirely.
func (s *TranscriptStore) KeywordSearch(_ context.Context, query string, entity string, periods []domain.Period, limit int) ([]domain.EvidenceItem, error) {
	queryTokens := toTokenSet(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	candidates, err := s.candidateFiles(entity, periods)
	if err != nil {
		return nil, err
	}

	var items []domain.EvidenceItem
	for _, candidate := range candidates {
		raw, err := os.ReadFile(candidate.path)
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}

		paragraph, score := bestParagraph(string(raw), queryTokens)
		if score <= 0 {
			continue
		}
		items = append(items, domain.EvidenceItem{
			ID:          candidate.rel,
			Score:       score,
			SourceKind:  domain.SourceKeywordFallback,
			Entity:      candidate.entity,
			Period:      candidate.period,
			ContentType: candidate.contentType,
			Text:        paragraph,
			Provenance:  candidate.rel,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type transcriptFile struct {
	path        string
	rel         string
	entity      string
	period      domain.Period
	contentType string
}

func (s *TranscriptStore) candidateFiles(entity string, periods []domain.Period) ([]transcriptFile, error) {
	var tickers []string
	if normalized := normalizeTicker(entity); normalized != "" {
		tickers = []string{normalized}
	} else {
		entries, err := os.ReadDir(s.root)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list transcript entities: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				tickers = append(tickers, entry.Name())
			}
		}
	}

	var out []transcriptFile
	for _, ticker := range tickers {
		years, err := os.ReadDir(filepath.Join(s.root, ticker))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list transcript years: %w", err)
		}
		for _, yearEntry := range years {
			if !yearEntry.IsDir() {
				continue
			}
			files, err := os.ReadDir(filepath.Join(s.root, ticker, yearEntry.Name()))
			if err != nil {
				return nil, fmt.Errorf("list transcripts: %w", err)
			}
			for _, file := range files {
				if file.IsDir() {
					continue
				}
				period, contentType, ok := parseTranscriptName(yearEntry.Name(), file.Name())
				if !ok {
					continue
				}
				if !matchesPeriods(period, periods) {
					continue
				}
				path := filepath.Join(s.root, ticker, yearEntry.Name(), file.Name())
				rel, relErr := filepath.Rel(s.root, path)
				if relErr != nil {
					rel = path
				}
				out = append(out, transcriptFile{
					path:        path,
					rel:         filepath.ToSlash(rel),
					entity:      ticker,
					period:      period,
					contentType: contentType,
				})
			}
		}
	}
	return out, nil
}

func parseTranscriptName(fiscalYear, filename string) (domain.Period, string, bool) {
	if !strings.HasPrefix(fiscalYear, "FY") {
		return domain.Period{}, "", false
	}
	base := filename
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	prefix, rest, found := strings.Cut(base, "_")
	if !found {
		prefix = base
	}

	period := domain.Period{FiscalYear: fiscalYear}
	switch {
	case prefix == "FY":
	case len(prefix) == 2 && prefix[0] == 'Q' && prefix[1] >= '1' && prefix[1] <= '4':
		period.Quarter = prefix
	default:
		return domain.Period{}, "", false
	}
	if period.Year() == 0 {
		return domain.Period{}, "", false
	}
	return period, rest, true
}

func matchesPeriods(period domain.Period, wanted []domain.Period) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w.Quarter == "" {
			if w.Year() == period.Year() {
				return true
			}
			continue
		}
		if w.Equal(period) {
			return true
		}
	}
	return false
}

func bestParagraph(text string, queryTokens map[string]struct{}) (string, float64) {
	best := ""
	bestScore := 0.0
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		score := tokenOverlap(queryTokens, toTokenSet(paragraph))
		if score > bestScore {
			best = paragraph
			bestScore = score
		}
	}
	return best, bestScore
}

func tokenOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{}, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}
