package finstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
)

// MetricsStore serves raw quarterly metric documents from a directory tree:
//
//	<root>/<TICKER>/<FY2024>/<Q1>.json
//	<root>/<TICKER>/<FY2024>/FY.json
//
// Vendor JSON is stored untouched; canonical extraction happens upstream.
type MetricsStore struct {
	root string
}

func NewMetricsStore(root string) (*MetricsStore, error) {
	if root == "" {
		root = "./data/metrics"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create metrics dir: %w", err)
	}
	return &MetricsStore{root: root}, nil
}

func (s *MetricsStore) Quarter(_ context.Context, entity string, period domain.Period) (*domain.MetricsDocument, error) {
	entity = normalizeTicker(entity)
	if entity == "" || period.Year() == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "metrics quarter", fmt.Errorf("entity and fiscal year are required"))
	}

	path := s.quarterPath(entity, period)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metrics document: %w", err)
	}

	rel, relErr := filepath.Rel(s.root, path)
	if relErr != nil {
		rel = path
	}
	return &domain.MetricsDocument{
		Entity: entity,
		Period: period,
		Raw:    raw,
		Source: filepath.ToSlash(rel),
	}, nil
}

func (s *MetricsStore) Coverage(_ context.Context, entity string) ([]domain.PeriodCoverage, error) {
	entity = normalizeTicker(entity)
	if entity == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "metrics coverage", fmt.Errorf("entity is required"))
	}

	years, err := os.ReadDir(filepath.Join(s.root, entity))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list fiscal years: %w", err)
	}

	var out []domain.PeriodCoverage
	for _, yearEntry := range years {
		if !yearEntry.IsDir() || !strings.HasPrefix(yearEntry.Name(), "FY") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, entity, yearEntry.Name()))
		if err != nil {
			return nil, fmt.Errorf("list quarters: %w", err)
		}
		var quarters []string
		for _, file := range files {
			name := strings.TrimSuffix(file.Name(), ".json")
			if file.IsDir() || name == file.Name() {
				continue
			}
			if name == "FY" || (len(name) == 2 && name[0] == 'Q' && name[1] >= '1' && name[1] <= '4') {
				quarters = append(quarters, name)
			}
		}
		if len(quarters) == 0 {
			continue
		}
		sort.Strings(quarters)
		out = append(out, domain.PeriodCoverage{FiscalYear: yearEntry.Name(), Quarters: quarters})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiscalYear < out[j].FiscalYear })
	return out, nil
}

func (s *MetricsStore) Entities(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// PutQuarter writes one raw document atomically so concurrent readers never
// observe a partial file.
func (s *MetricsStore) PutQuarter(_ context.Context, entity string, period domain.Period, raw []byte) error {
	entity = normalizeTicker(entity)
	if entity == "" || period.Year() == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "metrics put", fmt.Errorf("entity and fiscal year are required"))
	}

	path := s.quarterPath(entity, period)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create period dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write metrics document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish metrics document: %w", err)
	}
	return nil
}

func (s *MetricsStore) quarterPath(entity string, period domain.Period) string {
	quarter := period.Quarter
	if quarter == "" {
		quarter = "FY"
	}
	return filepath.Join(s.root, entity, fmt.Sprintf("FY%d", period.Year()), quarter+".json")
}

func normalizeTicker(entity string) string {
	return strings.ToUpper(strings.TrimSpace(entity))
}
