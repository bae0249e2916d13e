package xlsx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// Extractor converts a quarterly metrics workbook into one canonical JSON
// document. Each sheet becomes a section keyed by its snake_cased name; each
// data row is metric | value | unit. The resulting JSON is what the metrics
// fallback paths walk, so section and metric names survive as-is.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, filing *domain.Filing) (string, error) {
	reader, err := e.storage.Open(ctx, filing.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open filing: %w", err)
	}
	defer reader.Close()

	workbook, err := excelize.OpenReader(reader)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse workbook",
			fmt.Errorf("%s: %w", filing.Filename, err))
	}
	defer workbook.Close()

	document := make(map[string]map[string]metricCell)
	for _, sheet := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}

		section := make(map[string]metricCell)
		for _, row := range rows {
			if len(row) < 2 {
				continue
			}
			name := snakeCase(row[0])
			if name == "" || name == "metric" {
				continue
			}
			value, err := parseNumber(row[1])
			if err != nil {
				continue
			}
			unit := domain.UnitUSDMillions
			if len(row) >= 3 && strings.TrimSpace(row[2]) != "" {
				unit = snakeCase(row[2])
			}
			section[name] = metricCell{Value: value, Unit: unit}
		}
		if len(section) > 0 {
			document[snakeCase(sheet)] = section
		}
	}

	if len(document) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse workbook",
			fmt.Errorf("no metric rows in %s", filing.Filename))
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("marshal metrics document: %w", err)
	}
	return string(raw), nil
}

type metricCell struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, fmt.Errorf("empty cell")
	}
	return strconv.ParseFloat(s, 64)
}

func snakeCase(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
