package xlsx

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"

	"github.com/bme3412/clarity/internal/core/domain"
)

type memStorage struct {
	data map[string][]byte
}

func (m *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = raw
	return nil
}

func (m *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data[key])), nil
}

func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	if err := wb.SetSheetName(sheet, "Income Statement"); err != nil {
		t.Fatalf("rename sheet: %v", err)
	}
	rows := [][]any{
		{"Metric", "Value", "Unit"},
		{"Revenue", "90,753", "usd_millions"},
		{"Gross Margin", "46.6%", "percent"},
		{"Net Income", "$23,636", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := wb.SetSheetRow("Income Statement", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestExtractWorkbookToCanonicalJSON(t *testing.T) {
	storage := &memStorage{}
	if err := storage.Save(context.Background(), "filings/wb1", bytes.NewReader(buildWorkbook(t))); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	extractor := NewExtractor(storage)
	raw, err := extractor.Extract(context.Background(), &domain.Filing{
		StoragePath: "filings/wb1",
		Filename:    "AAPL_FY2024_Q1.xlsx",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if got := gjson.Get(raw, "income_statement.revenue.value").Float(); got != 90753 {
		t.Fatalf("revenue mismatch: %v", got)
	}
	if got := gjson.Get(raw, "income_statement.revenue.unit").String(); got != domain.UnitUSDMillions {
		t.Fatalf("revenue unit mismatch: %v", got)
	}
	if got := gjson.Get(raw, "income_statement.gross_margin.value").Float(); got != 46.6 {
		t.Fatalf("gross margin mismatch: %v", got)
	}
	if got := gjson.Get(raw, "income_statement.net_income.value").Float(); got != 23636 {
		t.Fatalf("net income mismatch: %v", got)
	}
}

func TestExtractRejectsWorkbookWithoutMetrics(t *testing.T) {
	wb := excelize.NewFile()
	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	_ = wb.Close()

	storage := &memStorage{}
	if err := storage.Save(context.Background(), "filings/empty", &buf); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	extractor := NewExtractor(storage)
	_, err := extractor.Extract(context.Background(), &domain.Filing{StoragePath: "filings/empty", Filename: "empty.xlsx"})
	if err == nil {
		t.Fatalf("expected error for empty workbook")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input kind, got %v", err)
	}
}
