package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/bme3412/clarity/internal/core/domain"
)

func newAuditRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &AuditRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestInsertSerializesStructuredColumns(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO answer_audit").
		WithArgs(
			"a1", "How did AAPL revenue grow?", string(domain.StrategyAuto),
			sqlmock.AnyArg(), "Revenue grew 8%.", sqlmock.AnyArg(), sqlmock.AnyArg(),
			412.5, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &domain.AuditRecord{
		ID:       "a1",
		Question: "How did AAPL revenue grow?",
		Strategy: domain.StrategyAuto,
		Intent: domain.Intent{
			AnalysisCategory: domain.CategoryFinancial,
			EntityRefs:       []string{"AAPL"},
			Timeframe:        domain.TimeframeLatest,
			Source:           domain.IntentSourceHeuristic,
		},
		Answer:       "Revenue grew 8%.",
		Verification: domain.VerificationReport{Status: domain.VerificationVerified, Matched: 2, Tolerance: 0.05},
		LatencyMS:    412.5,
	})
	if err != nil {
		t.Fatalf("insert audit record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecentRoundTripsRecord(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{
		"id", "question", "strategy", "intent", "answer", "citations", "verification", "latency_ms", "created_at",
	}).AddRow(
		"a1", "q", string(domain.StrategyHybridBM25),
		[]byte(`{"analysis_category":"financial","timeframe":"latest","entity_refs":["NVDA"],"requires_calculation":false,"source":"heuristic"}`),
		"answer",
		[]byte(`[{"index":1,"entity":"NVDA","source_kind":"narrative","score":0.91}]`),
		[]byte(`{"status":"partial","matched":1,"unmatched":1,"tolerance":0.05}`),
		250.0, time.Now().UTC(),
	)
	mock.ExpectQuery("SELECT id, question, strategy").WithArgs(5).WillReturnRows(rows)

	records, err := repo.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Strategy != domain.StrategyHybridBM25 {
		t.Fatalf("unexpected strategy %s", rec.Strategy)
	}
	if rec.Intent.PrimaryEntity() != "NVDA" {
		t.Fatalf("unexpected intent %+v", rec.Intent)
	}
	if len(rec.Citations) != 1 || rec.Citations[0].SourceKind != domain.SourceNarrative {
		t.Fatalf("unexpected citations %+v", rec.Citations)
	}
	if rec.Verification.Status != domain.VerificationPartial {
		t.Fatalf("unexpected verification %+v", rec.Verification)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
