package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bme3412/clarity/internal/core/domain"
)

// AuditRepository persists one row per answered question. Structured
// sub-documents go into JSONB columns so later evaluation queries can reach
// into citations and verification findings without schema churn.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082102)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS answer_audit (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	strategy TEXT NOT NULL,
	intent JSONB NOT NULL DEFAULT '{}'::jsonb,
	answer TEXT NOT NULL,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	verification JSONB NOT NULL DEFAULT '{}'::jsonb,
	latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answer_audit_created_at ON answer_audit (created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AuditRepository) Insert(ctx context.Context, rec *domain.AuditRecord) error {
	intentJSON, err := json.Marshal(rec.Intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	citations := rec.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	verificationJSON, err := json.Marshal(rec.Verification)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO answer_audit (id, question, strategy, intent, answer, citations, verification, latency_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		rec.ID, rec.Question, string(rec.Strategy), intentJSON, rec.Answer,
		citationsJSON, verificationJSON, rec.LatencyMS, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, question, strategy, intent, answer, citations, verification, latency_ms, created_at
FROM answer_audit
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditRecord, 0, limit)
	for rows.Next() {
		var rec domain.AuditRecord
		var strategy string
		var intentRaw, citationsRaw, verificationRaw []byte
		if err := rows.Scan(
			&rec.ID, &rec.Question, &strategy, &intentRaw, &rec.Answer,
			&citationsRaw, &verificationRaw, &rec.LatencyMS, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Strategy = domain.Strategy(strategy)
		if err := json.Unmarshal(intentRaw, &rec.Intent); err != nil {
			return nil, fmt.Errorf("unmarshal intent: %w", err)
		}
		if err := json.Unmarshal(citationsRaw, &rec.Citations); err != nil {
			return nil, fmt.Errorf("unmarshal citations: %w", err)
		}
		if err := json.Unmarshal(verificationRaw, &rec.Verification); err != nil {
			return nil, fmt.Errorf("unmarshal verification: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}
