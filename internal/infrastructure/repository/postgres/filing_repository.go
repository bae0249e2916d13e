package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/bme3412/clarity/internal/core/domain"
)

type FilingRepository struct {
	db *sql.DB
}

func NewFilingRepository(db *sql.DB) *FilingRepository {
	return &FilingRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *FilingRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS filings (
	id TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	fiscal_year TEXT NOT NULL,
	fiscal_quarter TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	published_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_filings_ticker_period ON filings (ticker, fiscal_year, fiscal_quarter);
CREATE INDEX IF NOT EXISTS idx_filings_status ON filings (status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure filings schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *FilingRepository) Create(ctx context.Context, filing *domain.Filing) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO filings (
	id, ticker, fiscal_year, fiscal_quarter, content_type, filename, mime_type, storage_path, status, error_message, chunk_count, published_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		filing.ID, filing.Entity, filing.Period.FiscalYear, filing.Period.Quarter, filing.ContentType,
		filing.Filename, filing.MimeType, filing.StoragePath, string(filing.Status), filing.Error,
		filing.ChunkCount, nullableTime(filing.PublishedAt), filing.CreatedAt, filing.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert filing: %w", err)
	}
	return nil
}

func (r *FilingRepository) GetByID(ctx context.Context, id string) (*domain.Filing, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, ticker, fiscal_year, fiscal_quarter, content_type, filename, mime_type, storage_path, status, error_message, chunk_count, published_at, created_at, updated_at
FROM filings
WHERE id = $1
`, id)

	var filing domain.Filing
	var status string
	var publishedAt sql.NullTime

	err := row.Scan(
		&filing.ID, &filing.Entity, &filing.Period.FiscalYear, &filing.Period.Quarter, &filing.ContentType,
		&filing.Filename, &filing.MimeType, &filing.StoragePath, &status, &filing.Error,
		&filing.ChunkCount, &publishedAt, &filing.CreatedAt, &filing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get filing", fmt.Errorf("filing %s", id))
		}
		return nil, fmt.Errorf("scan filing: %w", err)
	}

	filing.Status = domain.FilingStatus(status)
	if publishedAt.Valid {
		filing.PublishedAt = publishedAt.Time.UTC()
	}
	return &filing, nil
}

func (r *FilingRepository) UpdateStatus(ctx context.Context, id string, status domain.FilingStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE filings
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update filing status: %w", err)
	}
	return requireRowAffected(result, "update filing status", id)
}

func (r *FilingRepository) SetIndexed(ctx context.Context, id string, chunkCount int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE filings
SET status = $2, error_message = '', chunk_count = $3, updated_at = $4
WHERE id = $1
`, id, string(domain.FilingIndexed), chunkCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set filing indexed: %w", err)
	}
	return requireRowAffected(result, "set filing indexed", id)
}

func requireRowAffected(result sql.Result, operation, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("filing %s", id))
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
