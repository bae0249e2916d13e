package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

var narrativeContentTypes = map[string]struct{}{
	domain.ContentTypeEarningsCall:    {},
	domain.ContentTypePreparedRemarks: {},
	domain.ContentTypePressRelease:    {},
	domain.ContentTypeQASession:       {},
	domain.ContentTypeMetricsWorkbook: {},
}

// FilingIngestUseCase accepts an uploaded filing, persists the raw object
// and the metadata row, and enqueues it for asynchronous processing.
type FilingIngestUseCase struct {
	repo    ports.FilingRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	logger  *slog.Logger
	clock   ports.Clock
}

func NewFilingIngest(repo ports.FilingRepository, storage ports.ObjectStorage, queue ports.MessageQueue, logger *slog.Logger, clock ports.Clock) *FilingIngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &FilingIngestUseCase{repo: repo, storage: storage, queue: queue, logger: logger, clock: clock}
}

func (u *FilingIngestUseCase) Upload(ctx context.Context, meta domain.Filing, body io.Reader) (*domain.Filing, error) {
	entity := strings.ToUpper(strings.TrimSpace(meta.Entity))
	if entity == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload filing", fmt.Errorf("entity is required"))
	}
	if meta.Period.IsZero() || meta.Period.Year() == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload filing", fmt.Errorf("fiscal period is required"))
	}
	if _, ok := narrativeContentTypes[meta.ContentType]; !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload filing", fmt.Errorf("unknown content type %q", meta.ContentType))
	}
	filename := sanitizeFilename(meta.Filename)
	if filename == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload filing", fmt.Errorf("filename is required"))
	}

	now := u.clock().UTC()
	filing := &domain.Filing{
		ID:          uuid.NewString(),
		Entity:      entity,
		Period:      meta.Period,
		ContentType: meta.ContentType,
		Filename:    filename,
		MimeType:    meta.MimeType,
		Status:      domain.FilingReceived,
		PublishedAt: meta.PublishedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	filing.StoragePath = path.Join(entity, filing.Period.FiscalYear, filing.ID+"_"+filename)

	if err := u.storage.Save(ctx, filing.StoragePath, body); err != nil {
		return nil, fmt.Errorf("store filing: %w", err)
	}
	if err := u.repo.Create(ctx, filing); err != nil {
		return nil, fmt.Errorf("create filing: %w", err)
	}
	if err := u.queue.PublishFilingReceived(ctx, filing.ID); err != nil {
		// The row and object exist; processing can be replayed, so the
		// upload itself still fails loudly for the caller to retry.
		return nil, fmt.Errorf("enqueue filing: %w", err)
	}

	u.logger.Info("filing received",
		"filing_id", filing.ID,
		"ticker", filing.Entity,
		"period", filing.Period.String(),
		"content_type", filing.ContentType)
	return filing, nil
}

// sanitizeFilename strips any path components and characters that have no
// business in a storage key.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
