package ports

import (
	"context"
	"io"
	"time"

	"github.com/bme3412/clarity/internal/core/domain"
)

type FilingRepository interface {
	Create(ctx context.Context, filing *domain.Filing) error
	GetByID(ctx context.Context, id string) (*domain.Filing, error)
	UpdateStatus(ctx context.Context, id string, status domain.FilingStatus, errMessage string) error
	SetIndexed(ctx context.Context, id string, chunkCount int) error
}

type AnswerAuditRepository interface {
	Insert(ctx context.Context, rec *domain.AuditRecord) error
	Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}

type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type MessageQueue interface {
	PublishFilingReceived(ctx context.Context, filingID string) error
	SubscribeFilingReceived(ctx context.Context, handler func(context.Context, string) error) error
}

type TextExtractor interface {
	Extract(ctx context.Context, filing *domain.Filing) (string, error)
}

type Chunker interface {
	Split(text string) []string
}

// Clock abstracts time for cache and trace determinism in tests.
type Clock func() time.Time
