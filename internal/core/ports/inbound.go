package ports

import (
	"context"
	"io"

	"github.com/bme3412/clarity/internal/core/domain"
)

// ResearchAnswerer is the inbound contract for grounded question answering.
// AnswerStream emits events in the order status* retrieval* content*
// citations metrics end; emit is called from a single goroutine.
type ResearchAnswerer interface {
	Answer(ctx context.Context, query domain.Query) (*domain.GroundedAnswer, error)
	AnswerStream(ctx context.Context, query domain.Query, emit func(domain.AnswerEvent)) error
}

// ResearchTools is the inbound contract for the deterministic research
// tools exposed over MCP and the coverage endpoint.
type ResearchTools interface {
	FinancialMetrics(ctx context.Context, entity string, period domain.Period) (*domain.MetricsRecord, error)
	MultiQuarterMetrics(ctx context.Context, entity string, quarters int) ([]domain.MetricsRecord, error)
	GrowthRate(ctx context.Context, entity string, metric domain.MetricName, base, comparison domain.Period) (*domain.GrowthRate, error)
	SearchTranscripts(ctx context.Context, query string, entity string, period domain.Period, topK int) ([]domain.EvidenceItem, error)
	AvailableData(ctx context.Context, entity string) ([]domain.EntityCoverage, error)
}

// FilingIngestor is the inbound contract for filing upload orchestration.
type FilingIngestor interface {
	Upload(ctx context.Context, meta domain.Filing, body io.Reader) (*domain.Filing, error)
}

// FilingReader is the inbound read model for filing metadata/state.
type FilingReader interface {
	GetByID(ctx context.Context, id string) (*domain.Filing, error)
}

// FilingProcessor is the inbound contract for asynchronous filing
// processing.
type FilingProcessor interface {
	ProcessByID(ctx context.Context, filingID string) error
}
