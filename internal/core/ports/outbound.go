package ports

import (
	"context"

	"github.com/bme3412/clarity/internal/core/domain"
)

// EmbeddingProvider produces dense vectors for queries and documents.
// Retrieval providers embed the two input types differently, so the split
// is part of the contract.
type EmbeddingProvider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerationProvider turns prompts into text, optionally streamed.
type GenerationProvider interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResult, error)
	CompleteStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamDelta, error)
}

// VectorIndex answers combined dense+sparse similarity queries. Query must
// return an error wrapping domain.ErrSparseUnsupported when the backing
// index cannot accept sparse vectors, so callers can degrade permanently.
type VectorIndex interface {
	Query(ctx context.Context, q domain.IndexQuery) ([]domain.IndexHit, error)
	Upsert(ctx context.Context, chunks []domain.NarrativeChunk) error
}

// SparseEncoder deterministically encodes text into a sparse term vector,
// nil for degenerate input.
type SparseEncoder interface {
	Encode(text string) *domain.SparseVector
}

// MetricsStore returns raw quarterly metric documents. A missing
// entity+period is (nil, nil), not an error.
type MetricsStore interface {
	Quarter(ctx context.Context, entity string, period domain.Period) (*domain.MetricsDocument, error)
	Coverage(ctx context.Context, entity string) ([]domain.PeriodCoverage, error)
	Entities(ctx context.Context) ([]string, error)
}

// MetricsWriter persists canonical quarterly documents extracted during
// ingestion.
type MetricsWriter interface {
	PutQuarter(ctx context.Context, entity string, period domain.Period, raw []byte) error
}

// TranscriptStore serves raw narrative documents for last-resort keyword
// retrieval.
type TranscriptStore interface {
	KeywordSearch(ctx context.Context, query string, entity string, periods []domain.Period, limit int) ([]domain.EvidenceItem, error)
}

// Lexicon is the static domain vocabulary: entity aliases, finance terms,
// synonym expansions, boilerplate markers, per-entity focus boosts.
type Lexicon interface {
	ResolveEntities(text string) []string
	Canonical(alias string) (string, bool)
	EntityName(ticker string) string
	Entities() []string
	FiscalYearEndMonth(ticker string) (int, bool)
	IsDomainTerm(token string) bool
	ExpandQuery(text string) string
	BoilerplateMarkers() []string
	FocusBoosts(ticker string) map[string]float64
}

// EntityGraph resolves peer relationships for comparison queries.
type EntityGraph interface {
	Peers(ctx context.Context, ticker string) ([]string, error)
}

// TokenCounter estimates prompt token counts for context budgeting.
type TokenCounter interface {
	Count(text string) int
}

// Cache is a bounded process-local cache. TTL and capacity are fixed at
// construction; Get never returns expired entries.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Purge()
}
