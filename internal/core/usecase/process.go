package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// WorkerObserver receives processing telemetry; nil disables recording.
type WorkerObserver interface {
	StartFiling()
	FinishFiling(service string, duration time.Duration, err error)
	AddChunksIndexed(service string, count int)
}

// ProcessorExtractors maps filing shapes to their text extractors. Workbook
// output is a canonical metrics JSON document, not narrative text.
type ProcessorExtractors struct {
	Text     ports.TextExtractor
	PDF      ports.TextExtractor
	Workbook ports.TextExtractor
}

// FilingProcessUseCase drives one filing through extraction, chunking,
// embedding, and indexing. Re-processing an already indexed filing is a
// no-op; any stage failure lands the filing in the failed state with the
// cause recorded.
type FilingProcessUseCase struct {
	repo       ports.FilingRepository
	extractors ProcessorExtractors
	chunker    ports.Chunker
	embedder   ports.EmbeddingProvider
	sparse     ports.SparseEncoder
	index      ports.VectorIndex
	metrics    ports.MetricsWriter
	observer   WorkerObserver
	logger     *slog.Logger
	clock      ports.Clock
	service    string
}

type ProcessDeps struct {
	Repo       ports.FilingRepository
	Extractors ProcessorExtractors
	Chunker    ports.Chunker
	Embedder   ports.EmbeddingProvider
	Sparse     ports.SparseEncoder
	Index      ports.VectorIndex
	Metrics    ports.MetricsWriter
	Observer   WorkerObserver
	Logger     *slog.Logger
	Clock      ports.Clock
	Service    string
}

func NewFilingProcess(deps ProcessDeps) *FilingProcessUseCase {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	service := deps.Service
	if service == "" {
		service = "worker"
	}
	return &FilingProcessUseCase{
		repo:       deps.Repo,
		extractors: deps.Extractors,
		chunker:    deps.Chunker,
		embedder:   deps.Embedder,
		sparse:     deps.Sparse,
		index:      deps.Index,
		metrics:    deps.Metrics,
		observer:   deps.Observer,
		logger:     logger,
		clock:      clock,
		service:    service,
	}
}

func (u *FilingProcessUseCase) ProcessByID(ctx context.Context, filingID string) error {
	start := u.clock()
	if u.observer != nil {
		u.observer.StartFiling()
	}
	err := u.process(ctx, filingID)
	if u.observer != nil {
		u.observer.FinishFiling(u.service, u.clock().Sub(start), err)
	}
	return err
}

func (u *FilingProcessUseCase) process(ctx context.Context, filingID string) error {
	filing, err := u.repo.GetByID(ctx, filingID)
	if err != nil {
		return err
	}
	if filing.Status == domain.FilingIndexed {
		u.logger.Info("filing already indexed, skipping", "filing_id", filingID)
		return nil
	}

	if err := u.repo.UpdateStatus(ctx, filingID, domain.FilingProcessing, ""); err != nil {
		return err
	}

	chunkCount, err := u.runStages(ctx, filing)
	if err != nil {
		if statusErr := u.repo.UpdateStatus(ctx, filingID, domain.FilingFailed, err.Error()); statusErr != nil {
			u.logger.Error("failed to record filing failure", "filing_id", filingID, "error", statusErr)
		}
		return err
	}

	if err := u.repo.SetIndexed(ctx, filingID, chunkCount); err != nil {
		return err
	}
	if u.observer != nil && chunkCount > 0 {
		u.observer.AddChunksIndexed(u.service, chunkCount)
	}
	u.logger.Info("filing indexed",
		"filing_id", filingID,
		"ticker", filing.Entity,
		"period", filing.Period.String(),
		"chunks", chunkCount)
	return nil
}

func (u *FilingProcessUseCase) runStages(ctx context.Context, filing *domain.Filing) (int, error) {
	extractor, workbook := u.pickExtractor(filing)
	if extractor == nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "process filing",
			fmt.Errorf("no extractor for %s", filing.Filename))
	}

	content, err := extractor.Extract(ctx, filing)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "process filing",
			fmt.Errorf("empty content in %s", filing.Filename))
	}

	// A metrics workbook lands in the structured store; nothing reaches the
	// vector index.
	if workbook {
		if u.metrics == nil {
			return 0, fmt.Errorf("process filing: no metrics writer configured")
		}
		if err := u.metrics.PutQuarter(ctx, filing.Entity, filing.Period, []byte(content)); err != nil {
			return 0, fmt.Errorf("store metrics: %w", err)
		}
		return 0, nil
	}

	texts := u.chunker.Split(content)
	if len(texts) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "process filing",
			fmt.Errorf("no chunks produced from %s", filing.Filename))
	}

	vectors, err := u.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(texts))
	}

	chunks := make([]domain.NarrativeChunk, len(texts))
	for i, text := range texts {
		var sparse *domain.SparseVector
		if u.sparse != nil {
			sparse = u.sparse.Encode(text)
		}
		chunks[i] = domain.NarrativeChunk{
			ID:          fmt.Sprintf("%s:%d", filing.ID, i),
			FilingID:    filing.ID,
			Entity:      filing.Entity,
			Period:      filing.Period,
			ContentType: filing.ContentType,
			ChunkIndex:  i,
			Text:        text,
			Source:      filing.StoragePath,
			PublishedAt: filing.PublishedAt,
			Dense:       vectors[i],
			Sparse:      sparse,
		}
	}

	if err := u.index.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return len(chunks), nil
}

func (u *FilingProcessUseCase) pickExtractor(filing *domain.Filing) (ports.TextExtractor, bool) {
	if filing.ContentType == domain.ContentTypeMetricsWorkbook {
		return u.extractors.Workbook, true
	}
	switch strings.ToLower(path.Ext(filing.Filename)) {
	case ".xlsx":
		return u.extractors.Workbook, true
	case ".pdf":
		return u.extractors.PDF, false
	default:
		return u.extractors.Text, false
	}
}
