package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/infrastructure/resilience"
)

const (
	fieldID          = "id"
	fieldEntity      = "ticker"
	fieldFiscalYear  = "fiscal_year"
	fieldQuarter     = "fiscal_quarter"
	fieldContentType = "content_type"
	fieldText        = "text"
	fieldSource      = "source"
	fieldPublishedAt = "published_at"
	fieldDense       = "dense_vector"
	fieldSparse      = "sparse_vector"
)

var outputFields = []string{
	fieldID, fieldEntity, fieldFiscalYear, fieldQuarter,
	fieldContentType, fieldText, fieldSource, fieldPublishedAt,
}

type Config struct {
	Address      string
	Username     string
	Password     string
	Collection   string
	DenseDim     int
	DenseWeight  float64
	SparseWeight float64

	HNSWM              int
	HNSWEfConstruction int
	HNSWEf             int
}

func (c Config) normalize() Config {
	out := c
	if out.Collection == "" {
		out.Collection = "filings_narrative"
	}
	if out.DenseDim <= 0 {
		out.DenseDim = 1024
	}
	if out.DenseWeight <= 0 {
		out.DenseWeight = 0.85
	}
	if out.SparseWeight <= 0 {
		out.SparseWeight = 0.15
	}
	if out.HNSWM <= 0 {
		out.HNSWM = 16
	}
	if out.HNSWEfConstruction <= 0 {
		out.HNSWEfConstruction = 200
	}
	if out.HNSWEf <= 0 {
		out.HNSWEf = 128
	}
	return out
}

// Index is the Milvus-backed vector index. It serves combined dense+sparse
// similarity queries with compiled boolean filter expressions and upserts
// narrative chunks during ingestion.
type Index struct {
	milvus   client.Client
	cfg      Config
	executor *resilience.Executor
}

func New(ctx context.Context, cfg Config, executor *resilience.Executor) (*Index, error) {
	cfg = cfg.normalize()

	var milvusClient client.Client
	var err error
	if cfg.Username != "" && cfg.Password != "" {
		milvusClient, err = client.NewClient(ctx, client.Config{
			Address:  cfg.Address,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	} else {
		milvusClient, err = client.NewClient(ctx, client.Config{Address: cfg.Address})
	}
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	idx := &Index{milvus: milvusClient, cfg: cfg, executor: executor}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = milvusClient.Close()
		return nil, err
	}
	return idx, nil
}

func (x *Index) Close() error {
	return x.milvus.Close()
}

func (x *Index) ensureCollection(ctx context.Context) error {
	has, err := x.milvus.HasCollection(ctx, x.cfg.Collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !has {
		schema := entity.NewSchema().
			WithName(x.cfg.Collection).
			WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(256).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldEntity).WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
			WithField(entity.NewField().WithName(fieldFiscalYear).WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
			WithField(entity.NewField().WithName(fieldQuarter).WithDataType(entity.FieldTypeVarChar).WithMaxLength(8)).
			WithField(entity.NewField().WithName(fieldContentType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
			WithField(entity.NewField().WithName(fieldSource).WithDataType(entity.FieldTypeVarChar).WithMaxLength(512)).
			WithField(entity.NewField().WithName(fieldPublishedAt).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(fieldDense).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(x.cfg.DenseDim))).
			WithField(entity.NewField().WithName(fieldSparse).WithDataType(entity.FieldTypeSparseVector))

		if err := x.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}

		denseIdx, err := entity.NewIndexHNSW(entity.COSINE, x.cfg.HNSWM, x.cfg.HNSWEfConstruction)
		if err != nil {
			return fmt.Errorf("build dense index: %w", err)
		}
		if err := x.milvus.CreateIndex(ctx, x.cfg.Collection, fieldDense, denseIdx, false); err != nil {
			return fmt.Errorf("create dense index: %w", err)
		}
		sparseIdx, err := entity.NewIndexSparseInverted(entity.IP, 0.0)
		if err != nil {
			return fmt.Errorf("build sparse index: %w", err)
		}
		if err := x.milvus.CreateIndex(ctx, x.cfg.Collection, fieldSparse, sparseIdx, false); err != nil {
			return fmt.Errorf("create sparse index: %w", err)
		}
	}

	if err := x.milvus.LoadCollection(ctx, x.cfg.Collection, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

// Query answers one combined similarity query. A sparse-capability
// rejection is reported as domain.ErrSparseUnsupported so callers can
// degrade to dense-only permanently.
func (x *Index) Query(ctx context.Context, q domain.IndexQuery) ([]domain.IndexHit, error) {
	if len(q.Dense) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "milvus query", fmt.Errorf("dense vector is required"))
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	expr := CompileFilter(q.Filter)

	var hits []domain.IndexHit
	call := func(ctx context.Context) error {
		var err error
		if q.Sparse.Len() > 0 {
			hits, err = x.hybridSearch(ctx, q, expr, topK)
		} else {
			hits, err = x.denseSearch(ctx, q, expr, topK)
		}
		return err
	}

	var err error
	if x.executor != nil {
		err = x.executor.Execute(ctx, "milvus.query", call, classifyMilvusError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if isSparseUnsupported(err) {
			return nil, domain.WrapError(domain.ErrSparseUnsupported, "milvus query", err)
		}
		return nil, wrapTemporaryIfNeeded("milvus query", err)
	}
	return hits, nil
}

func (x *Index) denseSearch(ctx context.Context, q domain.IndexQuery, expr string, topK int) ([]domain.IndexHit, error) {
	sp, err := entity.NewIndexHNSWSearchParam(x.cfg.HNSWEf)
	if err != nil {
		return nil, fmt.Errorf("dense search param: %w", err)
	}

	results, err := x.milvus.Search(ctx,
		x.cfg.Collection,
		nil,
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(q.Dense)},
		fieldDense,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	return collectHits(results), nil
}

func (x *Index) hybridSearch(ctx context.Context, q domain.IndexQuery, expr string, topK int) ([]domain.IndexHit, error) {
	denseParam, err := entity.NewIndexHNSWSearchParam(x.cfg.HNSWEf)
	if err != nil {
		return nil, fmt.Errorf("dense search param: %w", err)
	}
	sparseParam, err := entity.NewIndexSparseInvertedSearchParam(0.0)
	if err != nil {
		return nil, fmt.Errorf("sparse search param: %w", err)
	}

	sparseValues := make([]float32, len(q.Sparse.Values))
	for i, v := range q.Sparse.Values {
		sparseValues[i] = float32(v)
	}
	sparseVec, err := entity.NewSliceSparseEmbedding(q.Sparse.Indices, sparseValues)
	if err != nil {
		return nil, fmt.Errorf("build sparse embedding: %w", err)
	}

	subRequests := []*client.ANNSearchRequest{
		client.NewANNSearchRequest(fieldDense, entity.COSINE, expr, []entity.Vector{entity.FloatVector(q.Dense)}, denseParam, topK),
		client.NewANNSearchRequest(fieldSparse, entity.IP, expr, []entity.Vector{sparseVec}, sparseParam, topK),
	}
	reranker := client.NewWeightedReranker([]float64{x.cfg.DenseWeight, x.cfg.SparseWeight})

	results, err := x.milvus.HybridSearch(ctx,
		x.cfg.Collection,
		nil,
		topK,
		outputFields,
		reranker,
		subRequests,
	)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return collectHits(results), nil
}

// Upsert writes narrative chunks with both vector representations. Chunks
// whose sparse vector is nil store an empty sparse embedding.
func (x *Index) Upsert(ctx context.Context, chunks []domain.NarrativeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	tickers := make([]string, len(chunks))
	fiscalYears := make([]string, len(chunks))
	quarters := make([]string, len(chunks))
	contentTypes := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	publishedAts := make([]int64, len(chunks))
	denseVectors := make([][]float32, len(chunks))
	sparseVectors := make([]entity.SparseEmbedding, len(chunks))

	for i, chunk := range chunks {
		ids[i] = chunk.ID
		tickers[i] = chunk.Entity
		fiscalYears[i] = chunk.Period.FiscalYear
		quarters[i] = chunk.Period.Quarter
		contentTypes[i] = chunk.ContentType
		texts[i] = chunk.Text
		sources[i] = chunk.Source
		if !chunk.PublishedAt.IsZero() {
			publishedAts[i] = chunk.PublishedAt.Unix()
		}
		denseVectors[i] = chunk.Dense

		indices := chunk.Sparse.Len()
		positions := make([]uint32, 0, indices)
		values := make([]float32, 0, indices)
		if chunk.Sparse != nil {
			positions = append(positions, chunk.Sparse.Indices...)
			for _, v := range chunk.Sparse.Values {
				values = append(values, float32(v))
			}
		}
		embedding, err := entity.NewSliceSparseEmbedding(positions, values)
		if err != nil {
			return fmt.Errorf("build sparse embedding for %s: %w", chunk.ID, err)
		}
		sparseVectors[i] = embedding
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldEntity, tickers),
		entity.NewColumnVarChar(fieldFiscalYear, fiscalYears),
		entity.NewColumnVarChar(fieldQuarter, quarters),
		entity.NewColumnVarChar(fieldContentType, contentTypes),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnInt64(fieldPublishedAt, publishedAts),
		entity.NewColumnFloatVector(fieldDense, x.cfg.DenseDim, denseVectors),
		entity.NewColumnSparseVectors(fieldSparse, sparseVectors),
	}

	call := func(ctx context.Context) error {
		if _, err := x.milvus.Upsert(ctx, x.cfg.Collection, "", columns...); err != nil {
			return fmt.Errorf("milvus upsert: %w", err)
		}
		return nil
	}

	var err error
	if x.executor != nil {
		err = x.executor.Execute(ctx, "milvus.upsert", call, classifyMilvusError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded("milvus upsert", err)
	}
	return nil
}

func collectHits(results []client.SearchResult) []domain.IndexHit {
	var hits []domain.IndexHit
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			hit := domain.IndexHit{Score: float64(result.Scores[i])}
			hit.ID = varCharAt(result.Fields, fieldID, i)
			hit.Entity = varCharAt(result.Fields, fieldEntity, i)
			hit.Period = domain.Period{
				FiscalYear: varCharAt(result.Fields, fieldFiscalYear, i),
				Quarter:    varCharAt(result.Fields, fieldQuarter, i),
			}
			hit.ContentType = varCharAt(result.Fields, fieldContentType, i)
			hit.Text = varCharAt(result.Fields, fieldText, i)
			hit.Source = varCharAt(result.Fields, fieldSource, i)
			if col, ok := result.Fields.GetColumn(fieldPublishedAt).(*entity.ColumnInt64); ok && i < len(col.Data()) {
				if ts := col.Data()[i]; ts > 0 {
					hit.PublishedAt = time.Unix(ts, 0).UTC()
				}
			}
			hits = append(hits, hit)
		}
	}
	return hits
}

func varCharAt(fields client.ResultSet, name string, i int) string {
	col, ok := fields.GetColumn(name).(*entity.ColumnVarChar)
	if !ok || i >= len(col.Data()) {
		return ""
	}
	return col.Data()[i]
}

// isSparseUnsupported recognizes index backends that reject sparse vector
// fields or sparse ANN requests. Only an explicit capability rejection
// counts; a transient failure that happens to mention the sparse field must
// not disable hybrid search for the process lifetime.
func isSparseUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "sparse") {
		return false
	}
	return strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "invalid data type") ||
		strings.Contains(msg, "invalid parameter")
}
