package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

type RetrieverConfig struct {
	PoolSize           int
	Oversample         int
	ScoreFloor         float64
	MinEvidence        int
	IndexWeight        float64
	TermWeight         float64
	BoilerplatePenalty float64
}

func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		PoolSize:           12,
		Oversample:         3,
		ScoreFloor:         0.15,
		MinEvidence:        2,
		IndexWeight:        0.85,
		TermWeight:         0.15,
		BoilerplatePenalty: 0.35,
	}
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	out := c
	if out.PoolSize <= 0 {
		out.PoolSize = 12
	}
	if out.Oversample <= 0 {
		out.Oversample = 3
	}
	if out.MinEvidence <= 0 {
		out.MinEvidence = 2
	}
	if out.IndexWeight <= 0 {
		out.IndexWeight = 0.85
	}
	if out.TermWeight <= 0 {
		out.TermWeight = 0.15
	}
	if out.BoilerplatePenalty <= 0 {
		out.BoilerplatePenalty = 0.35
	}
	return out
}

// HybridRetriever issues combined dense+sparse index queries, re-ranks the
// oversampled candidate pool, and guarantees non-empty, deduplicated
// evidence. One index rejection of sparse vectors permanently degrades the
// instance to dense-only; the condition is reported per call, never fatal.
type HybridRetriever struct {
	index   ports.VectorIndex
	sparse  ports.SparseEncoder
	lexicon ports.Lexicon
	results ports.Cache
	cfg     RetrieverConfig

	mu             sync.Mutex
	sparseDisabled bool
}

func NewHybridRetriever(index ports.VectorIndex, sparse ports.SparseEncoder, lexicon ports.Lexicon, results ports.Cache, cfg RetrieverConfig) *HybridRetriever {
	return &HybridRetriever{
		index:   index,
		sparse:  sparse,
		lexicon: lexicon,
		results: results,
		cfg:     cfg.normalize(),
	}
}

type RetrieveOptions struct {
	TextQuery  string
	Filter     domain.Predicate
	TopK       int
	Preprocess bool
	DenseOnly  bool
}

type RetrievalResult struct {
	Items          []domain.EvidenceItem
	SparseDegraded bool
}

func (r *HybridRetriever) Retrieve(ctx context.Context, dense []float32, opts RetrieveOptions) (*RetrievalResult, error) {
	if len(dense) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("dense vector is required"))
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	scoringText := opts.TextQuery
	if opts.Preprocess && r.lexicon != nil {
		scoringText = r.lexicon.ExpandQuery(scoringText)
	}

	key := r.cacheKey(opts, topK)
	if r.results != nil {
		if cached, ok := r.results.Get(key); ok {
			if result, ok := cached.(*RetrievalResult); ok {
				// The degradation flag describes the instance now, not the
				// moment the entry was filled.
				return &RetrievalResult{Items: result.Items, SparseDegraded: r.SparseDegraded()}, nil
			}
		}
	}

	hits, degraded, err := r.queryIndex(ctx, dense, opts, topK*r.cfg.Oversample)
	if err != nil {
		return nil, err
	}

	items := r.rerank(scoringText, hits)
	items = r.selectEvidence(items, topK)

	result := &RetrievalResult{Items: items, SparseDegraded: degraded}
	if r.results != nil {
		r.results.Set(key, result)
	}
	return result, nil
}

// SparseDegraded reports whether the instance has permanently fallen back
// to dense-only queries.
func (r *HybridRetriever) SparseDegraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sparseDisabled
}

func (r *HybridRetriever) queryIndex(ctx context.Context, dense []float32, opts RetrieveOptions, fetch int) ([]domain.IndexHit, bool, error) {
	var sparseVec *domain.SparseVector
	degraded := r.SparseDegraded()
	if !degraded && !opts.DenseOnly && r.sparse != nil {
		sparseVec = r.sparse.Encode(opts.TextQuery)
	}

	hits, err := r.index.Query(ctx, domain.IndexQuery{
		Dense:  dense,
		Sparse: sparseVec,
		Filter: opts.Filter,
		TopK:   fetch,
	})
	if err != nil && sparseVec != nil && domain.IsKind(err, domain.ErrSparseUnsupported) {
		r.mu.Lock()
		r.sparseDisabled = true
		r.mu.Unlock()

		hits, err = r.index.Query(ctx, domain.IndexQuery{
			Dense:  dense,
			Filter: opts.Filter,
			TopK:   fetch,
		})
		degraded = true
	}
	if err != nil {
		return nil, degraded, fmt.Errorf("index query: %w", err)
	}
	return hits, degraded, nil
}

// rerank blends the index score with query-term frequency and penalizes
// disclaimer boilerplate. Index scores are min-max normalized inside the
// candidate pool, so the blend weights hold regardless of metric scale.
func (r *HybridRetriever) rerank(query string, hits []domain.IndexHit) []domain.EvidenceItem {
	if len(hits) == 0 {
		return nil
	}

	minScore := hits[0].Score
	maxScore := hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < minScore {
			minScore = hit.Score
		}
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	var markers []string
	if r.lexicon != nil {
		markers = r.lexicon.BoilerplateMarkers()
	}
	queryTokens := toTokenSet(query)

	out := make([]domain.EvidenceItem, 0, len(hits))
	for _, hit := range hits {
		item := hit.Evidence(domain.SourceNarrative)
		score := r.cfg.IndexWeight*normalize(hit.Score) +
			r.cfg.TermWeight*tokenOverlap(queryTokens, toTokenSet(hit.Text))
		if containsAnyMarker(hit.Text, markers) {
			score -= r.cfg.BoilerplatePenalty
		}
		item.Score = score
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > r.cfg.PoolSize {
		out = out[:r.cfg.PoolSize]
	}
	return out
}

// selectEvidence applies the score floor, deduplicates by
// entity+period+content-type+source (first wins), guarantees a non-empty
// result, and backfills from the deduplicated remainder up to MinEvidence.
func (r *HybridRetriever) selectEvidence(pool []domain.EvidenceItem, topK int) []domain.EvidenceItem {
	if len(pool) == 0 {
		return nil
	}

	var kept []domain.EvidenceItem
	var rest []domain.EvidenceItem
	seen := make(map[string]struct{}, len(pool))
	for _, item := range pool {
		if item.Score < r.cfg.ScoreFloor {
			rest = append(rest, item)
			continue
		}
		key := item.DedupKey()
		if _, dup := seen[key]; dup {
			rest = append(rest, item)
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, item)
	}

	// The floor must never empty the result; the single best candidate is
	// still the best available grounding.
	if len(kept) == 0 {
		kept = append(kept, pool[0])
		seen[pool[0].DedupKey()] = struct{}{}
	}

	for _, item := range rest {
		if len(kept) >= r.cfg.MinEvidence {
			break
		}
		key := item.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, item)
	}

	if len(kept) > topK && topK >= r.cfg.MinEvidence {
		kept = kept[:topK]
	}
	return kept
}

func (r *HybridRetriever) cacheKey(opts RetrieveOptions, topK int) string {
	return fmt.Sprintf("%s|%v|%d|%t|%t", opts.TextQuery, opts.Filter, topK, opts.Preprocess, opts.DenseOnly)
}

func containsAnyMarker(text string, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, marker := range markers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func tokenOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 || len(text) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := text[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{}, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}
