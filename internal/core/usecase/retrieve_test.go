package usecase

import (
	"context"
	"testing"

	"github.com/bme3412/clarity/internal/core/domain"
)

type fakeIndex struct {
	hits        []domain.IndexHit
	err         error
	sparseFails bool
	calls       []domain.IndexQuery
}

func (f *fakeIndex) Query(_ context.Context, q domain.IndexQuery) ([]domain.IndexHit, error) {
	f.calls = append(f.calls, q)
	if f.err != nil {
		return nil, f.err
	}
	if f.sparseFails && q.Sparse.Len() > 0 {
		return nil, domain.WrapError(domain.ErrSparseUnsupported, "index query", context.Canceled)
	}
	if q.TopK < len(f.hits) {
		return f.hits[:q.TopK], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Upsert(context.Context, []domain.NarrativeChunk) error { return nil }

type fakeSparse struct{}

func (fakeSparse) Encode(text string) *domain.SparseVector {
	if text == "" {
		return nil
	}
	return &domain.SparseVector{Indices: []uint32{1, 5}, Values: []float64{1, 1}}
}

func hit(id string, score float64, text string) domain.IndexHit {
	return domain.IndexHit{
		ID:          id,
		Score:       score,
		Entity:      "AAPL",
		Period:      domain.NewPeriod(2024, 1),
		ContentType: domain.ContentTypeEarningsCall,
		Text:        text,
		Source:      "AAPL/FY2024/Q1_earnings_call.md",
	}
}

func TestRetrieveScoreFloorKeepsBestCandidate(t *testing.T) {
	index := &fakeIndex{hits: []domain.IndexHit{
		hit("a", 0.0, "unrelated text"),
		hit("b", 0.0, "more unrelated text"),
	}}
	retriever := NewHybridRetriever(index, fakeSparse{}, nil, nil, RetrieverConfig{ScoreFloor: 0.9})

	result, err := retriever.Retrieve(context.Background(), []float32{1, 2}, RetrieveOptions{TextQuery: "nothing matches", TopK: 3})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.Items) == 0 {
		t.Fatalf("score floor must never empty the result")
	}
}

func TestRetrieveDedupKeepsFirstAndBackfills(t *testing.T) {
	sameDoc := "AAPL/FY2024/Q1_earnings_call.md"
	index := &fakeIndex{hits: []domain.IndexHit{
		{ID: "a", Score: 0.9, Entity: "AAPL", Period: domain.NewPeriod(2024, 1), ContentType: domain.ContentTypeEarningsCall, Text: "services revenue record", Source: sameDoc},
		{ID: "b", Score: 0.8, Entity: "AAPL", Period: domain.NewPeriod(2024, 1), ContentType: domain.ContentTypeEarningsCall, Text: "services revenue detail", Source: sameDoc},
		{ID: "c", Score: 0.7, Entity: "AAPL", Period: domain.NewPeriod(2023, 4), ContentType: domain.ContentTypeEarningsCall, Text: "prior quarter revenue", Source: "AAPL/FY2023/Q4_earnings_call.md"},
	}}
	retriever := NewHybridRetriever(index, fakeSparse{}, nil, nil, DefaultRetrieverConfig())

	result, err := retriever.Retrieve(context.Background(), []float32{1, 2}, RetrieveOptions{TextQuery: "services revenue", TopK: 3})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.Items) < 2 {
		t.Fatalf("expected at least 2 items, got %d", len(result.Items))
	}
	if result.Items[0].ID != "a" {
		t.Fatalf("expected first-seen duplicate to win, got %s", result.Items[0].ID)
	}
	for _, item := range result.Items {
		if item.ID == "b" {
			t.Fatalf("duplicate of same entity+period+type+source must be dropped")
		}
	}
}

func TestRetrieveSparseRejectionDegradesPermanently(t *testing.T) {
	index := &fakeIndex{
		hits:        []domain.IndexHit{hit("a", 0.9, "revenue commentary")},
		sparseFails: true,
	}
	retriever := NewHybridRetriever(index, fakeSparse{}, nil, nil, DefaultRetrieverConfig())

	result, err := retriever.Retrieve(context.Background(), []float32{1}, RetrieveOptions{TextQuery: "revenue", TopK: 2})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !result.SparseDegraded {
		t.Fatalf("expected degradation flag on first rejection")
	}
	if !retriever.SparseDegraded() {
		t.Fatalf("expected permanent degradation")
	}

	if _, err := retriever.Retrieve(context.Background(), []float32{1}, RetrieveOptions{TextQuery: "margins", TopK: 2}); err != nil {
		t.Fatalf("second retrieve: %v", err)
	}
	last := index.calls[len(index.calls)-1]
	if last.Sparse.Len() != 0 {
		t.Fatalf("degraded retriever must not send sparse vectors")
	}
}

type mapCache struct{ entries map[string]any }

func newMapCache() *mapCache { return &mapCache{entries: make(map[string]any)} }

func (c *mapCache) Get(key string) (any, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *mapCache) Set(key string, value any) { c.entries[key] = value }
func (c *mapCache) Purge()                    { c.entries = make(map[string]any) }

func TestRetrieveCacheHitReflectsCurrentDegradation(t *testing.T) {
	index := &fakeIndex{
		hits:        []domain.IndexHit{hit("a", 0.9, "revenue commentary")},
		sparseFails: true,
	}
	retriever := NewHybridRetriever(index, fakeSparse{}, nil, newMapCache(), DefaultRetrieverConfig())

	// Dense-only call fills the cache before any sparse rejection happened.
	first, err := retriever.Retrieve(context.Background(), []float32{1}, RetrieveOptions{TextQuery: "revenue", TopK: 2, DenseOnly: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if first.SparseDegraded {
		t.Fatalf("dense-only call must not report degradation")
	}

	// A hybrid call trips the permanent dense-only fallback.
	if _, err := retriever.Retrieve(context.Background(), []float32{1}, RetrieveOptions{TextQuery: "margins", TopK: 2}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !retriever.SparseDegraded() {
		t.Fatalf("expected permanent degradation")
	}

	// Serving the earlier entry from cache must report the instance state
	// now, not the state when the entry was filled.
	calls := len(index.calls)
	cached, err := retriever.Retrieve(context.Background(), []float32{1}, RetrieveOptions{TextQuery: "revenue", TopK: 2, DenseOnly: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(index.calls) != calls {
		t.Fatalf("expected a cache hit, index was queried again")
	}
	if !cached.SparseDegraded {
		t.Fatalf("cached result must carry the current degradation flag")
	}
}

func TestRetrieveOversamplesIndexQuery(t *testing.T) {
	index := &fakeIndex{hits: []domain.IndexHit{hit("a", 1, "text")}}
	retriever := NewHybridRetriever(index, fakeSparse{}, nil, nil, DefaultRetrieverConfig())

	if _, err := retriever.Retrieve(context.Background(), []float32{1}, RetrieveOptions{TextQuery: "q", TopK: 4}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := index.calls[0].TopK; got != 12 {
		t.Fatalf("expected 3x oversampling (12), got %d", got)
	}
}
