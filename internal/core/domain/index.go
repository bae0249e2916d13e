package domain

import "time"

// IndexQuery is one combined similarity query against the vector index.
// Sparse may be nil for dense-only retrieval; Filter may be nil for no
// metadata constraint.
type IndexQuery struct {
	Dense  []float32
	Sparse *SparseVector
	Filter Predicate
	TopK   int
}

// IndexHit is one raw match returned by the vector index, before hybrid
// re-ranking.
type IndexHit struct {
	ID          string
	Score       float64
	Entity      string
	Period      Period
	ContentType string
	Text        string
	Source      string
	PublishedAt time.Time
}

func (h IndexHit) Evidence(kind SourceKind) EvidenceItem {
	return EvidenceItem{
		ID:          h.ID,
		Score:       h.Score,
		SourceKind:  kind,
		Entity:      h.Entity,
		Period:      h.Period,
		ContentType: h.ContentType,
		Text:        h.Text,
		Provenance:  h.Source,
		PublishedAt: h.PublishedAt,
	}
}
