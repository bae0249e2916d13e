package domain

import (
	"strings"
	"time"
)

type SourceKind string

const (
	SourceNarrative       SourceKind = "narrative"
	SourceStructured      SourceKind = "structured"
	SourceKeywordFallback SourceKind = "keyword-fallback"
)

// EvidenceItem is one unit of retrieved context. Scores are unitless and
// comparable only within a single retrieval batch unless explicitly fused.
// Items live for one request and are never persisted.
type EvidenceItem struct {
	ID          string     `json:"id"`
	Score       float64    `json:"score"`
	SourceKind  SourceKind `json:"source_kind"`
	Entity      string     `json:"entity,omitempty"`
	Period      Period     `json:"period,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Text        string     `json:"text"`
	Provenance  string     `json:"provenance,omitempty"`
	PublishedAt time.Time  `json:"published_at,omitzero"`
}

// IdentityKey is the stable key used by rank fusion to recognize the same
// item across result sets.
func (e EvidenceItem) IdentityKey() string {
	if e.ID != "" {
		return e.ID
	}
	return strings.Join([]string{e.Entity, e.Period.String(), e.Provenance}, "|")
}

// DedupKey collapses near-duplicate evidence: one item per
// entity+period+content-type+source document.
func (e EvidenceItem) DedupKey() string {
	return strings.Join([]string{e.Entity, e.Period.String(), e.ContentType, e.Provenance}, "|")
}
