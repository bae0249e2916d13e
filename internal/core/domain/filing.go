package domain

import "time"

type FilingStatus string

const (
	FilingReceived   FilingStatus = "received"
	FilingProcessing FilingStatus = "processing"
	FilingIndexed    FilingStatus = "indexed"
	FilingFailed     FilingStatus = "failed"
)

// Filing is one ingested source document: an earnings-call transcript,
// press release, prepared remarks, or a quarterly metrics workbook.
type Filing struct {
	ID          string       `json:"id"`
	Entity      string       `json:"entity"`
	Period      Period       `json:"period"`
	ContentType string       `json:"content_type"`
	Filename    string       `json:"filename"`
	MimeType    string       `json:"mime_type"`
	StoragePath string       `json:"storage_path"`
	Status      FilingStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	ChunkCount  int          `json:"chunk_count,omitempty"`
	PublishedAt time.Time    `json:"published_at,omitzero"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Narrative content types carried by the index.
const (
	ContentTypeEarningsCall    = "earnings_call"
	ContentTypePreparedRemarks = "prepared_remarks"
	ContentTypePressRelease    = "press_release"
	ContentTypeQASession       = "qa_session"
	ContentTypeMetricsWorkbook = "metrics_workbook"
)

// NarrativeChunk is one indexed slice of a filing.
type NarrativeChunk struct {
	ID          string        `json:"id"`
	FilingID    string        `json:"filing_id"`
	Entity      string        `json:"entity"`
	Period      Period        `json:"period"`
	ContentType string        `json:"content_type"`
	ChunkIndex  int           `json:"chunk_index"`
	Text        string        `json:"text"`
	Source      string        `json:"source"`
	PublishedAt time.Time     `json:"published_at,omitzero"`
	Dense       []float32     `json:"-"`
	Sparse      *SparseVector `json:"-"`
}
