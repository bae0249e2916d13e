package domain

import "time"

// AuditRecord is the persisted trail of one answered question, kept for
// post-hoc evaluation of retrieval quality and verification accuracy.
type AuditRecord struct {
	ID           string             `json:"id"`
	Question     string             `json:"question"`
	Strategy     Strategy           `json:"strategy"`
	Intent       Intent             `json:"intent"`
	Answer       string             `json:"answer"`
	Citations    []Citation         `json:"citations,omitempty"`
	Verification VerificationReport `json:"verification"`
	LatencyMS    float64            `json:"latency_ms"`
	CreatedAt    time.Time          `json:"created_at"`
}
