package domain

type Citation struct {
	Index      int        `json:"index"`
	Entity     string     `json:"entity,omitempty"`
	Period     Period     `json:"period,omitempty"`
	SourceKind SourceKind `json:"source_kind"`
	Provenance string     `json:"provenance,omitempty"`
	Snippet    string     `json:"snippet,omitempty"`
	Score      float64    `json:"score"`
}

type VerificationStatus string

const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationPartial    VerificationStatus = "partial"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationNoNumbers  VerificationStatus = "no_numbers"
)

// VerificationReport is advisory by default: it flags numeric claims without
// evidence support but does not retract streamed text.
type VerificationReport struct {
	Status           VerificationStatus `json:"status"`
	Matched          int                `json:"matched"`
	Unmatched        int                `json:"unmatched"`
	UnverifiedClaims []string           `json:"unverified_claims,omitempty"`
	Tolerance        float64            `json:"tolerance"`
}

type StageReport struct {
	Stage     string  `json:"stage"`
	LatencyMS float64 `json:"latency_ms"`
	Matches   int     `json:"matches"`
	Detail    string  `json:"detail,omitempty"`
}

type TraceFlags struct {
	IntentSource        IntentSource `json:"intent_source"`
	Strategy            Strategy     `json:"strategy"`
	UsedMetricsFallback bool         `json:"used_metrics_fallback"`
	UsedKeywordFallback bool         `json:"used_keyword_fallback"`
	SparseDegraded      bool         `json:"sparse_degraded"`
	RetrievalDegraded   bool         `json:"retrieval_degraded"`
	ExpansionDegraded   bool         `json:"expansion_degraded"`
	PartialFanout       bool         `json:"partial_fanout"`
	FiscalMismatch      bool         `json:"fiscal_mismatch"`
}

type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type PipelineTrace struct {
	RequestID      string             `json:"request_id"`
	Stages         []StageReport      `json:"stages"`
	Flags          TraceFlags         `json:"flags"`
	Verification   VerificationReport `json:"verification"`
	Usage          TokenUsage         `json:"usage"`
	TotalLatencyMS float64            `json:"total_latency_ms"`
}

type GroundedAnswer struct {
	Text      string        `json:"text"`
	Citations []Citation    `json:"citations"`
	Trace     PipelineTrace `json:"trace"`
}

// AnswerEventType enumerates the streamed event vocabulary. Ordering
// contract per request: status* retrieval* content* citations metrics end,
// with error allowed to terminate the sequence at any point.
type AnswerEventType string

const (
	EventStatus    AnswerEventType = "status"
	EventRetrieval AnswerEventType = "retrieval"
	EventContent   AnswerEventType = "content"
	EventCitations AnswerEventType = "citations"
	EventMetrics   AnswerEventType = "metrics"
	EventError     AnswerEventType = "error"
	EventEnd       AnswerEventType = "end"
)

type AnswerEvent struct {
	Type      AnswerEventType `json:"type"`
	Status    string          `json:"status,omitempty"`
	Stage     *StageReport    `json:"stage,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	Citations []Citation      `json:"citations,omitempty"`
	Trace     *PipelineTrace  `json:"trace,omitempty"`
	Error     string          `json:"error,omitempty"`
}
