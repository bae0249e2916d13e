package domain

import "strings"

// Strategy selects how narrative evidence is retrieved for a query.
type Strategy string

const (
	StrategyAuto            Strategy = "auto"
	StrategyDenseOnly       Strategy = "dense-only"
	StrategyHybridBM25      Strategy = "hybrid-bm25"
	StrategyHypotheticalDoc Strategy = "hypothetical-doc"
	StrategyMultiQuery      Strategy = "multi-query"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyAuto, StrategyDenseOnly, StrategyHybridBM25, StrategyHypotheticalDoc, StrategyMultiQuery:
		return true
	default:
		return false
	}
}

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Query is the immutable input of one pipeline run. Construct it once per
// request and do not mutate it afterwards.
type Query struct {
	Text       string     `json:"text"`
	Strategy   Strategy   `json:"strategy"`
	EntityHint string     `json:"entity_hint,omitempty"`
	PeriodHint *Period    `json:"period_hint,omitempty"`
	TopK       int        `json:"top_k,omitempty"`
	History    []ChatTurn `json:"history,omitempty"`
}

func (q Query) Empty() bool {
	return strings.TrimSpace(q.Text) == ""
}
