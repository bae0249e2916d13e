package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

// Expander produces retrieval query variants. Both expansions depend on the
// generation provider and degrade to the plain query when it fails; the
// orchestrator records the degradation in the trace and continues.
type Expander struct {
	llm         ports.GenerationProvider
	lexicon     ports.Lexicon
	logger      *slog.Logger
	maxVariants int
}

func NewExpander(llm ports.GenerationProvider, lexicon ports.Lexicon, logger *slog.Logger, maxVariants int) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	if maxVariants < 2 {
		maxVariants = 3
	}
	if maxVariants > 5 {
		maxVariants = 5
	}
	return &Expander{llm: llm, lexicon: lexicon, logger: logger, maxVariants: maxVariants}
}

const variantsSystemPrompt = `You rewrite financial research questions for retrieval. Produce diverse rephrasings that keep the original meaning, entities and periods. Respond with a single JSON object and nothing else:
{"variants":["...","..."]}`

// Variants returns the original query first, followed by up to
// maxVariants-1 rephrasings. degraded is true when the LLM stage failed and
// only deterministic variants are available.
func (e *Expander) Variants(ctx context.Context, query domain.Query, intent domain.Intent) ([]string, bool) {
	variants := []string{query.Text}

	// Comparison questions get one deterministic per-entity variant each, so
	// every entity keeps retrieval budget even if the LLM rewrite fails.
	if intent.IsComparison() {
		for _, ticker := range intent.EntityRefs {
			name := e.lexicon.EntityName(ticker)
			variant := name + ": " + query.Text
			if len(variants) < e.maxVariants && !containsString(variants, variant) {
				variants = append(variants, variant)
			}
		}
	}

	if e.llm == nil {
		return variants, true
	}
	result, err := e.llm.Complete(ctx, domain.CompletionRequest{
		System:      variantsSystemPrompt,
		Messages:    []domain.ChatTurn{{Role: "user", Content: query.Text}},
		MaxTokens:   300,
		Temperature: 0.4,
	})
	if err != nil {
		e.logger.Warn("variant expansion failed, degrading to plain query", "error", err)
		return variants, true
	}
	payload, ok := decodeJSONObject[struct {
		Variants []string `json:"variants"`
	}](result.Text)
	if !ok {
		e.logger.Warn("variant expansion returned unparseable output, degrading")
		return variants, true
	}

	for _, variant := range payload.Variants {
		variant = strings.TrimSpace(variant)
		if variant == "" || containsString(variants, variant) {
			continue
		}
		if len(variants) >= e.maxVariants {
			break
		}
		variants = append(variants, variant)
	}
	return variants, false
}

const hypotheticalSystemPrompt = `Write a short hypothetical excerpt (3-4 sentences) from an earnings call transcript that would directly answer the user's question. Plain prose, no preamble, no disclaimers.`

// Hypothetical returns a synthetic transcript excerpt to embed in place of
// the query, or ("", true) when the generation failed.
func (e *Expander) Hypothetical(ctx context.Context, query domain.Query) (string, bool) {
	if e.llm == nil {
		return "", true
	}
	result, err := e.llm.Complete(ctx, domain.CompletionRequest{
		System:      hypotheticalSystemPrompt,
		Messages:    []domain.ChatTurn{{Role: "user", Content: query.Text}},
		MaxTokens:   250,
		Temperature: 0.5,
	})
	if err != nil {
		e.logger.Warn("hypothetical expansion failed, degrading to plain query", "error", err)
		return "", true
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", true
	}
	return text, false
}
