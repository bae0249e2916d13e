package usecase

import (
	"fmt"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/core/ports"
)

const groundingSystemPrompt = `You are a financial research assistant. Answer strictly from the numbered sources below.

Rules:
- Cite every factual claim with its source number, like [1] or [2][3].
- Report figures exactly as the sources state them, including units and fiscal periods.
- Fiscal periods differ between companies; never equate fiscal quarters across companies without saying so.
- If the sources do not contain the answer, say the information was not found in the provided sources. Do not guess and do not use outside knowledge.`

const maxHistoryTurns = 6

// PromptBuilder assembles the grounded completion request. The evidence
// block is budgeted by token count; items past the budget are dropped from
// the prompt and from the citation set together, so every [n] in the answer
// resolves to an item the model actually saw.
type PromptBuilder struct {
	counter ports.TokenCounter
	budget  int
}

func NewPromptBuilder(counter ports.TokenCounter, budget int) *PromptBuilder {
	if budget <= 0 {
		budget = 6000
	}
	return &PromptBuilder{counter: counter, budget: budget}
}

// Build returns the completion request and the evidence items that made it
// into the prompt, in citation order. At least one item is always included
// when evidence is non-empty.
func (b *PromptBuilder) Build(query domain.Query, evidence []domain.EvidenceItem) (domain.CompletionRequest, []domain.EvidenceItem) {
	remaining := b.budget - b.count(groundingSystemPrompt) - b.count(query.Text)

	var block strings.Builder
	var included []domain.EvidenceItem
	for _, item := range evidence {
		entry := formatEvidence(len(included)+1, item)
		cost := b.count(entry)
		if len(included) > 0 && cost > remaining {
			break
		}
		block.WriteString(entry)
		block.WriteString("\n\n")
		included = append(included, item)
		remaining -= cost
	}

	system := groundingSystemPrompt
	if len(included) > 0 {
		system += "\n\nSources:\n\n" + strings.TrimRight(block.String(), "\n")
	} else {
		system += "\n\nSources: none available for this question."
	}

	messages := historyTail(query.History, maxHistoryTurns)
	messages = append(messages, domain.ChatTurn{Role: "user", Content: query.Text})

	return domain.CompletionRequest{
		System:      system,
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.2,
	}, included
}

func (b *PromptBuilder) count(text string) int {
	if b.counter == nil {
		// Rough chars-per-token estimate when no counter is wired.
		return len(text)/4 + 1
	}
	return b.counter.Count(text)
}

func formatEvidence(index int, item domain.EvidenceItem) string {
	var header strings.Builder
	fmt.Fprintf(&header, "[%d]", index)
	if item.Entity != "" {
		header.WriteString(" " + item.Entity)
	}
	if !item.Period.IsZero() {
		header.WriteString(" " + item.Period.String())
	}
	if item.ContentType != "" {
		header.WriteString(" " + item.ContentType)
	}
	if item.Provenance != "" {
		header.WriteString(" (" + item.Provenance + ")")
	}
	return header.String() + "\n" + strings.TrimSpace(item.Text)
}

func historyTail(history []domain.ChatTurn, limit int) []domain.ChatTurn {
	if len(history) == 0 {
		return nil
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]domain.ChatTurn, 0, len(history))
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		out = append(out, turn)
	}
	return out
}

// makeCitations maps the included evidence to numbered citations matching
// the prompt's [n] indices.
func makeCitations(included []domain.EvidenceItem) []domain.Citation {
	citations := make([]domain.Citation, 0, len(included))
	for i, item := range included {
		citations = append(citations, domain.Citation{
			Index:      i + 1,
			Entity:     item.Entity,
			Period:     item.Period,
			SourceKind: item.SourceKind,
			Provenance: item.Provenance,
			Snippet:    snippet(item.Text, 240),
			Score:      item.Score,
		})
	}
	return citations
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
