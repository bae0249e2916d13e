package usecase

import (
	"sort"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
)

type fusedCandidate struct {
	item  domain.EvidenceItem
	score float64
}

// fuseRRF merges several ranked evidence sets with reciprocal rank fusion.
// Items sharing an identity key accumulate 1/(k+rank+1) per set; the first
// occurrence keeps its metadata, enriched from later duplicates.
func fuseRRF(sets [][]domain.EvidenceItem, rrfK int) []domain.EvidenceItem {
	if rrfK <= 0 {
		rrfK = 60
	}

	total := 0
	for _, set := range sets {
		total += len(set)
	}
	acc := make(map[string]fusedCandidate, total)
	order := make([]string, 0, total)

	for _, set := range sets {
		for rank, item := range set {
			key := item.IdentityKey()
			candidate, seen := acc[key]
			if !seen {
				order = append(order, key)
			}
			candidate.item = preferRicherItem(candidate.item, item)
			candidate.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	out := make([]domain.EvidenceItem, 0, len(acc))
	for _, key := range order {
		candidate := acc[key]
		item := candidate.item
		item.Score = candidate.score
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].IdentityKey() < out[j].IdentityKey()
	})
	return out
}

func preferRicherItem(current, candidate domain.EvidenceItem) domain.EvidenceItem {
	if current.ID == "" && current.Text == "" && current.Provenance == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Entity == "" && candidate.Entity != "" {
		current.Entity = candidate.Entity
	}
	if current.Period.IsZero() && !candidate.Period.IsZero() {
		current.Period = candidate.Period
	}
	if current.ContentType == "" && candidate.ContentType != "" {
		current.ContentType = candidate.ContentType
	}
	if current.Provenance == "" && candidate.Provenance != "" {
		current.Provenance = candidate.Provenance
	}
	if current.PublishedAt.IsZero() && !candidate.PublishedAt.IsZero() {
		current.PublishedAt = candidate.PublishedAt
	}
	return current
}

// Age-step multipliers, indexed by distance in fiscal quarters from the
// newest item in the batch.
var recencySteps = []float64{1.4, 1.3, 1.15, 1.0}

const recencyTail = 0.85

// applyRecency boosts newer evidence and applies per-entity focus-term
// multipliers, then re-sorts. It is skipped entirely when the user asked for
// explicit periods: a question about Q1 FY2023 must not have its own answer
// demoted for being old.
func applyRecency(items []domain.EvidenceItem, explicitPeriods bool, focusBoosts func(ticker string) map[string]float64) []domain.EvidenceItem {
	if len(items) == 0 {
		return items
	}

	if !explicitPeriods {
		newest := 0
		for _, item := range items {
			if idx := item.Period.Index(); idx > newest {
				newest = idx
			}
		}
		if newest > 0 {
			for i := range items {
				idx := items[i].Period.Index()
				if idx == 0 {
					continue
				}
				age := newest - idx
				multiplier := recencyTail
				if age >= 0 && age < len(recencySteps) {
					multiplier = recencySteps[age]
				}
				items[i].Score *= multiplier
			}
		}
	}

	if focusBoosts != nil {
		for i := range items {
			boosts := focusBoosts(items[i].Entity)
			if len(boosts) == 0 {
				continue
			}
			lower := strings.ToLower(items[i].Text)
			best := 1.0
			for term, multiplier := range boosts {
				if multiplier > best && strings.Contains(lower, strings.ToLower(term)) {
					best = multiplier
				}
			}
			items[i].Score *= best
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].IdentityKey() < items[j].IdentityKey()
	})
	return items
}
