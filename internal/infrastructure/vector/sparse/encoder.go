package sparse

import (
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bme3412/clarity/internal/core/domain"
)

const (
	domainTermBoost = 1.5
	maxTokens       = 1024
	maxTerms        = 256
)

var (
	currencyPattern = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	percentPattern  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*%`)
)

var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "did": {}, "do": {}, "does": {}, "for": {}, "from": {},
	"had": {}, "has": {}, "have": {}, "how": {}, "i": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "s": {}, "t": {},
	"that": {}, "the": {}, "their": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "we": {}, "were": {}, "what": {}, "with": {}, "you": {},
}

// Encoder hashes tokenized text into weighted sparse vectors. The token
// hash is cached for the process lifetime; identical input always produces
// an identical vector.
type Encoder struct {
	domainTerms map[string]struct{}
	hashCache   sync.Map
}

func NewEncoder(domainTerms []string) *Encoder {
	set := make(map[string]struct{}, len(domainTerms))
	for _, term := range domainTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			set[term] = struct{}{}
		}
	}
	return &Encoder{domainTerms: set}
}

// Encode returns nil for input that yields no tokens. Term weight is
// 1+ln(count), boosted for curated domain terms; hash collisions sum.
func (e *Encoder) Encode(text string) *domain.SparseVector {
	tokens := e.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	counts := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	weights := make(map[uint32]float64, len(counts))
	for tok, count := range counts {
		weight := 1.0 + math.Log(count)
		if _, boosted := e.domainTerms[tok]; boosted {
			weight *= domainTermBoost
		}
		weights[e.hashToken(tok)] += weight
	}

	indices := make([]uint32, 0, len(weights))
	for idx := range weights {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxTerms {
		indices = indices[:maxTerms]
	}

	values := make([]float64, 0, len(indices))
	for _, idx := range indices {
		weight := weights[idx]
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, weight)
	}

	return &domain.SparseVector{Indices: indices, Values: values}
}

// Tokenize lowercases, rewrites currency and percent figures into
// retrievable tokens, strips separators and stop-words, and caps the token
// count.
func (e *Encoder) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = normalizeNumericMarkers(text)

	raw := splitAlphaNum(text)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
		if len(out) >= maxTokens {
			break
		}
	}
	return out
}

// normalizeNumericMarkers keeps money and percent figures as single tokens:
// "$50" becomes dollar50, "10%" becomes 10percent.
func normalizeNumericMarkers(s string) string {
	s = currencyPattern.ReplaceAllStringFunc(s, func(m string) string {
		digits := currencyPattern.FindStringSubmatch(m)[1]
		return "dollar" + strings.ReplaceAll(digits, ",", "")
	})
	s = percentPattern.ReplaceAllStringFunc(s, func(m string) string {
		digits := percentPattern.FindStringSubmatch(m)[1]
		return digits + "percent"
	})
	return s
}

func (e *Encoder) hashToken(token string) uint32 {
	if cached, ok := e.hashCache.Load(token); ok {
		return cached.(uint32)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		sum = 1
	}
	e.hashCache.Store(token, sum)
	return sum
}

func splitAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
			continue
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
