package registry

import (
	_ "embed"
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var embeddedLexicon []byte

type entityEntry struct {
	Ticker             string             `yaml:"ticker"`
	Name               string             `yaml:"name"`
	Aliases            []string           `yaml:"aliases"`
	FiscalYearEndMonth int                `yaml:"fiscal_year_end_month"`
	Peers              []string           `yaml:"peers"`
	FocusBoosts        map[string]float64 `yaml:"focus_boosts"`
}

type lexiconFile struct {
	Entities           []entityEntry       `yaml:"entities"`
	DomainTerms        []string            `yaml:"domain_terms"`
	Synonyms           map[string][]string `yaml:"synonyms"`
	BoilerplateMarkers []string            `yaml:"boilerplate_markers"`
}

// Registry is the static domain vocabulary: covered entities with aliases
// and fiscal calendars, finance terms, synonym expansions, and boilerplate
// markers. Loaded once at startup from the embedded lexicon; read-only
// afterwards, so it is safe for concurrent use.
type Registry struct {
	entities    []entityEntry
	byTicker    map[string]*entityEntry
	aliasIndex  map[string]string
	domainTerms map[string]struct{}
	synonyms    map[string][]string
	boilerplate []string
}

func Load() (*Registry, error) {
	return parse(embeddedLexicon)
}

func parse(raw []byte) (*Registry, error) {
	var file lexiconFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse lexicon yaml: %w", err)
	}
	if len(file.Entities) == 0 {
		return nil, fmt.Errorf("lexicon has no entities")
	}

	reg := &Registry{
		entities:    file.Entities,
		byTicker:    make(map[string]*entityEntry, len(file.Entities)),
		aliasIndex:  make(map[string]string),
		domainTerms: make(map[string]struct{}, len(file.DomainTerms)),
		synonyms:    file.Synonyms,
		boilerplate: file.BoilerplateMarkers,
	}
	for i := range reg.entities {
		entry := &reg.entities[i]
		ticker := strings.ToUpper(strings.TrimSpace(entry.Ticker))
		if ticker == "" {
			return nil, fmt.Errorf("lexicon entity %d has no ticker", i)
		}
		entry.Ticker = ticker
		reg.byTicker[ticker] = entry
		reg.aliasIndex[strings.ToLower(ticker)] = ticker
		for _, alias := range entry.Aliases {
			alias = strings.ToLower(strings.TrimSpace(alias))
			if alias != "" {
				reg.aliasIndex[alias] = ticker
			}
		}
	}
	for _, term := range file.DomainTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			reg.domainTerms[term] = struct{}{}
		}
	}
	return reg, nil
}

// ResolveEntities scans free text for entity aliases and returns canonical
// tickers in order of first mention.
func (r *Registry) ResolveEntities(text string) []string {
	lower := " " + strings.ToLower(text) + " "

	type hit struct {
		ticker string
		pos    int
	}
	var hits []hit
	seen := make(map[string]struct{})
	for alias, ticker := range r.aliasIndex {
		pos := indexWord(lower, alias)
		if pos < 0 {
			continue
		}
		if _, dup := seen[ticker]; dup {
			continue
		}
		seen[ticker] = struct{}{}
		hits = append(hits, hit{ticker: ticker, pos: pos})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].ticker < hits[j].ticker
	})

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.ticker)
	}
	return out
}

// indexWord finds alias as a whole word inside text (text must be padded
// with spaces). Aliases never contain regex metacharacters, so a plain
// scan is enough.
func indexWord(padded, alias string) int {
	from := 0
	for {
		idx := strings.Index(padded[from:], alias)
		if idx < 0 {
			return -1
		}
		idx += from
		before := padded[idx-1]
		afterIdx := idx + len(alias)
		after := byte(' ')
		if afterIdx < len(padded) {
			after = padded[afterIdx]
		}
		if !isWordByte(before) && !isWordByte(after) {
			return idx
		}
		from = idx + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (r *Registry) Canonical(alias string) (string, bool) {
	ticker, ok := r.aliasIndex[strings.ToLower(strings.TrimSpace(alias))]
	return ticker, ok
}

func (r *Registry) EntityName(ticker string) string {
	if entry, ok := r.byTicker[strings.ToUpper(ticker)]; ok {
		return entry.Name
	}
	return ticker
}

func (r *Registry) Entities() []string {
	out := make([]string, 0, len(r.entities))
	for _, entry := range r.entities {
		out = append(out, entry.Ticker)
	}
	return out
}

func (r *Registry) FiscalYearEndMonth(ticker string) (int, bool) {
	entry, ok := r.byTicker[strings.ToUpper(ticker)]
	if !ok || entry.FiscalYearEndMonth < 1 || entry.FiscalYearEndMonth > 12 {
		return 0, false
	}
	return entry.FiscalYearEndMonth, true
}

func (r *Registry) IsDomainTerm(token string) bool {
	_, ok := r.domainTerms[strings.ToLower(token)]
	return ok
}

func (r *Registry) DomainTerms() []string {
	out := make([]string, 0, len(r.domainTerms))
	for term := range r.domainTerms {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

// ExpandQuery appends curated synonym expansions for domain phrases found
// in the query, widening recall without replacing the original wording.
func (r *Registry) ExpandQuery(text string) string {
	lower := strings.ToLower(text)
	var additions []string
	keys := make([]string, 0, len(r.synonyms))
	for key := range r.synonyms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !strings.Contains(lower, key) {
			continue
		}
		for _, syn := range r.synonyms[key] {
			if !strings.Contains(lower, strings.ToLower(syn)) {
				additions = append(additions, syn)
			}
		}
	}
	if len(additions) == 0 {
		return text
	}
	return text + " " + strings.Join(additions, ", ")
}

func (r *Registry) BoilerplateMarkers() []string {
	return r.boilerplate
}

func (r *Registry) FocusBoosts(ticker string) map[string]float64 {
	if entry, ok := r.byTicker[strings.ToUpper(ticker)]; ok {
		return entry.FocusBoosts
	}
	return nil
}

// PeerGraph serves peer lookups from the embedded lexicon when no external
// entity graph is configured.
type PeerGraph struct {
	registry *Registry
}

func NewPeerGraph(registry *Registry) *PeerGraph {
	return &PeerGraph{registry: registry}
}

func (g *PeerGraph) Peers(_ context.Context, ticker string) ([]string, error) {
	entry, ok := g.registry.byTicker[strings.ToUpper(ticker)]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), entry.Peers...), nil
}
