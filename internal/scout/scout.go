// Package scout implements the cross-domain existence probe: a
// synonym-expanded keyword search against every candidate domain that
// reveals which backends actually hold matching documents before any
// SQL or vector work is spent on them.
package scout

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/dict"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// SearchEngine is the slice of the keyword engine the scout needs.
type SearchEngine interface {
	Enabled() bool
	IndexFor(entity string) string
	Search(ctx context.Context, index string, body map[string]any) (*backend.ESResponse, error)
}

// Scout probes domains and emits per-domain doc-id sets.
type Scout struct {
	es     SearchEngine
	schema *catalog.Schema
	cfg    config.ScoutConfig
	logger zerolog.Logger
}

// New creates a Scout.
func New(es SearchEngine, schema *catalog.Schema, cfg config.ScoutConfig) *Scout {
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = 50
	}
	if cfg.KeepTop <= 0 {
		cfg.KeepTop = 20
	}
	if cfg.MaxSynonymsPerKeyword <= 0 {
		cfg.MaxSynonymsPerKeyword = 3
	}
	return &Scout{
		es:     es,
		schema: schema,
		cfg:    cfg,
		logger: observability.Logger("scout"),
	}
}

var capabilityCuePattern = regexp.MustCompile(`역량|보유|기술력|전문성`)

var probeFields = []string{"title", "summary", "spec_summary", "body"}

// Probe runs the scan and updates the state in place: synonym-expanded
// keywords, per-domain doc ids, hit counts and entity-type activation.
func (s *Scout) Probe(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	core := append([]string(nil), state.Keywords...)
	expanded, synonyms := ExpandKeywords(core, s.cfg.MaxSynonymsPerKeyword)
	state.Keywords = expanded
	state.SynonymKeywords = synonyms

	domains := s.scanDomains(&state)

	docIDs := make(map[string][]string)
	hits := make(map[string]int)
	if s.es.Enabled() && len(expanded) > 0 {
		for _, domain := range domains {
			ids, n := s.probeDomain(ctx, domain, core, synonyms, expanded)
			if n > 0 {
				docIDs[domain] = ids
				hits[domain] = n
			}
		}
	}
	state.ESDocIDs = docIDs
	state.DomainHits = hits

	state.EntityTypes = s.resolveEntityTypes(&state, docIDs)
	return state
}

// scanDomains decides which domains to probe. Explicit entity types
// win; otherwise the full scout set is scanned, minus equipment when
// the query asks about capabilities. Owning an instrument is not a
// capability.
func (s *Scout) scanDomains(state *models.WorkflowState) []string {
	if len(state.EntityTypes) > 0 {
		out := make([]string, 0, len(state.EntityTypes))
		for _, e := range state.EntityTypes {
			for _, d := range catalog.ScoutDomains {
				if e == d {
					out = append(out, e)
					break
				}
			}
		}
		return out
	}
	out := make([]string, 0, len(catalog.ScoutDomains))
	excludeEquip := s.cfg.ExcludeEquipmentOnCapability && capabilityCuePattern.MatchString(state.Query)
	for _, d := range catalog.ScoutDomains {
		if excludeEquip && d == catalog.EntityEquip {
			continue
		}
		out = append(out, d)
	}
	return out
}

// probeDomain searches one domain and applies the core-vs-synonym match
// filter, keeping the top hits by (match score, ES score).
func (s *Scout) probeDomain(ctx context.Context, domain string, core, synonyms, expanded []string) ([]string, int) {
	body := backend.BoolShouldQuery(expanded, probeFields, s.cfg.ProbeLimit)
	resp, err := s.es.Search(ctx, s.es.IndexFor(domain), body)
	if err != nil {
		s.logger.Warn().Err(err).Str("domain", domain).Msg("scout probe failed")
		return nil, 0
	}

	type scored struct {
		hit        backend.ESHit
		matchScore int
	}
	kept := make([]scored, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		ms := matchScore(hitText(hit), core, synonyms)
		if ms == 0 {
			continue
		}
		kept = append(kept, scored{hit: hit, matchScore: ms})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].matchScore != kept[j].matchScore {
			return kept[i].matchScore > kept[j].matchScore
		}
		return kept[i].hit.Score > kept[j].hit.Score
	})
	if len(kept) > s.cfg.KeepTop {
		kept = kept[:s.cfg.KeepTop]
	}

	idCol := s.schema.IDColumnFor(domain)
	ids := make([]string, 0, len(kept))
	for _, k := range kept {
		if v, ok := k.hit.Source[idCol].(string); ok && v != "" {
			ids = append(ids, v)
			continue
		}
		ids = append(ids, k.hit.ID)
	}
	return ids, len(kept)
}

// matchScore classifies one hit: 2 for a core-keyword match, 3 when a
// synonym also matches, 1 for a synonym-only match, 0 otherwise. This
// keeps ES relevance from being dominated by synonyms that occur in
// unrelated documents.
func matchScore(text string, core, synonyms []string) int {
	coreMatch := containsAny(text, core)
	synMatch := containsAny(text, synonyms)
	switch {
	case coreMatch && synMatch:
		return 3
	case coreMatch:
		return 2
	case synMatch:
		return 1
	default:
		return 0
	}
}

func hitText(hit backend.ESHit) string {
	var sb strings.Builder
	for _, field := range probeFields {
		if v, ok := hit.Source[field].(string); ok {
			sb.WriteString(v)
			sb.WriteByte(' ')
		}
	}
	return strings.ToLower(sb.String())
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// resolveEntityTypes applies the activation policy: analyzer-provided
// types are kept (with es_doc_ids pruned to them); otherwise active
// domains win, then the default set.
func (s *Scout) resolveEntityTypes(state *models.WorkflowState, docIDs map[string][]string) []string {
	if len(state.EntityTypes) > 0 {
		keep := make(map[string]bool, len(state.EntityTypes))
		for _, e := range state.EntityTypes {
			keep[e] = true
		}
		for domain := range docIDs {
			if !keep[domain] {
				delete(docIDs, domain)
				delete(state.DomainHits, domain)
			}
		}
		return state.EntityTypes
	}

	active := make([]string, 0, len(docIDs))
	for _, d := range catalog.ScoutDomains {
		if len(docIDs[d]) > 0 {
			active = append(active, d)
		}
	}
	if len(active) > 0 {
		return active
	}
	return append([]string(nil), catalog.DefaultDomains...)
}

// ExpandKeywords appends dictionary synonyms to the keyword list,
// capped per original keyword, deduplicated in order. Exact group
// matches come first; headwords that merely contain the keyword (or
// are contained in it) fill whatever the cap leaves.
func ExpandKeywords(keywords []string, maxPerKeyword int) (expanded, synonyms []string) {
	seen := make(map[string]bool, len(keywords))
	expanded = make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		expanded = append(expanded, kw)
	}
	for _, kw := range keywords {
		added := 0
		take := func(syn string) {
			if seen[syn] {
				return
			}
			seen[syn] = true
			expanded = append(expanded, syn)
			synonyms = append(synonyms, syn)
			added++
		}
		for _, syn := range dict.Synonyms(kw, maxPerKeyword) {
			take(syn)
		}
		if added < maxPerKeyword {
			for _, syn := range dict.PartialMatches(kw, maxPerKeyword-added) {
				take(syn)
			}
		}
	}
	return expanded, synonyms
}
