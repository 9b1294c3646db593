// Package enhance implements the vector keyword enhancer: a dense search
// over the active entity collections whose payloads are mined for
// frequent nouns, yielding an expanded keyword set per entity.
package enhance

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the slice of the vector store the enhancer needs.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]backend.VectorHit, error)
}

// ChatClient reviews candidate expansions when enabled.
type ChatClient interface {
	Chat(ctx context.Context, system, prompt string) (string, error)
}

// Enhancer expands the keyword set from vector-search payloads.
type Enhancer struct {
	embedder Embedder
	vectors  VectorSearcher
	llm      ChatClient
	cfg      config.EnhancerConfig
	logger   zerolog.Logger
}

// New creates an Enhancer. llm may be nil; review is then skipped even
// when configured on.
func New(embedder Embedder, vectors VectorSearcher, llm ChatClient, cfg config.EnhancerConfig) *Enhancer {
	if cfg.HitsPerCollection <= 0 {
		cfg.HitsPerCollection = 100
	}
	if cfg.MinFrequency <= 0 {
		cfg.MinFrequency = 60
	}
	if cfg.MaxExpansion <= 0 {
		cfg.MaxExpansion = 3
	}
	return &Enhancer{
		embedder: embedder,
		vectors:  vectors,
		llm:      llm,
		cfg:      cfg,
		logger:   observability.Logger("enhance"),
	}
}

// Enhance runs keyword expansion per active entity and records the union
// on the state. Failures degrade to no expansion, never to an error.
func (e *Enhancer) Enhance(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	if len(state.Keywords) == 0 || len(state.EntityTypes) == 0 {
		return state
	}

	vector, err := e.embedder.Embed(ctx, strings.Join(state.Keywords, " "))
	if err != nil {
		e.logger.Warn().Err(err).Msg("query embedding failed, skipping enhancement")
		return state
	}

	entityKeywords := make(map[string][]string, len(state.EntityTypes))
	var union []string
	seen := make(map[string]bool)
	for _, kw := range state.Keywords {
		seen[kw] = true
	}

	for _, entity := range state.EntityTypes {
		expanded := e.enhanceEntity(ctx, entity, vector, state.Keywords)
		if len(expanded) == 0 {
			continue
		}
		entityKeywords[entity] = expanded
		for _, kw := range expanded {
			if !seen[kw] {
				seen[kw] = true
				union = append(union, kw)
			}
		}
	}

	if len(entityKeywords) > 0 {
		state.EntityKeywords = entityKeywords
	}
	state.ExpandedKeywords = union
	return state
}

// enhanceEntity runs the single-entity pipeline: parallel search across
// the entity's collections, payload mining, frequency and payload
// filters, then optional LLM review.
func (e *Enhancer) enhanceEntity(ctx context.Context, entity string, vector []float32, originals []string) []string {
	collections := catalog.CollectionsFor(entity)
	if len(collections) == 0 {
		return nil
	}

	payloads := e.collectPayloads(ctx, collections, vector)
	if len(payloads) == 0 {
		return nil
	}

	candidates := e.mineCandidates(payloads, originals)
	if len(candidates) == 0 {
		return nil
	}

	if e.cfg.UseLLMReview && e.llm != nil {
		candidates = e.reviewCandidates(ctx, originals, candidates)
	}
	return candidates
}

func (e *Enhancer) collectPayloads(ctx context.Context, collections []string, vector []float32) []string {
	var (
		mu       sync.Mutex
		payloads []string
		wg       sync.WaitGroup
	)
	for _, collection := range collections {
		wg.Add(1)
		go func(collection string) {
			defer wg.Done()
			hits, err := e.vectors.Search(ctx, collection, vector, e.cfg.HitsPerCollection)
			if err != nil {
				e.logger.Warn().Err(err).Str("collection", collection).Msg("vector search failed")
				return
			}
			mu.Lock()
			for _, hit := range hits {
				if text := payloadText(hit); text != "" {
					payloads = append(payloads, text)
				}
			}
			mu.Unlock()
		}(collection)
	}
	wg.Wait()
	return payloads
}

// payloadText concatenates the hit's payload fields in a stable key order.
func payloadText(hit backend.VectorHit) string {
	if len(hit.Payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(hit.Payload))
	for k := range hit.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(hit.Payload[k])
		sb.WriteByte(' ')
	}
	return sb.String()
}

// mineCandidates extracts frequent tokens from payloads and applies the
// filters in order: frequency threshold, payload verification, original
// and compound preservation, then the expansion cap.
func (e *Enhancer) mineCandidates(payloads, originals []string) []string {
	freq := TokenFrequencies(payloads)

	type candidate struct {
		token string
		count int
	}
	ordered := make([]candidate, 0, len(freq))
	for tok, n := range freq {
		if n >= e.cfg.MinFrequency {
			ordered = append(ordered, candidate{token: tok, count: n})
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].token < ordered[j].token
	})

	out := make([]string, 0, e.cfg.MaxExpansion)
	for _, c := range ordered {
		if len(out) == e.cfg.MaxExpansion {
			break
		}
		if !appearsInPayload(c.token, payloads) {
			continue
		}
		if isOriginal(c.token, originals) || isStrictSubstring(c.token, originals) {
			continue
		}
		out = append(out, c.token)
	}
	return out
}

func appearsInPayload(token string, payloads []string) bool {
	for _, p := range payloads {
		if strings.Contains(strings.ToLower(p), token) {
			return true
		}
	}
	return false
}

func isOriginal(token string, originals []string) bool {
	for _, o := range originals {
		if strings.EqualFold(token, o) {
			return true
		}
	}
	return false
}

// isStrictSubstring reports whether token is a proper substring of any
// original keyword. Such tokens would split compound keywords like
// 이차전지 into 전지 and dilute the search.
func isStrictSubstring(token string, originals []string) bool {
	for _, o := range originals {
		lower := strings.ToLower(o)
		if token != lower && strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

const reviewSystemPrompt = `당신은 R&D 검색 키워드 검증 도우미입니다. 원본 키워드와 후보 확장 키워드를 받아, 원본 주제와 관련 있는 후보만 남긴 JSON 배열을 출력하세요. JSON 배열 외의 텍스트는 출력하지 마세요.`

// reviewCandidates asks the LLM to filter the candidate list. Anything
// that is not a valid JSON array keeps the unreviewed candidates.
func (e *Enhancer) reviewCandidates(ctx context.Context, originals, candidates []string) []string {
	prompt := "원본 키워드: " + strings.Join(originals, ", ") +
		"\n후보 확장 키워드: " + strings.Join(candidates, ", ") +
		"\n관련 있는 후보만 담은 JSON 배열:"

	reply, err := e.llm.Chat(ctx, reviewSystemPrompt, prompt)
	if err != nil {
		e.logger.Warn().Err(err).Msg("expansion review failed, keeping candidates")
		return candidates
	}

	approved, ok := parseReviewArray(backend.StripReasoning(reply))
	if !ok {
		return candidates
	}
	allowed := make(map[string]bool, len(approved))
	for _, kw := range approved {
		allowed[kw] = true
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if allowed[c] {
			out = append(out, c)
		}
	}
	return out
}

func parseReviewArray(reply string) ([]string, bool) {
	reply = strings.TrimSpace(reply)
	var arr []string
	if err := json.Unmarshal([]byte(reply), &arr); err == nil {
		return arr, true
	}
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &arr); err != nil {
		return nil, false
	}
	return arr, true
}
