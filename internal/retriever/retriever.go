// Package retriever runs the dense and graph retrieval stage: vector
// search over entity collections, graph centrality search, community
// expansion, and RRF fusion of the two rank lists.
package retriever

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/fuse"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the slice of the vector store the retriever needs.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]backend.VectorHit, error)
}

// GraphService is the slice of the graph store the retriever needs.
type GraphService interface {
	ResolveNode(ctx context.Context, name string) (*backend.GraphNode, error)
	PageRankTopK(ctx context.Context, label string, k int) ([]backend.GraphNode, error)
	CommunityMembers(ctx context.Context, community int64, limit int) ([]backend.GraphNode, error)
	CommunitySize(ctx context.Context, community int64) (int, error)
}

// communityDecay is the weight applied to community-expansion nodes.
const communityDecay = 0.5

// Retriever executes the RAG stage of a turn.
type Retriever struct {
	embedder Embedder
	vectors  VectorSearcher
	graph    GraphService
	es       SearchEngine
	schema   *catalog.Schema
	rrfK     int
	logger   zerolog.Logger
}

// New creates a Retriever. graph and es may be nil; the strategies that
// need them degrade to vector-only behavior.
func New(embedder Embedder, vectors VectorSearcher, graph GraphService, es SearchEngine, schema *catalog.Schema, cfg config.FusionConfig) *Retriever {
	k := cfg.RRFConstant
	if k <= 0 {
		k = fuse.DefaultRRFConstant
	}
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		graph:    graph,
		es:       es,
		schema:   schema,
		rrfK:     k,
		logger:   observability.Logger("retriever"),
	}
}

// Retrieve dispatches on the resolved graph strategy and records the
// results and provenance on the state.
func (r *Retriever) Retrieve(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	strategy := models.GraphRAGVector
	if state.SearchConfig != nil && state.SearchConfig.GraphRAG != "" {
		strategy = state.SearchConfig.GraphRAG
	}
	if strategy == models.GraphRAGNone {
		return state
	}

	var results []models.SearchResult
	switch strategy {
	case models.GraphRAGGraph:
		results = r.graphSearch(ctx, &state)
	case models.GraphRAGEnhanced:
		results = r.enhancedSearch(ctx, &state)
	case models.GraphRAGHybrid:
		results = r.hybridSearch(ctx, &state)
	default:
		results = r.vectorSearch(ctx, &state)
	}

	if strategy == models.GraphRAGEnhanced || strategy == models.GraphRAGHybrid {
		results = r.crossValidate(ctx, results)
	}

	state.RAGResults = results
	state.SearchStrategy = string(strategy)
	for _, res := range results {
		state.Sources = append(state.Sources, models.SourceRef{
			Type:   res.MetaString("source"),
			Entity: res.EntityType,
			NodeID: res.NodeID,
		})
	}
	return state
}

// vectorSearch runs a dense search across the active collections.
func (r *Retriever) vectorSearch(ctx context.Context, state *models.WorkflowState) []models.SearchResult {
	keywords := state.ExpandedOrCoreKeywords()
	if len(keywords) == 0 {
		return nil
	}
	vector, err := r.embedder.Embed(ctx, strings.Join(keywords, " "))
	if err != nil {
		r.logger.Warn().Err(err).Msg("query embedding failed")
		return nil
	}

	limit := ragLimit(state)
	type target struct{ entity, collection string }
	var targets []target
	if state.SearchConfig != nil && len(state.SearchConfig.Collections) > 0 {
		for _, c := range state.SearchConfig.Collections {
			targets = append(targets, target{entity: "", collection: c})
		}
	} else {
		for _, entity := range state.EntityTypes {
			for _, c := range catalog.CollectionsFor(entity) {
				targets = append(targets, target{entity: entity, collection: c})
			}
		}
	}

	var (
		mu      sync.Mutex
		results []models.SearchResult
		wg      sync.WaitGroup
	)
	for _, tg := range targets {
		wg.Add(1)
		go func(tg target) {
			defer wg.Done()
			hits, err := r.vectors.Search(ctx, tg.collection, vector, limit)
			if err != nil {
				r.logger.Warn().Err(err).Str("collection", tg.collection).Msg("vector search failed")
				return
			}
			mu.Lock()
			for _, hit := range hits {
				results = append(results, vectorResult(hit, tg.entity, tg.collection))
			}
			mu.Unlock()
		}(tg)
	}
	wg.Wait()

	sortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// vectorResult normalizes a vector hit. The document id rides along in
// related_entities for later graph linking.
func vectorResult(hit backend.VectorHit, entity, collection string) models.SearchResult {
	res := models.SearchResult{
		NodeID:      hit.ID,
		Name:        firstPayload(hit, "title", "name", "equip_name"),
		EntityType:  entity,
		Description: firstPayload(hit, "summary", "spec_summary", "body"),
		Score:       float64(hit.Score),
	}
	if docID := firstPayload(hit, "documentid", "sbjt_id", "conts_id"); docID != "" {
		res.RelatedEntities = []string{docID}
	}
	res.SetMeta("source", string(models.SourceVector))
	res.SetMeta("collection", collection)
	return res
}

func firstPayload(hit backend.VectorHit, keys ...string) string {
	for _, k := range keys {
		if v := hit.Payload[k]; v != "" {
			return v
		}
	}
	return ""
}

// graphSearch resolves keywords to central graph nodes and pulls in
// their top community members, ranked by PageRank.
func (r *Retriever) graphSearch(ctx context.Context, state *models.WorkflowState) []models.SearchResult {
	if r.graph == nil {
		return nil
	}
	limit := ragLimit(state)
	seen := make(map[string]bool)
	var results []models.SearchResult

	for _, kw := range state.ExpandedOrCoreKeywords() {
		node, err := r.graph.ResolveNode(ctx, kw)
		if err != nil || node == nil {
			continue
		}
		if !seen[node.ID] {
			seen[node.ID] = true
			results = append(results, graphResult(*node, 1.0))
		}
		members, err := r.graph.CommunityMembers(ctx, node.Community, limit)
		if err != nil {
			continue
		}
		for _, m := range members {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			results = append(results, graphResult(m, 1.0))
		}
	}

	sortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// enhancedSearch runs vector search, then expands each top hit with its
// community mates at a decayed weight.
func (r *Retriever) enhancedSearch(ctx context.Context, state *models.WorkflowState) []models.SearchResult {
	results := r.vectorSearch(ctx, state)
	if r.graph == nil || len(results) == 0 {
		return results
	}

	seen := make(map[string]bool, len(results))
	for _, res := range results {
		seen[res.NodeID] = true
	}

	limit := ragLimit(state)
	for _, res := range results[:minInt(3, len(results))] {
		node, err := r.graph.ResolveNode(ctx, res.Name)
		if err != nil || node == nil {
			continue
		}
		members, err := r.graph.CommunityMembers(ctx, node.Community, limit)
		if err != nil {
			continue
		}
		for _, m := range members {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			expanded := graphResult(m, communityDecay)
			expanded.SetMeta("expansion", true)
			results = append(results, expanded)
		}
	}
	sortByScore(results)
	return results
}

// hybridSearch runs graph and vector search in parallel and fuses the
// two rank lists with RRF.
func (r *Retriever) hybridSearch(ctx context.Context, state *models.WorkflowState) []models.SearchResult {
	var (
		vectorResults []models.SearchResult
		graphResults  []models.SearchResult
		wg            sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorResults = r.vectorSearch(ctx, state)
	}()
	go func() {
		defer wg.Done()
		graphResults = r.graphSearch(ctx, state)
	}()
	wg.Wait()

	if len(graphResults) == 0 {
		return vectorResults
	}
	if len(vectorResults) == 0 {
		return graphResults
	}

	byID := make(map[string]models.SearchResult)
	lists := map[string][]string{
		"graph":  make([]string, 0, len(graphResults)),
		"vector": make([]string, 0, len(vectorResults)),
	}
	for _, res := range graphResults {
		lists["graph"] = append(lists["graph"], res.NodeID)
		byID[res.NodeID] = res
	}
	for _, res := range vectorResults {
		lists["vector"] = append(lists["vector"], res.NodeID)
		if existing, ok := byID[res.NodeID]; ok {
			// Keep the richer vector payload, graph metadata rides along.
			res.Metadata = mergeMeta(existing.Metadata, res.Metadata)
		}
		byID[res.NodeID] = res
	}

	contributions := fuse.RRF(r.rrfK, lists)
	ranked := fuse.RankByScore(contributions)

	limit := ragLimit(state)
	out := make([]models.SearchResult, 0, minInt(limit, len(ranked)))
	for _, id := range ranked {
		res := byID[id]
		res.Score = contributions[id].Score
		res.SetMeta("rrf_source", fuse.SourceLabel(contributions[id]))
		out = append(out, res)
		if len(out) == limit {
			break
		}
	}
	return out
}

// crossValidate boosts results whose graph communities corroborate each
// other and penalizes isolated nodes, then re-sorts.
func (r *Retriever) crossValidate(ctx context.Context, results []models.SearchResult) []models.SearchResult {
	if r.graph == nil || len(results) == 0 {
		return results
	}

	communities := make(map[int64][]int)
	isolated := make([]int, 0)
	for i := range results {
		node, err := r.graph.ResolveNode(ctx, results[i].Name)
		if err != nil || node == nil {
			isolated = append(isolated, i)
			continue
		}
		communities[node.Community] = append(communities[node.Community], i)
	}

	for _, indexes := range communities {
		switch {
		case len(indexes) >= 3:
			for _, i := range indexes {
				results[i].Score *= 1.2
				results[i].SetMeta("graph_validated", true)
			}
		case len(indexes) == 2:
			for _, i := range indexes {
				results[i].Score *= 1.1
			}
		default:
			for _, i := range indexes {
				results[i].Score *= 0.9
			}
		}
	}
	for _, i := range isolated {
		results[i].Score *= 0.9
	}

	sortByScore(results)
	return results
}

func graphResult(node backend.GraphNode, weight float64) models.SearchResult {
	res := models.SearchResult{
		NodeID:     node.ID,
		Name:       node.Name,
		EntityType: strings.ToLower(node.Label),
		Score:      node.Score * weight,
	}
	res.SetMeta("source", string(models.SourceGraph))
	res.SetMeta("community", node.Community)
	return res
}

func mergeMeta(base, extra map[string]any) map[string]any {
	if base == nil {
		return extra
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

func sortByScore(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func ragLimit(state *models.WorkflowState) int {
	if state.SearchConfig != nil && state.SearchConfig.RAGLimit > 0 {
		return state.SearchConfig.RAGLimit
	}
	return 10
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
