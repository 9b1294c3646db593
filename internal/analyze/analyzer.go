// Package analyze classifies a user query into a typed retrieval plan:
// query type, subtype, entity set, structured keywords and compound
// decomposition. Rule fast paths handle greetings and equipment
// lookups without the LLM; everything else goes through one structured
// classification call followed by deterministic post-processing passes.
package analyze

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// ChatClient is the slice of the LLM surface the analyzer needs.
type ChatClient interface {
	Chat(ctx context.Context, system, prompt string) (string, error)
}

// Analyzer turns raw queries into workflow plans.
type Analyzer struct {
	llm          ChatClient
	useReasoning bool
	logger       zerolog.Logger
}

// New creates an Analyzer.
func New(llm ChatClient, cfg config.LLMConfig) *Analyzer {
	return &Analyzer{
		llm:          llm,
		useReasoning: cfg.UseReasoningMode,
		logger:       observability.Logger("analyze"),
	}
}

// Analyze fills the classification fields of the state. It never
// returns an error that should halt the workflow: on LLM failure the
// state degrades to query_type=simple with the failure recorded.
func (a *Analyzer) Analyze(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	query := strings.TrimSpace(state.Query)
	if query == "" {
		state.QueryType = models.QueryTypeSimple
		state.QueryIntent = "empty"
		state.AppendError(models.NewError(models.ErrEmptyQuery, "empty query").Error())
		return state
	}

	if isGreeting(query) {
		state.QueryType = models.QueryTypeSimple
		state.QueryIntent = "greeting"
		state.Keywords = nil
		state.EntityTypes = nil
		a.logger.Debug().Str("query", query).Msg("greeting fast path")
		return state
	}

	if eq, ok := matchEquipmentQuery(query); ok {
		state.QueryType = models.QueryTypeSQL
		state.QuerySubtype = models.SubtypeList
		state.QueryIntent = "equipment lookup"
		state.IsEquipmentQuery = true
		state.EntityTypes = []string{"equip"}
		state.Keywords = eq.Keywords
		state.Structured.Region = eq.Regions
		a.logger.Debug().Strs("keywords", eq.Keywords).Msg("equipment fast path")
		return applyPasses(state)
	}

	parsed, err := a.classify(ctx, query)
	if err != nil {
		a.logger.Warn().Err(err).Msg("classification failed, degrading to simple")
		state.QueryType = models.QueryTypeSimple
		state.QueryIntent = "분류 실패"
		state.AppendError(err.Error())
		return state
	}

	state.QueryType = normalizeQueryType(parsed.QueryType)
	state.QuerySubtype, state.RankingType = normalizeSubtype(parsed.QuerySubtype, parsed.RankingType)
	state.QueryIntent = parsed.QueryIntent
	state.Keywords = dedupe(parsed.Keywords)
	state.EntityTypes = dedupe(parsed.EntityTypes)
	state.IsCompound = parsed.IsCompound
	state.Structured.Tech = parsed.Structured.Tech
	state.Structured.Org = parsed.Structured.Org
	state.Structured.Filter = parsed.Structured.Filter
	state.Structured.Metric = parsed.Structured.Metric

	for i, sq := range parsed.SubQueries {
		state.SubQueries = append(state.SubQueries, models.SubQuery{
			Index:       i,
			Intent:      sq.Intent,
			Subtype:     models.QuerySubtype(sq.Subtype),
			QueryType:   normalizeQueryType(sq.QueryType),
			Keywords:    dedupe(sq.Keywords),
			EntityTypes: dedupe(sq.EntityTypes),
			DependsOn:   sq.DependsOn,
			Priority:    sq.Priority,
		})
	}
	if len(state.SubQueries) > 0 {
		state.IsCompound = true
	}

	return applyPasses(state)
}

// classify runs the LLM call and the three-strategy parse.
func (a *Analyzer) classify(ctx context.Context, query string) (*classification, error) {
	prompt := buildClassifyPrompt(query, a.useReasoning)
	raw, err := a.llm.Chat(ctx, classifySystemPrompt, prompt)
	if err != nil {
		return nil, models.Wrap(models.ErrQueryAnalysis, "classification call failed", err)
	}
	raw = backend.StripReasoning(raw)
	parsed, err := parseClassification(raw)
	if err != nil {
		return nil, models.Wrap(models.ErrQueryAnalysis, "classification parse failed", err)
	}
	return parsed, nil
}

func normalizeQueryType(s string) models.QueryType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sql":
		return models.QueryTypeSQL
	case "rag":
		return models.QueryTypeRAG
	case "hybrid":
		return models.QueryTypeHybrid
	case "simple":
		return models.QueryTypeSimple
	default:
		return models.QueryTypeHybrid
	}
}

// normalizeSubtype also folds the simple_ranking/complex_ranking labels
// some model outputs use into (ranking, ranking_type).
func normalizeSubtype(subtype, rankingType string) (models.QuerySubtype, models.RankingType) {
	rt := models.RankingSimple
	if strings.EqualFold(strings.TrimSpace(rankingType), "complex") {
		rt = models.RankingComplex
	}
	switch strings.ToLower(strings.TrimSpace(subtype)) {
	case "simple_ranking":
		return models.SubtypeRanking, models.RankingSimple
	case "complex_ranking":
		return models.SubtypeRanking, models.RankingComplex
	case "":
		return models.SubtypeList, rt
	default:
		return models.QuerySubtype(strings.ToLower(strings.TrimSpace(subtype))), rt
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
