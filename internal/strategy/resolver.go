// Package strategy resolves the per-request retrieval plan: which
// backends run, in which order, with which merge priority. Resolution
// is data-driven from a static subtype table, then adjusted by entity
// types and query type.
package strategy

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

const (
	defaultSQLLimit = 20
	defaultRAGLimit = 10
	defaultESLimit  = 20
)

// defaultMergePriority orders sources when the merger sorts mixed
// result sets. Lower wins.
func defaultMergePriority() map[string]int {
	return map[string]int{
		string(models.SourceSQL):    1,
		string(models.SourceES):     2,
		string(models.SourceVector): 3,
		string(models.SourceGraph):  4,
	}
}

func baseConfig() models.SearchConfig {
	return models.SearchConfig{
		SQLLimit:      defaultSQLLimit,
		RAGLimit:      defaultRAGLimit,
		ESLimit:       defaultESLimit,
		MergePriority: defaultMergePriority(),
	}
}

// subtypeConfigs is the static strategy table. Ranking splits into
// simple and complex rows keyed by the ranking classifier's output.
var subtypeConfigs = map[string]models.SearchConfig{}

func init() {
	put := func(key string, mut func(*models.SearchConfig)) {
		cfg := baseConfig()
		mut(&cfg)
		subtypeConfigs[key] = cfg
	}

	put("list", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeOff
		c.NeedVectorEnhancement = true
	})
	put("aggregation", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeOff
	})
	put("trend_analysis", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeAggregation
	})
	put("crosstab_analysis", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeAggregation
	})
	put("simple_ranking", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceES, models.SourceVector}
		c.GraphRAG = models.GraphRAGEnhanced
		c.ESMode = models.ESModeAggregation
		c.NeedVectorEnhancement = true
	})
	put("complex_ranking", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL, models.SourceES}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeKeywordBoost
		c.UseLoader = true
		c.LoaderName = LoaderRanking
	})
	put("impact_ranking", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL, models.SourceGraph}
		c.GraphRAG = models.GraphRAGGraph
		c.ESMode = models.ESModeOff
	})
	put("nationality_ranking", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeOff
	})
	put("concept", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceVector}
		c.GraphRAG = models.GraphRAGHybrid
		c.ESMode = models.ESModeKeywordBoost
		c.NeedVectorEnhancement = true
	})
	put("recommendation", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL, models.SourceVector}
		c.GraphRAG = models.GraphRAGEnhanced
		c.ESMode = models.ESModeKeywordBoost
		c.UseLoader = true
		c.LoaderName = LoaderCollaboration
		c.NeedVectorEnhancement = true
	})
	put("comparison", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL, models.SourceVector}
		c.GraphRAG = models.GraphRAGHybrid
		c.ESMode = models.ESModeKeywordBoost
		c.NeedVectorEnhancement = true
	})
	put("compound", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL, models.SourceVector}
		c.GraphRAG = models.GraphRAGHybrid
		c.ESMode = models.ESModeKeywordBoost
		c.NeedVectorEnhancement = true
	})
	put("evalp_score", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeOff
		c.UseLoader = true
		c.LoaderName = LoaderScoring
	})
	put("evalp_pref", func(c *models.SearchConfig) {
		c.PrimarySources = []models.SearchSource{models.SourceSQL}
		c.GraphRAG = models.GraphRAGNone
		c.ESMode = models.ESModeOff
		c.UseLoader = true
		c.LoaderName = LoaderAdvantage
	})
}

// Resolver produces SearchConfigs.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{logger: observability.Logger("strategy")}
}

// effectiveSubtypeKey folds the ranking split into the table key.
func effectiveSubtypeKey(state *models.WorkflowState) string {
	if state.QuerySubtype == models.SubtypeRanking {
		if state.RankingType == models.RankingComplex {
			return "complex_ranking"
		}
		return "simple_ranking"
	}
	return string(state.QuerySubtype)
}

// Resolve maps the analyzed state to a retrieval strategy. The static
// table entry is deep-copied before adjustment.
func (r *Resolver) Resolve(state *models.WorkflowState) models.SearchConfig {
	key := effectiveSubtypeKey(state)
	base, ok := subtypeConfigs[key]
	if !ok {
		base = subtypeConfigs["list"]
	}
	cfg := base.Clone()

	// Query-type shaping first; entity adjustments win when both apply
	// (the equipment fast path types itself sql yet still needs the
	// ES+vector primaries).
	r.adjustForQueryType(state, &cfg)
	r.adjustForEntities(state, &cfg)

	// A loader name that does not resolve falls through to the SQL
	// executor's normal paths.
	if cfg.UseLoader && GetLoader(cfg.LoaderName) == nil {
		r.logger.Warn().Str("loader", cfg.LoaderName).Msg("unknown loader, falling back to SQL paths")
		cfg.UseLoader = false
		cfg.LoaderName = ""
	}

	r.logger.Debug().
		Str("subtype", key).
		Strs("primary", sourceNames(cfg.PrimarySources)).
		Str("graph_rag", string(cfg.GraphRAG)).
		Str("es_mode", string(cfg.ESMode)).
		Msg("strategy resolved")
	return cfg
}

func (r *Resolver) adjustForEntities(state *models.WorkflowState, cfg *models.SearchConfig) {
	hasEntity := func(name string) bool {
		for _, e := range state.EntityTypes {
			if e == name {
				return true
			}
		}
		return false
	}

	for _, e := range state.EntityTypes {
		if strings.HasPrefix(e, "evalp") {
			cfg.PrimarySources = []models.SearchSource{models.SourceSQL}
			cfg.GraphRAG = models.GraphRAGNone
			cfg.ESMode = models.ESModeOff
			cfg.UseLoader = true
			if cfg.LoaderName == "" {
				if state.QuerySubtype == models.SubtypeEvalpPref {
					cfg.LoaderName = LoaderAdvantage
				} else {
					cfg.LoaderName = LoaderScoring
				}
			}
			return
		}
	}

	if hasEntity(catalog.EntityEquip) &&
		(state.QuerySubtype == models.SubtypeList || state.QuerySubtype == models.SubtypeRecommendation) {
		cfg.PrimarySources = []models.SearchSource{models.SourceES, models.SourceVector}
		cfg.FallbackSources = []models.SearchSource{models.SourceSQL}
		cfg.ESMode = models.ESModeKeywordBoost
	}

	if hasEntity(catalog.EntityPatent) &&
		(state.QuerySubtype == models.SubtypeList || state.QuerySubtype == models.SubtypeRanking) &&
		cfg.ESMode == models.ESModeOff {
		cfg.ESMode = models.ESModeKeywordBoost
	}

	if hasEntity(catalog.EntityProposal) && state.QuerySubtype == models.SubtypeRecommendation {
		cfg.UseLoader = true
		cfg.LoaderName = LoaderCollaboration
		cfg.GraphRAG = models.GraphRAGEnhanced
	}
}

func (r *Resolver) adjustForQueryType(state *models.WorkflowState, cfg *models.SearchConfig) {
	switch state.QueryType {
	case models.QueryTypeSimple:
		cfg.PrimarySources = nil
	case models.QueryTypeSQL:
		// Rows that already run SQL keep their companion sources;
		// complex ranking needs the ES branch for the rank fuse.
		if !cfg.HasPrimary(models.SourceSQL) {
			cfg.PrimarySources = []models.SearchSource{models.SourceSQL}
		}
	case models.QueryTypeRAG:
		cfg.PrimarySources = withoutSource(cfg.PrimarySources, models.SourceSQL)
		if len(cfg.PrimarySources) == 0 {
			cfg.PrimarySources = []models.SearchSource{models.SourceVector}
		}
		if cfg.GraphRAG == models.GraphRAGNone {
			cfg.GraphRAG = models.GraphRAGHybrid
		}
	case models.QueryTypeHybrid:
		if !cfg.HasPrimary(models.SourceSQL) {
			cfg.PrimarySources = append([]models.SearchSource{models.SourceSQL}, cfg.PrimarySources...)
		}
		if cfg.GraphRAG == models.GraphRAGNone {
			cfg.GraphRAG = models.GraphRAGHybrid
		}
	}
}

func withoutSource(sources []models.SearchSource, drop models.SearchSource) []models.SearchSource {
	out := make([]models.SearchSource, 0, len(sources))
	for _, s := range sources {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

func sourceNames(sources []models.SearchSource) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}
