package workflow

import "github.com/simpleflo/lattice/pkg/models"

// routeAfterScout sends cheap queries straight to their terminal stage
// and everything else through vector enhancement.
func routeAfterScout(state *models.WorkflowState) string {
	switch {
	case state.QueryType == models.QueryTypeSimple &&
		len(state.Keywords) == 0 && len(state.EntityTypes) == 0:
		return NodeGenerator
	case state.QuerySubtype == models.SubtypeConcept:
		return NodeRAG
	case state.QuerySubtype == models.SubtypeTrendAnalysis,
		state.QuerySubtype == models.SubtypeCrosstabAnalysis:
		return NodeSQL
	default:
		return NodeEnhancer
	}
}

// routeAfterEnhancer is the main retrieval dispatch. Evaluation and
// announcement domains are SQL-only regardless of the resolved
// strategy; compound queries get their own executor.
func routeAfterEnhancer(state *models.WorkflowState) string {
	if state.QuerySubtype == models.SubtypeEvalpScore ||
		state.QuerySubtype == models.SubtypeEvalpPref {
		return NodeSQL
	}
	for _, entity := range state.EntityTypes {
		if entity == "ancm" {
			return NodeSQL
		}
	}
	if state.IsCompound {
		return NodeSubQueries
	}

	if cfg := state.SearchConfig; cfg != nil && len(cfg.PrimarySources) == 1 {
		switch cfg.PrimarySources[0] {
		case models.SourceSQL:
			return NodeSQL
		case models.SourceVector:
			return NodeRAG
		}
	}
	if state.RankingType == models.RankingComplex {
		return NodeParallelRanking
	}

	switch state.QueryType {
	case models.QueryTypeSQL:
		return NodeSQL
	case models.QueryTypeRAG:
		return NodeRAG
	case models.QueryTypeSimple:
		return NodeGenerator
	default:
		return NodeParallel
	}
}

// routeAfterSQL short-circuits statistics answers: when the keyword
// engine already aggregated the trend or crosstab, SQL rows are
// supporting detail and no merge is needed.
func routeAfterSQL(state *models.WorkflowState) string {
	switch state.QuerySubtype {
	case models.SubtypeTrendAnalysis, models.SubtypeCrosstabAnalysis:
		if len(state.ESStatistics) > 0 {
			return NodeGenerator
		}
	}
	return NodeMerger
}

func routeAfterRAG(state *models.WorkflowState) string {
	if state.QueryType == models.QueryTypeHybrid {
		return NodeMerger
	}
	return NodeGenerator
}
