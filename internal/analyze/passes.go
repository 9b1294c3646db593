package analyze

import (
	"regexp"

	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/pkg/models"
)

// applyPasses runs the deterministic post-processing passes in a fixed
// order. Each pass is separately testable and owns one rule.
func applyPasses(state models.WorkflowState) models.WorkflowState {
	state = passCountryScrub(state)
	state = passEntityNounScrub(state)
	state = passExplicitEntityOverride(state)
	state = passStatisticsOverride(state)
	state = passRankingClassifier(state)
	state = passCompoundFinalize(state)
	return state
}

// passCountryScrub moves country mentions out of the keyword list and
// into structured_keywords.country as normalized codes.
func passCountryScrub(state models.WorkflowState) models.WorkflowState {
	if codes := catalog.ExtractCountries(state.Query); len(codes) > 0 {
		state.Structured.Country = codes
	}
	state.Keywords = catalog.StripCountryTokens(state.Keywords)
	if regions := catalog.ExtractRegions(state.Query); len(regions) > 0 && len(state.Structured.Region) == 0 {
		state.Structured.Region = regions
	}
	return state
}

// passEntityNounScrub removes entity-type nouns from the keyword list.
// Domain routing is the job of entity_types, not keywords.
func passEntityNounScrub(state models.WorkflowState) models.WorkflowState {
	state.Keywords = stripEntityNouns(state.Keywords)
	return state
}

func stripEntityNouns(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if catalog.IsEntityNoun(kw) {
			continue
		}
		out = append(out, kw)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// explicitOverrideDomains are the domains an explicit mention can force.
var explicitOverrideDomains = map[string]bool{
	catalog.EntityPatent:   true,
	catalog.EntityProject:  true,
	catalog.EntityEquip:    true,
	catalog.EntityProposal: true,
}

// passExplicitEntityOverride trusts literal entity nouns in the query
// over the model's entity guess. Two or more explicit domains without
// model-provided sub-queries promote the turn to a compound query with
// one synthesized sub-query per domain.
func passExplicitEntityOverride(state models.WorkflowState) models.WorkflowState {
	var explicit []string
	for _, d := range catalog.EntityNounDomains(state.Query) {
		if explicitOverrideDomains[d] {
			explicit = append(explicit, d)
		}
	}
	if len(explicit) == 0 {
		return state
	}

	state.EntityTypes = explicit
	if len(explicit) >= 2 && len(state.SubQueries) == 0 {
		state.IsCompound = true
		state.QuerySubtype = models.SubtypeCompound
		state.MergeStrategy = models.MergeParallel
		for i, entity := range explicit {
			state.SubQueries = append(state.SubQueries, models.SubQuery{
				Index:       i,
				Intent:      state.QueryIntent,
				Subtype:     models.SubtypeList,
				QueryType:   models.QueryTypeSQL,
				Keywords:    append([]string(nil), state.Keywords...),
				EntityTypes: []string{entity},
				Priority:    i,
			})
		}
	}
	return state
}

var (
	trendCuePattern    = regexp.MustCompile(`동향|추이|연도별|연간|분포|통계`)
	crosstabTopPattern = regexp.MustCompile(`(?i)TOP|상위|주요`)
	crosstabOrgPattern = regexp.MustCompile(`출원기관|권리자|기관별`)
	crosstabYrPattern  = regexp.MustCompile(`연도별|연간|추이`)
)

// passStatisticsOverride forces the statistics subtypes from surface
// cues; these beat whatever the model chose. The crosstab pattern is
// checked after the trend pattern so the more specific shape wins.
func passStatisticsOverride(state models.WorkflowState) models.WorkflowState {
	if state.IsCompound {
		return state
	}
	if trendCuePattern.MatchString(state.Query) {
		state.QueryType = models.QueryTypeSQL
		state.QuerySubtype = models.SubtypeTrendAnalysis
	}
	if crosstabTopPattern.MatchString(state.Query) &&
		crosstabOrgPattern.MatchString(state.Query) &&
		crosstabYrPattern.MatchString(state.Query) {
		state.QueryType = models.QueryTypeSQL
		state.QuerySubtype = models.SubtypeCrosstabAnalysis
	}
	return state
}

var (
	complexMetricPattern = regexp.MustCompile(`등록률|비율|피인용|평균|증가율|점유율|성장률`)
	complexAggPattern    = regexp.MustCompile(`연도별|추이|분포|현황`)
	dateRangePattern     = regexp.MustCompile(`\d{4}\s*[~∼-]\s*\d{4}|최근\s*\d+\s*년`)
)

// passRankingClassifier labels ranking queries simple or complex.
// Complex rankings need derived metrics or bucketing and route through
// the parallel SQL+ES path.
func passRankingClassifier(state models.WorkflowState) models.WorkflowState {
	if state.QuerySubtype != models.SubtypeRanking {
		return state
	}
	switch {
	case complexMetricPattern.MatchString(state.Query),
		complexAggPattern.MatchString(state.Query),
		dateRangePattern.MatchString(state.Query),
		len(state.Structured.Country) >= 2:
		state.RankingType = models.RankingComplex
	default:
		if state.RankingType == "" {
			state.RankingType = models.RankingSimple
		}
	}
	return state
}

// passCompoundFinalize normalizes sub-queries: stable indexes, inherited
// structured keywords, scrubbed keyword lists, and safe defaults.
func passCompoundFinalize(state models.WorkflowState) models.WorkflowState {
	if len(state.SubQueries) == 0 {
		return state
	}
	if state.MergeStrategy == "" {
		state.MergeStrategy = models.MergeParallel
	}
	for i := range state.SubQueries {
		sq := &state.SubQueries[i]
		sq.Index = i
		sq.Keywords = stripEntityNouns(catalog.StripCountryTokens(sq.Keywords))
		if len(sq.Keywords) == 0 {
			sq.Keywords = append([]string(nil), state.Keywords...)
		}
		if sq.Subtype == "" {
			sq.Subtype = models.SubtypeList
		}
		if sq.QueryType == "" {
			sq.QueryType = models.QueryTypeSQL
		}
	}
	return state
}
