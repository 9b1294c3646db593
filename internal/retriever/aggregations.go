package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/pkg/models"
)

// SearchEngine is the slice of the keyword engine the retriever needs
// for aggregation queries.
type SearchEngine interface {
	Enabled() bool
	IndexFor(entity string) string
	Search(ctx context.Context, index string, body map[string]any) (*backend.ESResponse, error)
}

// trendYears bounds the default trend window.
const trendYears = 10

// crosstabMinCount drops applicants with fewer matches from the
// crosstab, mirroring a HAVING filter.
const crosstabMinCount = 3

var aggregationFields = []string{"title", "summary", "spec_summary", "body"}

// entityDateFields maps a domain to its ES date field.
var entityDateFields = map[string]string{
	"patent":  "appn_date",
	"project": "start_year",
	"ancm":    "deadline",
}

// Aggregate runs the ES statistics pass for trend, crosstab and
// simple-ranking subtypes. Failures leave the state untouched so the
// SQL path can still answer.
func (r *Retriever) Aggregate(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	if r.es == nil || !r.es.Enabled() {
		return state
	}
	keywords := state.ExpandedOrCoreKeywords()
	if len(keywords) == 0 {
		return state
	}

	switch state.QuerySubtype {
	case models.SubtypeTrendAnalysis:
		return r.aggregateTrend(ctx, state, keywords)
	case models.SubtypeCrosstabAnalysis:
		return r.aggregateCrosstab(ctx, state, keywords)
	case models.SubtypeRanking:
		return r.aggregateRanking(ctx, state, keywords)
	}
	return state
}

func (r *Retriever) aggregateTrend(ctx context.Context, state models.WorkflowState, keywords []string) models.WorkflowState {
	stats := make(map[string]*models.StatsBucketSet)
	for _, entity := range state.EntityTypes {
		dateField, ok := entityDateFields[entity]
		if !ok {
			continue
		}
		body := backend.DateHistogramQuery(keywords, aggregationFields, dateField)
		restrictToRecentYears(body, dateField, trendYears)

		resp, err := r.es.Search(ctx, r.es.IndexFor(entity), body)
		if err != nil {
			r.logger.Warn().Err(err).Str("entity", entity).Msg("trend aggregation failed")
			continue
		}
		raw, ok := resp.Aggregations["by_year"]
		if !ok {
			continue
		}
		buckets, err := backend.ParseHistogram(raw)
		if err != nil {
			r.logger.Warn().Err(err).Str("entity", entity).Msg("trend parse failed")
			continue
		}
		set := &models.StatsBucketSet{Total: resp.Total}
		for _, b := range buckets {
			set.Buckets = append(set.Buckets, models.StatsBucket{Key: b.Key, Count: b.Count})
		}
		stats[entity] = set
	}
	if len(stats) > 0 {
		state.ESStatistics = stats
		state.StatisticsType = string(models.SubtypeTrendAnalysis)
	}
	return state
}

func (r *Retriever) aggregateCrosstab(ctx context.Context, state models.WorkflowState, keywords []string) models.WorkflowState {
	body := backend.NestedCrosstabQuery(keywords, aggregationFields,
		"applicants", "applicants.name", "appn_date", 20)

	resp, err := r.es.Search(ctx, r.es.IndexFor("patent"), body)
	if err != nil {
		r.logger.Warn().Err(err).Msg("crosstab aggregation failed")
		return state
	}
	raw, ok := resp.Aggregations["orgs"]
	if !ok {
		return state
	}
	buckets, err := backend.ParseCrosstab(raw)
	if err != nil {
		r.logger.Warn().Err(err).Msg("crosstab parse failed")
		return state
	}

	yearSet := make(map[string]bool)
	rows := make([]models.CrosstabRow, 0, len(buckets))
	for _, b := range buckets {
		if b.Total < crosstabMinCount {
			continue
		}
		for year := range b.ByYear {
			yearSet[year] = true
		}
		rows = append(rows, models.CrosstabRow{
			Name:   b.Name,
			ByYear: b.ByYear,
			Total:  b.Total,
		})
	}
	if len(rows) == 0 {
		return state
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Total > rows[j].Total })
	for i := range rows {
		rows[i].Rank = i + 1
	}
	years := make([]string, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Strings(years)

	state.ESStatistics = map[string]*models.StatsBucketSet{
		"patent": {Total: resp.Total, Years: years, Rows: rows},
	}
	state.StatisticsType = string(models.SubtypeCrosstabAnalysis)
	return state
}

func (r *Retriever) aggregateRanking(ctx context.Context, state models.WorkflowState, keywords []string) models.WorkflowState {
	size := 10
	if state.SearchConfig != nil && state.SearchConfig.ESLimit > 0 {
		size = state.SearchConfig.ESLimit
	}
	body := backend.TermsRankingQuery(keywords, aggregationFields, "applicants.name.keyword", size)

	resp, err := r.es.Search(ctx, r.es.IndexFor("patent"), body)
	if err != nil {
		r.logger.Warn().Err(err).Msg("ranking aggregation failed")
		return state
	}
	raw, ok := resp.Aggregations["top_terms"]
	if !ok {
		return state
	}
	buckets, err := backend.ParseTerms(raw)
	if err != nil {
		r.logger.Warn().Err(err).Msg("ranking parse failed")
		return state
	}
	rows := make([]models.RankingRow, 0, len(buckets))
	for i, b := range buckets {
		rows = append(rows, models.RankingRow{Rank: i + 1, Name: b.Key, Count: b.Count})
	}
	state.ESRankingResults = rows
	return state
}

// restrictToRecentYears adds a range filter onto an aggregation body.
func restrictToRecentYears(body map[string]any, dateField string, years int) {
	query, ok := body["query"].(map[string]any)
	if !ok {
		return
	}
	boolQuery, ok := query["bool"].(map[string]any)
	if !ok {
		return
	}
	boolQuery["filter"] = []map[string]any{
		{"range": map[string]any{dateField: map[string]any{"gte": nowMinusYears(years)}}},
	}
}

// nowMinusYears renders the date-math lower bound.
func nowMinusYears(years int) string {
	return fmt.Sprintf("now-%dy", years)
}
