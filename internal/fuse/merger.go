package fuse

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// Merger folds the per-backend results into the source set the
// generator consumes.
type Merger struct {
	rrfK   int
	logger zerolog.Logger
}

// NewMerger creates a Merger.
func NewMerger(cfg config.FusionConfig) *Merger {
	k := cfg.RRFConstant
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Merger{rrfK: k, logger: observability.Logger("merger")}
}

// Merge applies the subtype-specific fusion and computes the context
// quality score.
func (m *Merger) Merge(state models.WorkflowState) models.WorkflowState {
	if state.QuerySubtype == models.SubtypeRanking && state.RankingType == models.RankingComplex {
		m.mergeComplexRanking(&state)
	} else {
		m.mergeSources(&state)
	}
	if len(state.SubQueryResults) > 0 {
		sort.SliceStable(state.SubQueryResults, func(i, j int) bool {
			return state.SubQueryResults[i].Index < state.SubQueryResults[j].Index
		})
	}
	state.ContextQuality = ContextQuality(&state)
	return state
}

var (
	orgColumnPattern   = regexp.MustCompile(`기관|org|출원인|수행기관`)
	countColumnPattern = regexp.MustCompile(`수$|count|건수|특허`)
)

// SQLRankingRows converts a SQL ranking table into org/count records by
// column-name heuristics. Returns nil when no org or count column is
// recognizable.
func SQLRankingRows(result *models.SQLResult) []models.RankingRow {
	if result == nil || !result.Success || len(result.Rows) == 0 {
		return nil
	}
	orgIdx, countIdx := -1, -1
	for i, col := range result.Columns {
		if orgIdx < 0 && orgColumnPattern.MatchString(col) {
			orgIdx = i
		}
		if countIdx < 0 && countColumnPattern.MatchString(col) {
			countIdx = i
		}
	}
	if orgIdx < 0 || countIdx < 0 {
		return nil
	}
	rows := make([]models.RankingRow, 0, len(result.Rows))
	for i, row := range result.Rows {
		if orgIdx >= len(row) || countIdx >= len(row) {
			continue
		}
		name := fmt.Sprintf("%v", row[orgIdx])
		rows = append(rows, models.RankingRow{
			Rank:  i + 1,
			Name:  name,
			Count: asCount(row[countIdx]),
		})
	}
	return rows
}

func asCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

// mergeComplexRanking RRF-merges the SQL and ES org rankings into a
// fresh table. The graph ranking participates when the retriever put
// graph-sourced rows into rag_results.
func (m *Merger) mergeComplexRanking(state *models.WorkflowState) {
	sqlRows := SQLRankingRows(state.SQLResult)
	esRows := state.ESRankingResults

	lists := make(map[string][]string)
	sqlCounts := make(map[string]int)
	esCounts := make(map[string]int)
	if len(sqlRows) > 0 {
		keys := make([]string, len(sqlRows))
		for i, r := range sqlRows {
			keys[i] = r.Name
			sqlCounts[r.Name] = r.Count
		}
		lists["sql"] = keys
	}
	if len(esRows) > 0 {
		keys := make([]string, len(esRows))
		for i, r := range esRows {
			keys[i] = r.Name
			esCounts[r.Name] = r.Count
		}
		lists["es"] = keys
	}
	var graphKeys []string
	for _, r := range state.RAGResults {
		if r.MetaString("source") == string(models.SourceGraph) {
			graphKeys = append(graphKeys, r.Name)
		}
	}
	if len(graphKeys) > 0 {
		lists["graph"] = graphKeys
	}
	if len(lists) == 0 {
		m.mergeSources(state)
		return
	}

	contributions := RRF(m.rrfK, lists)
	ranked := RankByScore(contributions)

	rows := make([][]any, 0, len(ranked))
	for i, name := range ranked {
		rows = append(rows, []any{
			i + 1,
			name,
			sqlCounts[name],
			esCounts[name],
			fmt.Sprintf("%.4f", contributions[name].Score),
		})
	}
	merged := &models.SQLResult{
		Success:  true,
		Columns:  []string{"순위", "기관명", "SQL건수", "ES건수", "RRF점수"},
		Rows:     rows,
		RowCount: len(rows),
	}
	state.SQLResult = merged
	m.logger.Debug().Int("orgs", len(rows)).Msg("complex ranking fused")
}

// mergeSources deduplicates provenance and orders it by merge priority.
func (m *Merger) mergeSources(state *models.WorkflowState) {
	if len(state.Sources) == 0 {
		return
	}
	seen := make(map[string]bool, len(state.Sources))
	out := make([]models.SourceRef, 0, len(state.Sources))
	for _, src := range state.Sources {
		key := src.Type + "\x00" + src.SQL + "\x00" + src.NodeID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, src)
	}

	priority := map[string]int{}
	if state.SearchConfig != nil {
		priority = state.SearchConfig.MergePriority
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := priority[out[i].Type]
		pj, jok := priority[out[j].Type]
		if iok && jok {
			return pi < pj
		}
		return iok && !jok
	})
	state.Sources = out
}

// ContextQuality scores how much usable context the turn gathered, in
// [0, 1]. The generator scales its claims down when this is low.
func ContextQuality(state *models.WorkflowState) float64 {
	var score float64

	sqlRows := 0
	if state.SQLResult != nil && state.SQLResult.Success {
		sqlRows = state.SQLResult.RowCount
	}
	for _, r := range state.MultiSQLResults {
		if r != nil && r.Success {
			sqlRows += r.RowCount
		}
	}
	if sqlRows > 0 {
		score += 0.5 * capRatio(sqlRows, 10)
	}
	if n := len(state.RAGResults); n > 0 {
		score += 0.3 * capRatio(n, 5)
	}
	if len(state.ESStatistics) > 0 || len(state.ESRankingResults) > 0 {
		score += 0.2
	}
	if state.Error != "" {
		score -= 0.2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func capRatio(n, full int) float64 {
	if n >= full {
		return 1
	}
	return float64(n) / float64(full)
}
