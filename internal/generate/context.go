package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/simpleflo/lattice/pkg/models"
)

// MarkdownTable renders columns and rows as a GitHub-style table.
func MarkdownTable(columns []string, rows [][]any) string {
	if len(columns) == 0 || len(rows) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i := range columns {
			if i < len(row) {
				cells[i] = fmt.Sprintf("%v", row[i])
			}
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return sb.String()
}

// entityLabels gives section headings their Korean names.
var entityLabels = map[string]string{
	"patent":   "특허",
	"project":  "연구과제",
	"equip":    "연구장비",
	"proposal": "제안서",
	"ancm":     "공고",
}

func entityLabel(entity string) string {
	if label, ok := entityLabels[entity]; ok {
		return label
	}
	return entity
}

// BuildContext assembles the Markdown context block the generator
// prompts with. Compound sub-results come out one table per entity, in
// sub-query index order.
func BuildContext(state *models.WorkflowState) string {
	var sections []string

	if len(state.SubQueryResults) > 0 {
		for _, sub := range state.SubQueryResults {
			var sb strings.Builder
			fmt.Fprintf(&sb, "## %s\n", entityLabel(sub.EntityType))
			if sub.Intent != "" {
				sb.WriteString(sub.Intent + "\n")
			}
			if sub.SQLResult != nil && sub.SQLResult.Success {
				sb.WriteString(MarkdownTable(sub.SQLResult.Columns, sub.SQLResult.Rows))
			}
			if len(sub.RAGResults) > 0 {
				sb.WriteString(ragBullets(sub.RAGResults))
			}
			if sub.Error != "" {
				sb.WriteString("(조회 실패: " + sub.Error + ")\n")
			}
			sections = append(sections, sb.String())
		}
		return strings.Join(sections, "\n")
	}

	if len(state.MultiSQLResults) > 0 {
		entities := make([]string, 0, len(state.MultiSQLResults))
		for entity := range state.MultiSQLResults {
			entities = append(entities, entity)
		}
		sort.Strings(entities)
		for _, entity := range entities {
			result := state.MultiSQLResults[entity]
			if result == nil || !result.Success || result.RowCount == 0 {
				continue
			}
			sections = append(sections,
				"## "+entityLabel(entity)+"\n"+MarkdownTable(result.Columns, result.Rows))
		}
	} else if state.SQLResult != nil && state.SQLResult.Success && state.SQLResult.RowCount > 0 {
		sections = append(sections, MarkdownTable(state.SQLResult.Columns, state.SQLResult.Rows))
	}

	if stats := statisticsSection(state); stats != "" {
		sections = append(sections, stats)
	}
	if len(state.RAGResults) > 0 {
		sections = append(sections, "## 관련 문서\n"+ragBullets(state.RAGResults))
	}
	return strings.Join(sections, "\n")
}

func ragBullets(results []models.SearchResult) string {
	var sb strings.Builder
	for _, res := range results {
		fmt.Fprintf(&sb, "- %s", res.Name)
		if res.Description != "" {
			sb.WriteString(": " + res.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// statisticsSection renders trend buckets and crosstab rows.
func statisticsSection(state *models.WorkflowState) string {
	if len(state.ESStatistics) == 0 {
		return ""
	}
	entities := make([]string, 0, len(state.ESStatistics))
	for entity := range state.ESStatistics {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	var sections []string
	for _, entity := range entities {
		set := state.ESStatistics[entity]
		if set == nil {
			continue
		}
		if len(set.Rows) > 0 {
			columns := append([]string{"순위", "기관명"}, set.Years...)
			columns = append(columns, "합계")
			rows := make([][]any, 0, len(set.Rows))
			for _, row := range set.Rows {
				cells := []any{row.Rank, row.Name}
				for _, year := range set.Years {
					cells = append(cells, row.ByYear[year])
				}
				cells = append(cells, row.Total)
				rows = append(rows, cells)
			}
			sections = append(sections,
				"## "+entityLabel(entity)+" 기관별 연도별 현황\n"+MarkdownTable(columns, rows))
			continue
		}
		if len(set.Buckets) > 0 {
			rows := make([][]any, 0, len(set.Buckets))
			for _, b := range set.Buckets {
				rows = append(rows, []any{b.Key, b.Count})
			}
			sections = append(sections,
				"## "+entityLabel(entity)+" 연도별 추이 (총 "+fmt.Sprint(set.Total)+"건)\n"+
					MarkdownTable([]string{"연도", "건수"}, rows))
		}
	}
	return strings.Join(sections, "\n")
}
