package executor

import (
	"fmt"
	"strings"

	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/strategy"
	"github.com/simpleflo/lattice/pkg/models"
)

// maxDirectIDs bounds the IN list on the ES-driven direct path.
const maxDirectIDs = 50

// searchColumns are the text columns used for keyword disjunctions per
// entity domain.
var searchColumns = map[string][]string{
	catalog.EntityPatent:   {"title", "summary", "tech_field"},
	catalog.EntityProject:  {"title", "summary"},
	catalog.EntityEquip:    {"equip_name", "spec_summary"},
	catalog.EntityProposal: {"title", "summary"},
	catalog.EntityAncm:     {"title", "body"},
}

// scrubKeywords drops entity-type nouns from the disjunction. Country
// tokens never reach here; the analyzer routes them into structured
// keywords.
func scrubKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" || catalog.IsEntityNoun(kw) {
			continue
		}
		out = append(out, kw)
	}
	return out
}

// esDrivenSQL builds the direct id-lookup for ES-validated documents.
// The result is a subset of what the scout already confirmed exists.
func esDrivenSQL(schema *catalog.Schema, entity string, ids []string, limit int) (string, bool) {
	table, ok := schema.TableFor(entity)
	if !ok || len(ids) == 0 {
		return "", false
	}
	if len(ids) > maxDirectIDs {
		ids = ids[:maxDirectIDs]
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + strategy.EscapeSQL(id) + "'"
	}
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = c.Name
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) LIMIT %d",
		strings.Join(cols, ", "), table.Name, table.IDColumn, strings.Join(quoted, ", "), limit), true
}

// listSQL is the per-entity keyword template.
func listSQL(schema *catalog.Schema, entity string, state *models.WorkflowState, limit int) (string, error) {
	table, ok := schema.TableFor(entity)
	if !ok {
		return "", models.NewError(models.ErrSQLExecution, "no table for entity "+entity)
	}
	keywords := scrubKeywords(state.ExpandedOrCoreKeywords())
	cols, ok := searchColumns[entity]
	if !ok {
		cols = []string{"title"}
	}
	where := strategy.LikeDisjunction(cols, keywords)
	if entity == catalog.EntityPatent {
		if cc := strategy.CountryClause("ntcd", state.Structured.Country); cc != "" {
			where += " AND " + cc
		}
	}
	if entity == catalog.EntityEquip && len(state.Structured.Region) > 0 {
		where += fmt.Sprintf(" AND region LIKE '%%%s%%'", strategy.EscapeSQL(state.Structured.Region[0]))
	}
	allCols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		allCols[i] = c.Name
	}
	order := ""
	if table.DateColumn != "" {
		order = " ORDER BY " + table.DateColumn + " DESC"
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s%s LIMIT %d",
		strings.Join(allCols, ", "), table.Name, where, order, limit), nil
}

// impactRankingSQL ranks patent applicants by citation impact. Orgs with
// a single patent are excluded; one paper does not make a track record.
func impactRankingSQL(state *models.WorkflowState) (string, error) {
	keywords := scrubKeywords(state.ExpandedOrCoreKeywords())
	if len(keywords) == 0 {
		return "", models.NewError(models.ErrSQLExecution, "impact ranking needs keywords")
	}
	where := strategy.LikeDisjunction([]string{"p.title", "p.summary", "p.tech_field"}, keywords)
	if cc := strategy.CountryClause("p.ntcd", state.Structured.Country); cc != "" {
		where += " AND " + cc
	}
	return fmt.Sprintf(`WITH org_stats AS (
  SELECT RTRIM(pa.applicant_name, '.') AS org,
         COUNT(*) AS n,
         SUM(p.citations) AS total_cites,
         AVG(p.citations) AS avg_cites,
         AVG(CASE WHEN p.citations >= 1 THEN p.citations END) AS avg_cited,
         MAX(p.citations) AS max_cites
  FROM patent_applicants pa
  JOIN patents p ON p.documentid = pa.documentid
  WHERE %s
  GROUP BY RTRIM(pa.applicant_name, '.')
  HAVING COUNT(*) >= 2
)
SELECT org AS 기관명,
       n AS 특허건수,
       total_cites AS 총피인용,
       ROUND(avg_cites, 2) AS 평균피인용,
       ROUND(avg_cited, 2) AS 피인용특허평균,
       max_cites AS 최대피인용,
       (SELECT p2.title
          FROM patents p2
          JOIN patent_applicants pa2 ON pa2.documentid = p2.documentid
         WHERE RTRIM(pa2.applicant_name, '.') = org
         ORDER BY p2.citations DESC
         LIMIT 1) AS 대표특허
FROM org_stats
ORDER BY total_cites DESC
LIMIT 10`, where), nil
}

// nationalityRankingSQL runs the applicant ranking twice, split into
// domestic and foreign blocks, ten orgs each.
func nationalityRankingSQL(state *models.WorkflowState) (string, error) {
	keywords := scrubKeywords(state.ExpandedOrCoreKeywords())
	if len(keywords) == 0 {
		return "", models.NewError(models.ErrSQLExecution, "nationality ranking needs keywords")
	}
	where := strategy.LikeDisjunction([]string{"p.title", "p.summary", "p.tech_field"}, keywords)
	block := func(label, clause string) string {
		return fmt.Sprintf(`SELECT * FROM (
  SELECT '%s' AS 구분,
         RTRIM(pa.applicant_name, '.') AS 기관명,
         COUNT(DISTINCT pa.documentid) AS 특허건수
  FROM patent_applicants pa
  JOIN patents p ON p.documentid = pa.documentid
  WHERE %s AND %s
  GROUP BY RTRIM(pa.applicant_name, '.')
  ORDER BY 특허건수 DESC
  LIMIT 10
)`, label, where, clause)
	}
	return block("국내", "p.ntcd = 'KR'") + "\nUNION ALL\n" + block("해외", "p.ntcd != 'KR'"), nil
}
