package strategy

import (
	"fmt"
	"strings"

	"github.com/simpleflo/lattice/pkg/models"
)

// Loader names resolvable through the registry.
const (
	LoaderRanking       = "RankingLoader"
	LoaderCollaboration = "CollaborationLoader"
	LoaderScoring       = "ScoringLoader"
	LoaderAdvantage     = "AdvantageLoader"
)

// Loader is a precompiled SQL-generation strategy. Loaders bypass the
// LLM SQL path entirely; each knows the tables of its domain.
type Loader interface {
	Name() string
	BuildSQL(state *models.WorkflowState) (string, error)
}

var loaders = map[string]Loader{
	LoaderRanking:       rankingLoader{},
	LoaderCollaboration: collaborationLoader{},
	LoaderScoring:       scoringLoader{},
	LoaderAdvantage:     advantageLoader{},
}

// GetLoader resolves a loader by name, nil when unknown.
func GetLoader(name string) Loader {
	return loaders[name]
}

// EscapeSQL doubles single quotes for literal interpolation.
// Loader SQL interpolates keywords because the disjunction arity varies;
// everything passing through here also passes the executor safety check.
func EscapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// LikeDisjunction renders (col1 LIKE '%kw%' OR col2 LIKE '%kw%' OR ...)
// over every keyword and column.
func LikeDisjunction(columns, keywords []string) string {
	var parts []string
	for _, kw := range keywords {
		esc := EscapeSQL(kw)
		for _, col := range columns {
			parts = append(parts, fmt.Sprintf("%s LIKE '%%%s%%'", col, esc))
		}
	}
	if len(parts) == 0 {
		return "1=1"
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// CountryClause renders the nationality predicate from structured
// keywords, empty when no country was extracted.
func CountryClause(column string, countries []string) string {
	if len(countries) == 0 {
		return ""
	}
	code := countries[0]
	if code == "NOT_KR" {
		return fmt.Sprintf("%s != 'KR'", column)
	}
	return fmt.Sprintf("%s = '%s'", column, EscapeSQL(code))
}

// rankingLoader ranks patent applicants by distinct patent count.
// Trailing dots are stripped from applicant names before grouping so
// near-duplicate spellings merge.
type rankingLoader struct{}

func (rankingLoader) Name() string { return LoaderRanking }

func (rankingLoader) BuildSQL(state *models.WorkflowState) (string, error) {
	kws := state.ExpandedOrCoreKeywords()
	if len(kws) == 0 {
		return "", fmt.Errorf("ranking loader needs keywords")
	}
	where := LikeDisjunction([]string{"p.title", "p.summary", "p.tech_field"}, kws)
	if cc := CountryClause("p.ntcd", state.Structured.Country); cc != "" {
		where += " AND " + cc
	}
	sql := fmt.Sprintf(`WITH org_stats AS (
  SELECT RTRIM(pa.applicant_name, '.') AS org,
         COUNT(DISTINCT pa.documentid) AS n
  FROM patent_applicants pa
  JOIN patents p ON p.documentid = pa.documentid
  WHERE %s
  GROUP BY RTRIM(pa.applicant_name, '.')
)
SELECT org AS 기관명,
       n AS 특허건수,
       (SELECT p2.title
          FROM patents p2
          JOIN patent_applicants pa2 ON pa2.documentid = p2.documentid
         WHERE RTRIM(pa2.applicant_name, '.') = org
         ORDER BY p2.appn_date DESC
         LIMIT 1) AS 대표특허
FROM org_stats
ORDER BY n DESC
LIMIT 10`, where)
	return sql, nil
}

// collaborationLoader ranks organizations by joint project count, used
// for collaboration-partner recommendations.
type collaborationLoader struct{}

func (collaborationLoader) Name() string { return LoaderCollaboration }

func (collaborationLoader) BuildSQL(state *models.WorkflowState) (string, error) {
	kws := state.ExpandedOrCoreKeywords()
	if len(kws) == 0 {
		return "", fmt.Errorf("collaboration loader needs keywords")
	}
	where := LikeDisjunction([]string{"pr.title", "pr.summary"}, kws)
	sql := fmt.Sprintf(`SELECT po.org_name AS 기관명,
       COUNT(DISTINCT po.sbjt_id) AS 과제수,
       (SELECT pr2.title
          FROM projects pr2
          JOIN project_orgs po2 ON po2.sbjt_id = pr2.sbjt_id
         WHERE po2.org_name = po.org_name
         ORDER BY pr2.start_year DESC, pr2.sbjt_id DESC
         LIMIT 1) AS 대표과제
FROM project_orgs po
JOIN projects pr ON pr.sbjt_id = po.sbjt_id
WHERE %s
GROUP BY po.org_name
ORDER BY 과제수 DESC
LIMIT 10`, where)
	return sql, nil
}

// scoringLoader lists evaluation scores for matching proposals.
type scoringLoader struct{}

func (scoringLoader) Name() string { return LoaderScoring }

func (scoringLoader) BuildSQL(state *models.WorkflowState) (string, error) {
	where := LikeDisjunction([]string{"p.title", "p.summary"}, state.ExpandedOrCoreKeywords())
	sql := fmt.Sprintf(`SELECT p.title AS 과제명,
       p.org_name AS 기관명,
       s.total_score AS 총점,
       s.grade AS 등급
FROM evalp_scores s
JOIN proposals p ON p.sbjt_id = s.sbjt_id
WHERE %s
ORDER BY s.total_score DESC
LIMIT 20`, where)
	return sql, nil
}

// advantageLoader lists evaluation strengths and weaknesses.
type advantageLoader struct{}

func (advantageLoader) Name() string { return LoaderAdvantage }

func (advantageLoader) BuildSQL(state *models.WorkflowState) (string, error) {
	where := LikeDisjunction([]string{"p.title", "p.summary"}, state.ExpandedOrCoreKeywords())
	sql := fmt.Sprintf(`SELECT p.title AS 과제명,
       e.strength AS 장점,
       e.weakness AS 단점
FROM evalp_prefs e
JOIN proposals p ON p.sbjt_id = e.sbjt_id
WHERE %s
LIMIT 20`, where)
	return sql, nil
}
