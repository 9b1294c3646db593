package analyze

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const classifySystemPrompt = `당신은 R&D 검색 시스템의 질의 분류기입니다. ` +
	`사용자 질문을 분석해 JSON으로만 답하십시오. 설명 문장을 덧붙이지 마십시오.`

// classification mirrors the JSON shape the classification prompt asks for.
type classification struct {
	QueryType    string              `json:"query_type"`
	QuerySubtype string              `json:"query_subtype"`
	RankingType  string              `json:"ranking_type"`
	QueryIntent  string              `json:"query_intent"`
	Keywords     []string            `json:"keywords"`
	EntityTypes  []string            `json:"entity_types"`
	IsCompound   bool                `json:"is_compound"`
	SubQueries   []subQueryJSON      `json:"sub_queries"`
	Structured   structuredJSON      `json:"structured_keywords"`
}

type subQueryJSON struct {
	Intent      string   `json:"intent"`
	Subtype     string   `json:"subtype"`
	QueryType   string   `json:"query_type"`
	Keywords    []string `json:"keywords"`
	EntityTypes []string `json:"entity_types"`
	DependsOn   *int     `json:"depends_on"`
	Priority    int      `json:"priority"`
}

type structuredJSON struct {
	Tech   []string `json:"tech"`
	Org    []string `json:"org"`
	Filter []string `json:"filter"`
	Metric []string `json:"metric"`
}

func buildClassifyPrompt(query string, reasoning bool) string {
	var sb strings.Builder
	if reasoning {
		sb.WriteString("단계별로 생각한 뒤, 최종 결론만 JSON으로 출력하십시오.\n\n")
	}
	sb.WriteString(`질문을 분류하십시오.

query_type: sql | rag | hybrid | simple
query_subtype: list | aggregation | ranking | trend_analysis | crosstab_analysis | impact_ranking | nationality_ranking | concept | compound | recommendation | comparison | evalp_score | evalp_pref
ranking_type: simple | complex (ranking 계열일 때만)
entity_types: patent | project | equip | proposal | evalp | ancm 중 해당하는 것

규칙:
- keywords에는 기술 용어만 넣으십시오. 국가명(한국, 미국 등)과 엔티티 명사(특허, 과제, 장비, 제안서, 공고)는 넣지 마십시오.
- 두 개 이상의 엔티티를 묻는 복합 질문이면 is_compound=true로 하고 sub_queries를 채우십시오.

출력 형식:
{"query_type":"...","query_subtype":"...","ranking_type":"...","query_intent":"...","keywords":[...],"entity_types":[...],"is_compound":false,"sub_queries":[],"structured_keywords":{"tech":[],"org":[],"filter":[],"metric":[]}}

질문: `)
	sb.WriteString(query)
	return sb.String()
}

// parseClassification tries three strategies in order: a direct JSON
// parse, a brace-matched substring, then per-field regex extraction.
func parseClassification(raw string) (*classification, error) {
	trimmed := strings.TrimSpace(raw)

	var c classification
	if err := json.Unmarshal([]byte(trimmed), &c); err == nil {
		return &c, nil
	}

	if sub := braceMatchedJSON(trimmed); sub != "" {
		if err := json.Unmarshal([]byte(sub), &c); err == nil {
			return &c, nil
		}
	}

	if c2, ok := regexClassification(trimmed); ok {
		return c2, nil
	}
	return nil, fmt.Errorf("no parseable classification in %d chars of output", len(raw))
}

// braceMatchedJSON extracts the first balanced top-level JSON object,
// string-aware so braces inside values do not break matching.
func braceMatchedJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var (
	fieldStringPattern = map[string]*regexp.Regexp{
		"query_type":    regexp.MustCompile(`"query_type"\s*:\s*"([^"]*)"`),
		"query_subtype": regexp.MustCompile(`"query_subtype"\s*:\s*"([^"]*)"`),
		"ranking_type":  regexp.MustCompile(`"ranking_type"\s*:\s*"([^"]*)"`),
		"query_intent":  regexp.MustCompile(`"query_intent"\s*:\s*"([^"]*)"`),
	}
	fieldArrayPattern = map[string]*regexp.Regexp{
		"keywords":     regexp.MustCompile(`"keywords"\s*:\s*\[([^\]]*)\]`),
		"entity_types": regexp.MustCompile(`"entity_types"\s*:\s*\[([^\]]*)\]`),
	}
	quotedItemPattern = regexp.MustCompile(`"([^"]*)"`)
)

// regexClassification is the last-resort parse for badly mangled
// output. Sub-queries and structured keywords are not recoverable at
// this level.
func regexClassification(s string) (*classification, bool) {
	c := &classification{}
	found := false
	if m := fieldStringPattern["query_type"].FindStringSubmatch(s); m != nil {
		c.QueryType = m[1]
		found = true
	}
	if m := fieldStringPattern["query_subtype"].FindStringSubmatch(s); m != nil {
		c.QuerySubtype = m[1]
		found = true
	}
	if m := fieldStringPattern["ranking_type"].FindStringSubmatch(s); m != nil {
		c.RankingType = m[1]
	}
	if m := fieldStringPattern["query_intent"].FindStringSubmatch(s); m != nil {
		c.QueryIntent = m[1]
	}
	for field, pat := range fieldArrayPattern {
		m := pat.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		var items []string
		for _, q := range quotedItemPattern.FindAllStringSubmatch(m[1], -1) {
			items = append(items, q[1])
		}
		if field == "keywords" {
			c.Keywords = items
		} else {
			c.EntityTypes = items
		}
		found = true
	}
	return c, found
}
