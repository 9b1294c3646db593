package models

// SearchSource identifies one of the physical backends.
type SearchSource string

const (
	SourceSQL    SearchSource = "sql"
	SourceVector SearchSource = "vector"
	SourceES     SearchSource = "elasticsearch"
	SourceGraph  SearchSource = "graph"
)

// GraphRAGStrategy selects how the RAG retriever combines graph and vector search.
type GraphRAGStrategy string

const (
	GraphRAGNone     GraphRAGStrategy = "none"
	GraphRAGVector   GraphRAGStrategy = "vector_only"
	GraphRAGGraph    GraphRAGStrategy = "graph_only"
	GraphRAGEnhanced GraphRAGStrategy = "graph_enhanced"
	GraphRAGHybrid   GraphRAGStrategy = "hybrid"
)

// ESMode selects how the keyword engine participates in a turn.
type ESMode string

const (
	ESModeOff          ESMode = "off"
	ESModeKeywordBoost ESMode = "keyword_boost"
	ESModeAggregation  ESMode = "aggregation"
)

// SearchConfig is the per-request retrieval strategy resolved from the
// query subtype and adjusted by entity and query type.
type SearchConfig struct {
	PrimarySources  []SearchSource   `json:"primary_sources"`
	FallbackSources []SearchSource   `json:"fallback_sources,omitempty"`
	GraphRAG        GraphRAGStrategy `json:"graph_rag_strategy"`
	ESMode          ESMode           `json:"es_mode"`
	MergePriority   map[string]int   `json:"merge_priority,omitempty"`

	SQLLimit int `json:"sql_limit"`
	RAGLimit int `json:"rag_limit"`
	ESLimit  int `json:"es_limit"`

	NeedVectorEnhancement bool `json:"need_vector_enhancement"`

	UseLoader  bool   `json:"use_loader"`
	LoaderName string `json:"loader_name,omitempty"`

	// Collections overrides the entity collection map for vector search.
	Collections []string `json:"collections,omitempty"`
}

// Clone deep-copies the config so per-request adjustments never leak into
// the static subtype table.
func (c SearchConfig) Clone() SearchConfig {
	out := c
	out.PrimarySources = append([]SearchSource(nil), c.PrimarySources...)
	out.FallbackSources = append([]SearchSource(nil), c.FallbackSources...)
	out.Collections = append([]string(nil), c.Collections...)
	if c.MergePriority != nil {
		out.MergePriority = make(map[string]int, len(c.MergePriority))
		for k, v := range c.MergePriority {
			out.MergePriority[k] = v
		}
	}
	return out
}

// HasPrimary reports whether src is among the primary sources.
func (c *SearchConfig) HasPrimary(src SearchSource) bool {
	for _, s := range c.PrimarySources {
		if s == src {
			return true
		}
	}
	return false
}

// SearchResult is a normalized retrieval hit from any backend.
type SearchResult struct {
	NodeID          string         `json:"node_id"`
	Name            string         `json:"name"`
	EntityType      string         `json:"entity_type"`
	Description     string         `json:"description,omitempty"`
	Score           float64        `json:"score"`
	RelatedEntities []string       `json:"related_entities,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// MetaString reads a string metadata value, tolerating a nil map.
func (r *SearchResult) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// SetMeta writes a metadata value, allocating the map on first use.
func (r *SearchResult) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// SQLResult carries rows-plus-columns from the relational backend.
type SQLResult struct {
	Success         bool     `json:"success"`
	Columns         []string `json:"columns,omitempty"`
	Rows            [][]any  `json:"rows,omitempty"`
	RowCount        int      `json:"row_count"`
	Error           string   `json:"error,omitempty"`
	ExecutionTimeMs float64  `json:"execution_time_ms"`
	GeneratedSQL    string   `json:"generated_sql,omitempty"`
}

// RankingRow is one org/count pair produced by ES terms aggregation or by
// converting a SQL ranking result for RRF fusion.
type RankingRow struct {
	Rank        int     `json:"rank"`
	Name        string  `json:"name"`
	Count       int     `json:"count"`
	Nationality string  `json:"nationality,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// StatsBucket is one histogram bucket from an ES aggregation.
type StatsBucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// StatsBucketSet is the result of an ES statistics aggregation for one entity.
type StatsBucketSet struct {
	Total   int           `json:"total"`
	Buckets []StatsBucket `json:"buckets"`

	// Crosstab extensions: per-org yearly breakdown.
	Years []string      `json:"years,omitempty"`
	Rows  []CrosstabRow `json:"rows,omitempty"`
}

// CrosstabRow is one applicant row of a 2-D applicant-by-year table.
type CrosstabRow struct {
	Rank        int            `json:"rank"`
	Name        string         `json:"name"`
	Nationality string         `json:"nationality,omitempty"`
	ByYear      map[string]int `json:"by_year"`
	Total       int            `json:"total"`
}
