// Package models defines the shared data model for the Lattice orchestrator.
package models

import "time"

// QueryType is the coarse classification of a user query.
type QueryType string

const (
	QueryTypeSQL    QueryType = "sql"
	QueryTypeRAG    QueryType = "rag"
	QueryTypeHybrid QueryType = "hybrid"
	QueryTypeSimple QueryType = "simple"
)

// QuerySubtype is the fine-grained intent label that drives strategy resolution.
type QuerySubtype string

const (
	SubtypeList               QuerySubtype = "list"
	SubtypeAggregation        QuerySubtype = "aggregation"
	SubtypeRanking            QuerySubtype = "ranking"
	SubtypeTrendAnalysis      QuerySubtype = "trend_analysis"
	SubtypeCrosstabAnalysis   QuerySubtype = "crosstab_analysis"
	SubtypeImpactRanking      QuerySubtype = "impact_ranking"
	SubtypeNationalityRanking QuerySubtype = "nationality_ranking"
	SubtypeConcept            QuerySubtype = "concept"
	SubtypeCompound           QuerySubtype = "compound"
	SubtypeRecommendation     QuerySubtype = "recommendation"
	SubtypeComparison         QuerySubtype = "comparison"
	SubtypeEvalpScore         QuerySubtype = "evalp_score"
	SubtypeEvalpPref          QuerySubtype = "evalp_pref"
)

// RankingType distinguishes single-metric count rankings from rankings that
// need derived metrics (rates, averages, year buckets).
type RankingType string

const (
	RankingSimple  RankingType = "simple"
	RankingComplex RankingType = "complex"
)

// Level is the requested answer depth.
type Level string

const (
	LevelL1 Level = "L1"
	LevelL2 Level = "L2"
	LevelL3 Level = "L3"
	LevelL4 Level = "L4"
	LevelL5 Level = "L5"
	LevelL6 Level = "L6"

	// Legacy aliases still accepted on the wire.
	LevelElementary Level = "elementary"
	LevelGeneral    Level = "general"
	LevelExpert     Level = "expert"
)

// StructuredKeywords carries keywords split by role. Country codes never
// appear in the flat keyword list; they live in Country only.
type StructuredKeywords struct {
	Tech    []string `json:"tech,omitempty"`
	Org     []string `json:"org,omitempty"`
	Country []string `json:"country,omitempty"`
	Region  []string `json:"region,omitempty"`
	Filter  []string `json:"filter,omitempty"`
	Metric  []string `json:"metric,omitempty"`
}

// MergeStrategy controls how compound sub-query results are combined.
type MergeStrategy string

const (
	MergeParallel   MergeStrategy = "parallel"
	MergeSequential MergeStrategy = "sequential"
)

// SubQuery is one decomposed piece of a compound query.
type SubQuery struct {
	Index       int          `json:"index"`
	Intent      string       `json:"intent"`
	Subtype     QuerySubtype `json:"subtype"`
	QueryType   QueryType    `json:"query_type"`
	Keywords    []string     `json:"keywords"`
	EntityTypes []string     `json:"entity_types"`
	DependsOn   *int         `json:"depends_on,omitempty"`
	Priority    int          `json:"priority"`
	Context     any          `json:"context,omitempty"`
}

// SubQueryResult is the outcome of executing one sub-query.
type SubQueryResult struct {
	Index      int        `json:"index"`
	Intent     string     `json:"intent"`
	EntityType string     `json:"entity_type"`
	SQLResult  *SQLResult `json:"sql_result,omitempty"`
	RAGResults []SearchResult `json:"rag_results,omitempty"`
	Error      string     `json:"error,omitempty"`
	ElapsedMs  float64    `json:"elapsed_ms"`
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SourceRef records provenance of a piece of answer context.
type SourceRef struct {
	Type   string `json:"type"`              // sql | vector | elasticsearch | graph
	Entity string `json:"entity,omitempty"`  // domain that produced it
	SQL    string `json:"sql,omitempty"`     // generated SQL for sql sources
	NodeID string `json:"node_id,omitempty"` // node id for rag sources
	Detail string `json:"detail,omitempty"`
}

// MaxHistoryLength caps conversation_history; the reducer drops the oldest
// messages beyond this bound.
const MaxHistoryLength = 20

// WorkflowState is the record threaded through every workflow node. Nodes
// receive a copy and return a modified copy; the engine never shares a state
// value between concurrent branches.
type WorkflowState struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	Level     Level  `json:"level"`

	QueryType    QueryType    `json:"query_type"`
	QuerySubtype QuerySubtype `json:"query_subtype"`
	QueryIntent  string       `json:"query_intent,omitempty"`
	RankingType  RankingType  `json:"ranking_type,omitempty"`

	Keywords         []string            `json:"keywords"`
	SynonymKeywords  []string            `json:"synonym_keywords,omitempty"`
	ExpandedKeywords []string            `json:"expanded_keywords,omitempty"`
	EntityKeywords   map[string][]string `json:"entity_keywords,omitempty"`
	Structured       StructuredKeywords  `json:"structured_keywords"`

	EntityTypes []string `json:"entity_types"`

	IsCompound      bool          `json:"is_compound"`
	IsEquipmentQuery bool         `json:"is_equipment_query,omitempty"`
	SubQueries      []SubQuery    `json:"sub_queries,omitempty"`
	MergeStrategy   MergeStrategy `json:"merge_strategy,omitempty"`

	SearchConfig *SearchConfig `json:"search_config,omitempty"`

	ESDocIDs   map[string][]string `json:"es_doc_ids,omitempty"`
	DomainHits map[string]int      `json:"domain_hits,omitempty"`

	SQLResult       *SQLResult            `json:"sql_result,omitempty"`
	MultiSQLResults map[string]*SQLResult `json:"multi_sql_results,omitempty"`
	GeneratedSQL    string                `json:"generated_sql,omitempty"`

	RAGResults       []SearchResult `json:"rag_results,omitempty"`
	SearchStrategy   string         `json:"search_strategy,omitempty"`
	ESRankingResults []RankingRow   `json:"es_ranking_results,omitempty"`

	ESStatistics   map[string]*StatsBucketSet `json:"es_statistics,omitempty"`
	StatisticsType string                     `json:"statistics_type,omitempty"`

	SubQueryResults []SubQueryResult `json:"sub_query_results,omitempty"`

	Sources []SourceRef `json:"sources,omitempty"`

	Response            string        `json:"response,omitempty"`
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty"`

	ContextQuality float64            `json:"context_quality"`
	StageTiming    map[string]float64 `json:"stage_timing,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewWorkflowState constructs the per-turn initial state.
func NewWorkflowState(query, sessionID string, level Level) WorkflowState {
	if level == "" {
		level = LevelGeneral
	}
	return WorkflowState{
		Query:       query,
		SessionID:   sessionID,
		Level:       level,
		StageTiming: make(map[string]float64),
	}
}

// Clone returns a deep copy of the state so a branch can mutate freely.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.Keywords = append([]string(nil), s.Keywords...)
	out.SynonymKeywords = append([]string(nil), s.SynonymKeywords...)
	out.ExpandedKeywords = append([]string(nil), s.ExpandedKeywords...)
	out.EntityTypes = append([]string(nil), s.EntityTypes...)
	out.SubQueries = append([]SubQuery(nil), s.SubQueries...)
	out.RAGResults = append([]SearchResult(nil), s.RAGResults...)
	out.ESRankingResults = append([]RankingRow(nil), s.ESRankingResults...)
	out.SubQueryResults = append([]SubQueryResult(nil), s.SubQueryResults...)
	out.Sources = append([]SourceRef(nil), s.Sources...)
	out.ConversationHistory = append([]ChatMessage(nil), s.ConversationHistory...)
	if s.EntityKeywords != nil {
		out.EntityKeywords = make(map[string][]string, len(s.EntityKeywords))
		for k, v := range s.EntityKeywords {
			out.EntityKeywords[k] = append([]string(nil), v...)
		}
	}
	if s.ESDocIDs != nil {
		out.ESDocIDs = make(map[string][]string, len(s.ESDocIDs))
		for k, v := range s.ESDocIDs {
			out.ESDocIDs[k] = append([]string(nil), v...)
		}
	}
	if s.DomainHits != nil {
		out.DomainHits = make(map[string]int, len(s.DomainHits))
		for k, v := range s.DomainHits {
			out.DomainHits[k] = v
		}
	}
	if s.MultiSQLResults != nil {
		out.MultiSQLResults = make(map[string]*SQLResult, len(s.MultiSQLResults))
		for k, v := range s.MultiSQLResults {
			out.MultiSQLResults[k] = v
		}
	}
	if s.ESStatistics != nil {
		out.ESStatistics = make(map[string]*StatsBucketSet, len(s.ESStatistics))
		for k, v := range s.ESStatistics {
			out.ESStatistics[k] = v
		}
	}
	if s.StageTiming != nil {
		out.StageTiming = make(map[string]float64, len(s.StageTiming))
		for k, v := range s.StageTiming {
			out.StageTiming[k] = v
		}
	}
	if s.SearchConfig != nil {
		cfg := s.SearchConfig.Clone()
		out.SearchConfig = &cfg
	}
	return out
}

// AppendHistory appends a message and enforces the history bound.
func (s *WorkflowState) AppendHistory(role, content string) {
	s.ConversationHistory = append(s.ConversationHistory, ChatMessage{Role: role, Content: content})
	if n := len(s.ConversationHistory); n > MaxHistoryLength {
		s.ConversationHistory = append([]ChatMessage(nil), s.ConversationHistory[n-MaxHistoryLength:]...)
	}
}

// ExpandedOrCoreKeywords returns the core keywords followed by any
// expansion keywords, deduplicated in order. SQL builders use this so
// expansion only widens a disjunction, never replaces it.
func (s *WorkflowState) ExpandedOrCoreKeywords() []string {
	seen := make(map[string]bool, len(s.Keywords)+len(s.ExpandedKeywords))
	out := make([]string, 0, len(s.Keywords)+len(s.ExpandedKeywords))
	for _, kw := range s.Keywords {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	for _, kw := range s.ExpandedKeywords {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// AppendError concatenates a branch error onto the state error string.
func (s *WorkflowState) AppendError(msg string) {
	if msg == "" {
		return
	}
	if s.Error == "" {
		s.Error = msg
		return
	}
	s.Error = s.Error + "; " + msg
}

// WorkflowResult is the per-turn output returned to callers.
type WorkflowResult struct {
	Response       string             `json:"response"`
	QueryType      QueryType          `json:"query_type"`
	QuerySubtype   QuerySubtype       `json:"query_subtype"`
	Sources        []SourceRef        `json:"sources,omitempty"`
	ContextQuality float64            `json:"context_quality"`
	StageTiming    map[string]float64 `json:"stage_timing,omitempty"`
	Error          string             `json:"error,omitempty"`
	SessionID      string             `json:"session_id"`
	StartedAt      time.Time          `json:"started_at"`
	ElapsedMs      float64            `json:"elapsed_ms"`
}
