// Package executor turns the analyzed state into relational queries: an
// ES-validated id lookup when the scout found documents, precompiled
// statistics templates, keyword templates, and an LLM fallback for
// everything else.
package executor

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/internal/strategy"
	"github.com/simpleflo/lattice/pkg/models"
)

// SQLRunner is the slice of the relational store the executor needs.
type SQLRunner interface {
	Query(ctx context.Context, query string, args ...any) (*models.SQLResult, error)
}

// ChatClient generates SQL for subtypes without a template.
type ChatClient interface {
	Chat(ctx context.Context, system, prompt string) (string, error)
}

// Executor runs the SQL stage of a turn.
type Executor struct {
	db      SQLRunner
	llm     ChatClient
	schema  *catalog.Schema
	workers int
	logger  zerolog.Logger
}

// New creates an Executor. llm may be nil; the LLM path then reports an
// execution error instead of generating.
func New(db SQLRunner, llm ChatClient, schema *catalog.Schema, cfg config.SQLConfig) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	return &Executor{
		db:      db,
		llm:     llm,
		schema:  schema,
		workers: workers,
		logger:  observability.Logger("executor"),
	}
}

// Execute runs the SQL stage and records results on the state. Multiple
// entity types fan out over a worker pool into multi_sql_results; a
// single entity lands in sql_result.
func (x *Executor) Execute(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	if state.SearchConfig != nil && state.SearchConfig.UseLoader {
		return x.executeLoader(ctx, state)
	}

	entities := x.tableEntities(state.EntityTypes)
	if len(entities) == 0 {
		entities = []string{catalog.CoreDomain}
	}

	if len(entities) == 1 {
		result := x.executeEntity(ctx, entities[0], &state)
		state.SQLResult = result
		state.GeneratedSQL = result.GeneratedSQL
		x.recordOutcome(&state, entities[0], result)
		if result.Success && result.RowCount == 0 && state.QuerySubtype == models.SubtypeRanking {
			x.applyESFallback(&state)
		}
		return state
	}

	results := make(map[string]*models.SQLResult, len(entities))
	var mu sync.Mutex
	sem := make(chan struct{}, x.workers)
	var wg sync.WaitGroup
	for _, entity := range entities {
		wg.Add(1)
		go func(entity string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			result := x.executeEntity(ctx, entity, &state)
			mu.Lock()
			results[entity] = result
			mu.Unlock()
		}(entity)
	}
	wg.Wait()

	state.MultiSQLResults = results
	for _, entity := range entities {
		x.recordOutcome(&state, entity, results[entity])
	}
	return state
}

// executeLoader runs a precompiled loader strategy.
func (x *Executor) executeLoader(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	loader := strategy.GetLoader(state.SearchConfig.LoaderName)
	if loader == nil {
		state.AppendError("loader not found: " + state.SearchConfig.LoaderName)
		return state
	}
	sql, err := loader.BuildSQL(&state)
	if err != nil {
		state.AppendError(err.Error())
		return state
	}
	if err := ValidateSQL(sql); err != nil {
		state.AppendError(err.Error())
		return state
	}
	result := x.run(ctx, sql)
	state.SQLResult = result
	state.GeneratedSQL = sql
	entity := catalog.CoreDomain
	if len(state.EntityTypes) > 0 {
		entity = state.EntityTypes[0]
	}
	x.recordOutcome(&state, entity, result)

	if result.Success && result.RowCount == 0 && state.QuerySubtype == models.SubtypeRanking {
		x.applyESFallback(&state)
	}
	return state
}

// executeEntity picks a path for one entity and runs it.
func (x *Executor) executeEntity(ctx context.Context, entity string, state *models.WorkflowState) *models.SQLResult {
	limit := defaultLimit(state)

	// ES-validated documents bypass generation entirely.
	if ids := state.ESDocIDs[entity]; len(ids) > 0 && state.QuerySubtype != models.SubtypeAggregation {
		if sql, ok := esDrivenSQL(x.schema, entity, ids, limit); ok {
			return x.run(ctx, sql)
		}
	}

	switch state.QuerySubtype {
	case models.SubtypeImpactRanking:
		if entity == catalog.EntityPatent {
			sql, err := impactRankingSQL(state)
			return x.runTemplate(ctx, sql, err)
		}
	case models.SubtypeNationalityRanking:
		if entity == catalog.EntityPatent {
			sql, err := nationalityRankingSQL(state)
			return x.runTemplate(ctx, sql, err)
		}
	case models.SubtypeTrendAnalysis, models.SubtypeCrosstabAnalysis:
		// ES statistics already answered this; no SQL needed.
		if state.ESStatistics[entity] != nil {
			return &models.SQLResult{Success: true}
		}
	}

	if usesListTemplate(state.QuerySubtype) {
		sql, err := listSQL(x.schema, entity, state, limit)
		if err != nil {
			return failedResult(err)
		}
		if err := ValidateSQL(sql); err != nil {
			return failedResult(err)
		}
		result := x.run(ctx, sql)
		if result.Success && result.RowCount == 0 && state.QuerySubtype == models.SubtypeRanking {
			// The retriever's ES ranking covers for the empty table.
			return result
		}
		return result
	}

	return x.executeLLMSQL(ctx, entity, state)
}

// runTemplate wraps a template builder result. Direct templates skip
// validation; they are compiled in, not generated.
func (x *Executor) runTemplate(ctx context.Context, sql string, err error) *models.SQLResult {
	if err != nil {
		return failedResult(err)
	}
	return x.run(ctx, sql)
}

func usesListTemplate(subtype models.QuerySubtype) bool {
	switch subtype {
	case models.SubtypeList, models.SubtypeRanking, models.SubtypeTrendAnalysis,
		models.SubtypeCrosstabAnalysis, models.SubtypeCompound:
		return true
	}
	return false
}

const sqlSystemPrompt = `당신은 R&D 데이터베이스 SQL 생성기입니다. 주어진 스키마만 사용하여 단일 SELECT 문을 생성하세요. 설명 없이 SQL만 출력하세요.`

// executeLLMSQL prompts the model with a schema snippet and runs the
// validated output.
func (x *Executor) executeLLMSQL(ctx context.Context, entity string, state *models.WorkflowState) *models.SQLResult {
	if x.llm == nil {
		return failedResult(models.NewError(models.ErrSQLExecution, "no SQL path for subtype "+string(state.QuerySubtype)))
	}

	var sb strings.Builder
	sb.WriteString("스키마:\n")
	sb.WriteString(x.schema.Snippet([]string{entity}))
	sb.WriteString("\n질문: ")
	sb.WriteString(state.Query)
	sb.WriteString("\n키워드: ")
	sb.WriteString(strings.Join(scrubKeywords(state.ExpandedOrCoreKeywords()), ", "))
	if len(state.Structured.Country) > 0 {
		sb.WriteString("\n국가 필터: ")
		sb.WriteString(strings.Join(state.Structured.Country, ", "))
	}
	sb.WriteString("\n질의 유형: ")
	sb.WriteString(string(state.QuerySubtype))
	sb.WriteString("\nSQL:")

	reply, err := x.llm.Chat(ctx, sqlSystemPrompt, sb.String())
	if err != nil {
		return failedResult(models.Wrap(models.ErrSQLExecution, "SQL 생성 실패", err))
	}
	sql := extractSQL(backend.StripReasoning(reply))
	if err := ValidateSQL(sql); err != nil {
		return failedResult(err)
	}
	return x.run(ctx, sql)
}

// extractSQL pulls the statement out of a chat reply, tolerating code
// fences and prose around it.
func extractSQL(reply string) string {
	reply = strings.TrimSpace(reply)
	if i := strings.Index(reply, "```"); i >= 0 {
		rest := reply[i+3:]
		rest = strings.TrimPrefix(rest, "sql")
		rest = strings.TrimPrefix(rest, "\n")
		if j := strings.Index(rest, "```"); j >= 0 {
			reply = rest[:j]
		} else {
			reply = rest
		}
	}
	upper := strings.ToUpper(reply)
	start := -1
	for _, prefix := range []string{"SELECT", "WITH"} {
		if i := strings.Index(upper, prefix); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	if start >= 0 {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(reply[start:]), ";"))
	}
	return strings.TrimSpace(reply)
}

func (x *Executor) run(ctx context.Context, sql string) *models.SQLResult {
	result, err := x.db.Query(ctx, sql)
	if err != nil {
		r := failedResult(err)
		r.GeneratedSQL = sql
		return r
	}
	result.GeneratedSQL = sql
	return result
}

// applyESFallback converts the retriever's ES ranking into a SQL-shaped
// table when the ranking template matched nothing.
func (x *Executor) applyESFallback(state *models.WorkflowState) {
	if len(state.ESRankingResults) == 0 {
		return
	}
	rows := make([][]any, len(state.ESRankingResults))
	for i, r := range state.ESRankingResults {
		rows[i] = []any{r.Rank, r.Name, r.Count}
	}
	state.SQLResult = &models.SQLResult{
		Success:  true,
		Columns:  []string{"순위", "기관명", "건수"},
		Rows:     rows,
		RowCount: len(rows),
	}
	state.Sources = append(state.Sources, models.SourceRef{
		Type:   string(models.SourceES),
		Detail: "ranking fallback",
	})
	x.logger.Info().Int("rows", len(rows)).Msg("empty ranking SQL, using ES ranking")
}

func (x *Executor) recordOutcome(state *models.WorkflowState, entity string, result *models.SQLResult) {
	if result == nil {
		return
	}
	if !result.Success && result.Error != "" {
		state.AppendError(result.Error)
	}
	if result.GeneratedSQL != "" {
		state.Sources = append(state.Sources, models.SourceRef{
			Type:   string(models.SourceSQL),
			Entity: entity,
			SQL:    result.GeneratedSQL,
		})
	}
}

// tableEntities keeps only entity types the catalog has tables for.
func (x *Executor) tableEntities(entities []string) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if _, ok := x.schema.TableFor(e); ok {
			out = append(out, e)
		}
	}
	return out
}

func defaultLimit(state *models.WorkflowState) int {
	if state.SearchConfig != nil && state.SearchConfig.SQLLimit > 0 {
		return state.SearchConfig.SQLLimit
	}
	return 20
}

func failedResult(err error) *models.SQLResult {
	return &models.SQLResult{Success: false, Error: err.Error()}
}
