package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/simpleflo/lattice/pkg/models"
)

// subQueriesNode executes a decomposed compound query. Independent
// sub-queries run in a bounded worker pool; sub-queries that depend on
// an earlier result run sequentially afterwards, in priority order,
// with the dependency's outcome attached.
func (p *Pipeline) subQueriesNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	p.emit("status", map[string]any{"stage": NodeSubQueries})
	if len(state.SubQueries) == 0 {
		state.AppendError("compound query without sub-queries")
		return state
	}

	var independents, dependents []models.SubQuery
	for _, sq := range state.SubQueries {
		if sq.DependsOn == nil {
			independents = append(independents, sq)
		} else {
			dependents = append(dependents, sq)
		}
	}
	sort.SliceStable(dependents, func(i, j int) bool {
		return dependents[i].Priority < dependents[j].Priority
	})
	p.emit("subquery_progress", map[string]any{
		"total":       len(state.SubQueries),
		"independent": len(independents),
		"dependent":   len(dependents),
	})

	results := make([]models.SubQueryResult, 0, len(state.SubQueries))
	byIndex := make(map[int]models.SubQueryResult, len(state.SubQueries))

	// Independent sub-queries fan out over the pool.
	workers := p.cfg.SubQueryWorkers
	if workers > len(independents) {
		workers = len(independents)
	}
	if workers > 0 {
		slots := make([]models.SubQueryResult, len(independents))
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for i, sq := range independents {
			wg.Add(1)
			go func(slot int, sq models.SubQuery) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				slots[slot] = p.runSubQuery(ctx, &state, sq)
			}(i, sq)
		}
		wg.Wait()
		for _, res := range slots {
			results = append(results, res)
			byIndex[res.Index] = res
			p.emit("sub_query_complete", map[string]any{
				"index": res.Index, "entity_type": res.EntityType,
			})
		}
	}

	// Dependent sub-queries see the result they depend on.
	for _, sq := range dependents {
		if dep, ok := byIndex[*sq.DependsOn]; ok {
			sq.Context = dep
			sq.Keywords = append(sq.Keywords, leadingColumnValues(dep.SQLResult, 5)...)
		}
		res := p.runSubQuery(ctx, &state, sq)
		results = append(results, res)
		byIndex[res.Index] = res
		p.emit("sub_query_complete", map[string]any{
			"index": res.Index, "entity_type": res.EntityType,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Index < results[j].Index
	})
	state.SubQueryResults = results

	perspectives := make([]map[string]any, 0, len(results))
	for _, res := range results {
		rows := 0
		if res.SQLResult != nil {
			rows = res.SQLResult.RowCount
		}
		perspectives = append(perspectives, map[string]any{
			"index":       res.Index,
			"intent":      res.Intent,
			"entity_type": res.EntityType,
			"rows":        rows,
			"rag_results": len(res.RAGResults),
			"error":       res.Error,
		})
	}
	p.emit("perspective_summary", map[string]any{"perspectives": perspectives})

	// Successful per-entity tables are also exposed as multi-SQL
	// results so the merger and generator treat compound output the
	// same as a multi-entity query.
	for _, res := range results {
		if res.SQLResult == nil || !res.SQLResult.Success || res.EntityType == "" {
			continue
		}
		if state.MultiSQLResults == nil {
			state.MultiSQLResults = make(map[string]*models.SQLResult)
		}
		if _, exists := state.MultiSQLResults[res.EntityType]; !exists {
			state.MultiSQLResults[res.EntityType] = res.SQLResult
		}
	}
	return state
}

// runSubQuery executes one sub-query in isolation: a cloned state with
// the sub-query's own intent, keywords and entities, a freshly resolved
// strategy, and its own keyword probe. Parent document hits never leak
// into the sub-query.
func (p *Pipeline) runSubQuery(ctx context.Context, parent *models.WorkflowState, sq models.SubQuery) models.SubQueryResult {
	started := time.Now()

	sub := parent.Clone()
	if sq.Intent != "" {
		sub.Query = sq.Intent
	}
	sub.QueryType = sq.QueryType
	sub.QuerySubtype = sq.Subtype
	sub.Keywords = append([]string(nil), sq.Keywords...)
	sub.EntityTypes = append([]string(nil), sq.EntityTypes...)
	sub.IsCompound = false
	sub.SubQueries = nil
	sub.SubQueryResults = nil
	sub.ESDocIDs = nil
	sub.SQLResult = nil
	sub.MultiSQLResults = nil
	sub.RAGResults = nil
	sub.ESRankingResults = nil
	sub.ESStatistics = nil
	sub.Error = ""

	cfg := p.deps.Resolver.Resolve(&sub)
	sub.SearchConfig = &cfg

	if p.deps.Scout != nil {
		sub = p.deps.Scout.Probe(ctx, sub)
	}
	if cfg.HasPrimary(models.SourceSQL) && p.deps.Executor != nil {
		sub = p.deps.Executor.Execute(ctx, sub)
	}
	if cfg.HasPrimary(models.SourceVector) && p.deps.Retriever != nil {
		sub = p.deps.Retriever.Retrieve(ctx, sub)
	}

	res := models.SubQueryResult{
		Index:      sq.Index,
		Intent:     sq.Intent,
		SQLResult:  sub.SQLResult,
		RAGResults: sub.RAGResults,
		Error:      sub.Error,
		ElapsedMs:  float64(time.Since(started).Microseconds()) / 1000,
	}
	if len(sq.EntityTypes) > 0 {
		res.EntityType = sq.EntityTypes[0]
	} else if len(sub.EntityTypes) > 0 {
		res.EntityType = sub.EntityTypes[0]
	}
	if res.SQLResult == nil && res.EntityType != "" {
		res.SQLResult = sub.MultiSQLResults[res.EntityType]
	}
	return res
}

// leadingColumnValues pulls up to limit first-column values out of a
// dependency's table so a dependent sub-query can pivot on them.
func leadingColumnValues(result *models.SQLResult, limit int) []string {
	if result == nil || !result.Success {
		return nil
	}
	var values []string
	for _, row := range result.Rows {
		if len(row) == 0 {
			continue
		}
		values = append(values, fmt.Sprint(row[0]))
		if len(values) == limit {
			break
		}
	}
	return values
}
