package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/analyze"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/enhance"
	"github.com/simpleflo/lattice/internal/executor"
	"github.com/simpleflo/lattice/internal/fuse"
	"github.com/simpleflo/lattice/internal/generate"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/internal/retriever"
	"github.com/simpleflo/lattice/internal/scout"
	"github.com/simpleflo/lattice/internal/strategy"
	"github.com/simpleflo/lattice/pkg/models"
)

// Deps are the stage implementations the pipeline wires into the graph.
type Deps struct {
	Analyzer  *analyze.Analyzer
	Resolver  *strategy.Resolver
	Scout     *scout.Scout
	Enhancer  *enhance.Enhancer
	Executor  *executor.Executor
	Retriever *retriever.Retriever
	Merger    *fuse.Merger
	Generator *generate.Generator
}

// Pipeline is the per-process turn orchestrator.
type Pipeline struct {
	deps   Deps
	cfg    config.WorkflowConfig
	engine *Engine
	emit   Emitter
	logger zerolog.Logger
}

// NewPipeline builds the graph over the given stages.
func NewPipeline(deps Deps, cfg config.WorkflowConfig) *Pipeline {
	if cfg.BranchTimeout <= 0 {
		cfg.BranchTimeout = 60 * time.Second
	}
	if cfg.SubQueryWorkers <= 0 {
		cfg.SubQueryWorkers = 3
	}
	p := &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: observability.Logger("pipeline"),
		emit:   func(string, map[string]any) {},
	}
	p.engine = p.buildGraph()
	return p
}

// SetEmitter installs a progress-event sink. Must be called before Run.
func (p *Pipeline) SetEmitter(emit Emitter) {
	if emit != nil {
		p.emit = emit
	}
}

func (p *Pipeline) buildGraph() *Engine {
	e := NewEngine(NodeAnalyzer)

	e.AddNode(NodeAnalyzer, p.analyzerNode)
	e.AddNode(NodeScout, p.scoutNode)
	e.AddNode(NodeEnhancer, p.enhancerNode)
	e.AddNode(NodeSQL, p.sqlNode)
	e.AddNode(NodeRAG, p.ragNode)
	e.AddNode(NodeParallel, p.parallelNode)
	e.AddNode(NodeParallelRanking, p.parallelRankingNode)
	e.AddNode(NodeSubQueries, p.subQueriesNode)
	e.AddNode(NodeMerger, p.mergerNode)
	e.AddNode(NodeGenerator, p.generatorNode)

	e.AddEdge(NodeAnalyzer, NodeScout)
	e.AddConditional(NodeScout, routeAfterScout)
	e.AddConditional(NodeEnhancer, routeAfterEnhancer)
	e.AddConditional(NodeSQL, routeAfterSQL)
	e.AddConditional(NodeRAG, routeAfterRAG)
	e.AddEdge(NodeParallel, NodeMerger)
	e.AddEdge(NodeParallelRanking, NodeMerger)
	e.AddEdge(NodeSubQueries, NodeMerger)
	e.AddEdge(NodeMerger, NodeGenerator)
	e.AddEdge(NodeGenerator, "")

	return e
}

// Run executes one turn and wraps the final state as a WorkflowResult.
func (p *Pipeline) Run(ctx context.Context, state models.WorkflowState) models.WorkflowResult {
	started := time.Now()
	final := p.engine.Run(ctx, state)
	return models.WorkflowResult{
		Response:       final.Response,
		QueryType:      final.QueryType,
		QuerySubtype:   final.QuerySubtype,
		Sources:        final.Sources,
		ContextQuality: final.ContextQuality,
		StageTiming:    final.StageTiming,
		Error:          final.Error,
		SessionID:      final.SessionID,
		StartedAt:      started,
		ElapsedMs:      float64(time.Since(started).Microseconds()) / 1000,
	}
}

// RunState executes one turn and returns the full final state. The
// daemon uses this to carry conversation history across turns.
func (p *Pipeline) RunState(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	return p.engine.Run(ctx, state)
}

func (p *Pipeline) analyzerNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	p.emit("status", map[string]any{"stage": NodeAnalyzer})
	state = p.deps.Analyzer.Analyze(ctx, state)
	cfg := p.deps.Resolver.Resolve(&state)
	state.SearchConfig = &cfg
	p.emit("analysis_complete", map[string]any{
		"query_type":    state.QueryType,
		"query_subtype": state.QuerySubtype,
		"entity_types":  state.EntityTypes,
		"keywords":      state.Keywords,
		"is_compound":   state.IsCompound,
	})
	if state.IsCompound {
		p.emit("subquery_info", map[string]any{"count": len(state.SubQueries)})
	}
	return state
}

func (p *Pipeline) scoutNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	p.emit("status", map[string]any{"stage": NodeScout})
	if p.deps.Scout == nil {
		return state
	}
	return p.deps.Scout.Probe(ctx, state)
}

func (p *Pipeline) enhancerNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	p.emit("status", map[string]any{"stage": NodeEnhancer})
	if p.deps.Enhancer != nil && state.SearchConfig != nil && state.SearchConfig.NeedVectorEnhancement {
		state = p.deps.Enhancer.Enhance(ctx, state)
	}
	p.emit("vector_complete", map[string]any{
		"expanded_keywords": state.ExpandedKeywords,
	})
	return state
}

func (p *Pipeline) sqlNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	p.emit("status", map[string]any{"stage": NodeSQL})
	switch state.QuerySubtype {
	case models.SubtypeTrendAnalysis, models.SubtypeCrosstabAnalysis:
		if p.deps.Retriever != nil {
			state = p.deps.Retriever.Aggregate(ctx, state)
		}
	}
	state = p.deps.Executor.Execute(ctx, state)
	if len(state.MultiSQLResults) > 0 {
		p.emit("multi_sql_complete", map[string]any{"entities": len(state.MultiSQLResults)})
	} else {
		rows := 0
		if state.SQLResult != nil {
			rows = state.SQLResult.RowCount
		}
		p.emit("sql_complete", map[string]any{"rows": rows})
	}
	return state
}

func (p *Pipeline) ragNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	p.emit("status", map[string]any{"stage": NodeRAG})
	if p.deps.Retriever != nil {
		state = p.deps.Retriever.Retrieve(ctx, state)
	}
	p.emit("rag_complete", map[string]any{"results": len(state.RAGResults)})
	return state
}

// parallelNode fans out SQL and RAG with independent branch timeouts.
// Either branch may fail or time out without aborting the turn.
func (p *Pipeline) parallelNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	sqlCh := p.startBranch(ctx, "sql", state.Clone(), p.sqlNode)
	ragCh := p.startBranch(ctx, "rag", state.Clone(), p.ragNode)
	return mergeBranches(state, <-sqlCh, <-ragCh)
}

// parallelRankingNode fans out loader SQL and ES ranking aggregation;
// the merger RRF-fuses the two rank lists.
func (p *Pipeline) parallelRankingNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	sqlCh := p.startBranch(ctx, "sql_ranking", state.Clone(), p.sqlNode)
	esCh := p.startBranch(ctx, "es_ranking", state.Clone(), func(ctx context.Context, st models.WorkflowState) models.WorkflowState {
		if p.deps.Retriever == nil {
			return st
		}
		return p.deps.Retriever.Aggregate(ctx, st)
	})
	return mergeBranches(state, <-sqlCh, <-esCh)
}

type branchOutcome struct {
	state models.WorkflowState
	ok    bool
}

// startBranch launches one branch under the branch timeout and returns
// the channel its outcome lands on, so sibling branches run at the
// same time. A timed-out branch is reported as failed; its goroutine
// unwinds on context cancellation.
func (p *Pipeline) startBranch(ctx context.Context, name string, state models.WorkflowState, fn NodeFunc) <-chan branchOutcome {
	out := make(chan branchOutcome, 1)
	go func() {
		branchCtx, cancel := context.WithTimeout(ctx, p.cfg.BranchTimeout)
		defer cancel()

		done := make(chan models.WorkflowState, 1)
		go func() {
			done <- fn(branchCtx, state)
		}()

		select {
		case st := <-done:
			out <- branchOutcome{state: st, ok: true}
		case <-branchCtx.Done():
			p.logger.Warn().Str("branch", name).Msg("branch timed out")
			failed := state
			failed.AppendError("branch " + name + " timed out")
			out <- branchOutcome{state: failed, ok: false}
		}
	}()
	return out
}

// mergeBranches folds two branch states back onto the parent: SQL
// fields from the first, RAG and statistics fields from the second,
// union of sources, concatenated errors.
func mergeBranches(parent models.WorkflowState, sqlBranch, ragBranch branchOutcome) models.WorkflowState {
	out := parent

	s := sqlBranch.state
	out.SQLResult = s.SQLResult
	out.MultiSQLResults = s.MultiSQLResults
	out.GeneratedSQL = s.GeneratedSQL

	r := ragBranch.state
	out.RAGResults = r.RAGResults
	out.SearchStrategy = r.SearchStrategy
	if r.ESRankingResults != nil {
		out.ESRankingResults = r.ESRankingResults
	} else if s.ESRankingResults != nil {
		out.ESRankingResults = s.ESRankingResults
	}
	if r.ESStatistics != nil {
		out.ESStatistics = r.ESStatistics
	} else if s.ESStatistics != nil {
		out.ESStatistics = s.ESStatistics
	}

	out.Sources = append(append([]models.SourceRef(nil), s.Sources...), r.Sources...)

	var errs []string
	if parent.Error != "" {
		errs = append(errs, parent.Error)
	}
	for _, branch := range []models.WorkflowState{s, r} {
		if branch.Error != "" && branch.Error != parent.Error {
			errs = append(errs, branch.Error)
		}
	}
	out.Error = strings.Join(errs, "; ")

	for _, branch := range []models.WorkflowState{s, r} {
		for stage, ms := range branch.StageTiming {
			if _, ok := out.StageTiming[stage]; !ok {
				out.StageTiming[stage] = ms
			}
		}
	}
	return out
}

func (p *Pipeline) mergerNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	return p.deps.Merger.Merge(state)
}

func (p *Pipeline) generatorNode(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	p.emit("status", map[string]any{"stage": NodeGenerator})
	if state.ContextQuality == 0 {
		state.ContextQuality = fuse.ContextQuality(&state)
	}
	state = p.deps.Generator.Generate(ctx, state)
	p.emit("stage_timing", map[string]any{"stage_timing": state.StageTiming})
	return state
}
