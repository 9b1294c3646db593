// Package workflow drives a turn through the fixed-topology state
// graph: analysis, scout, enhancement, the retrieval fan-out, merge and
// generation, with conditional edges between stages.
package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// Node names of the graph.
const (
	NodeAnalyzer        = "analyzer"
	NodeScout           = "es_scout"
	NodeEnhancer        = "vector_enhancer"
	NodeSQL             = "sql_node"
	NodeRAG             = "rag_node"
	NodeParallel        = "parallel"
	NodeParallelRanking = "parallel_ranking"
	NodeSubQueries      = "sub_queries"
	NodeMerger          = "merger"
	NodeGenerator       = "generator"
)

// NodeFunc is one stage: state in, modified state out. Nodes never
// mutate the input state's shared slices across branches; branches get
// clones.
type NodeFunc func(ctx context.Context, state models.WorkflowState) models.WorkflowState

// RouteFunc picks the next node after a conditional stage. Empty string
// ends the run.
type RouteFunc func(state *models.WorkflowState) string

// Emitter receives node-level progress events for streaming consumers.
type Emitter func(event string, payload map[string]any)

// Engine executes the graph.
type Engine struct {
	nodes  map[string]NodeFunc
	routes map[string]RouteFunc
	edges  map[string]string
	entry  string
	logger zerolog.Logger
}

// NewEngine creates an empty engine with the given entry node.
func NewEngine(entry string) *Engine {
	return &Engine{
		nodes:  make(map[string]NodeFunc),
		routes: make(map[string]RouteFunc),
		edges:  make(map[string]string),
		entry:  entry,
		logger: observability.Logger("workflow"),
	}
}

// AddNode registers a stage.
func (e *Engine) AddNode(name string, fn NodeFunc) {
	e.nodes[name] = fn
}

// AddEdge registers an unconditional transition.
func (e *Engine) AddEdge(from, to string) {
	e.edges[from] = to
}

// AddConditional registers a router for a stage.
func (e *Engine) AddConditional(from string, route RouteFunc) {
	e.routes[from] = route
}

// Run walks the graph from the entry node, timing every stage.
func (e *Engine) Run(ctx context.Context, state models.WorkflowState) models.WorkflowState {
	if state.StageTiming == nil {
		state.StageTiming = make(map[string]float64)
	}
	node := e.entry
	for node != "" {
		fn, ok := e.nodes[node]
		if !ok {
			e.logger.Error().Str("node", node).Msg("unknown workflow node")
			state.AppendError("unknown workflow node: " + node)
			return state
		}
		start := time.Now()
		state = fn(ctx, state)
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		if state.StageTiming == nil {
			state.StageTiming = make(map[string]float64)
		}
		state.StageTiming[node] = elapsed
		e.logger.Debug().Str("node", node).Float64("ms", elapsed).Msg("stage complete")

		if route, ok := e.routes[node]; ok {
			node = route(&state)
		} else {
			node = e.edges[node]
		}
	}
	return state
}
