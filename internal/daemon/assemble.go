package daemon

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/analyze"
	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/enhance"
	"github.com/simpleflo/lattice/internal/executor"
	"github.com/simpleflo/lattice/internal/fuse"
	"github.com/simpleflo/lattice/internal/generate"
	"github.com/simpleflo/lattice/internal/retriever"
	"github.com/simpleflo/lattice/internal/scout"
	"github.com/simpleflo/lattice/internal/strategy"
	"github.com/simpleflo/lattice/internal/workflow"
)

// probe is one named backend health check for /status.
type probe struct {
	name  string
	check func(ctx context.Context) error
}

// assemble connects the backends and builds the workflow stages. The
// relational store and the chat provider are hard requirements; vector,
// graph and keyword engines are optional and their stages are simply
// absent when the backend is down at startup.
func assemble(cfg *config.Config, logger zerolog.Logger) (workflow.Deps, []probe, []io.Closer, error) {
	var (
		deps    workflow.Deps
		probes  []probe
		closers []io.Closer
	)

	schema := catalog.MustLoad()

	store, err := backend.OpenSQLStore(cfg.SQL)
	if err != nil {
		return deps, nil, nil, err
	}
	closers = append(closers, store)
	probes = append(probes, probe{name: "sql", check: store.HealthCheck})

	llm, err := backend.NewChatProvider(cfg.LLM)
	if err != nil {
		return deps, nil, closers, err
	}
	closers = append(closers, llm)
	probes = append(probes, probe{name: "llm", check: func(ctx context.Context) error {
		if !llm.IsAvailable(ctx) {
			return errors.New("chat model unavailable")
		}
		return nil
	}})

	es := backend.NewESClient(cfg.ES)
	if es.Enabled() {
		probes = append(probes, probe{name: "elasticsearch", check: es.HealthCheck})
	}

	var vectors *backend.VectorStore
	if v, err := backend.NewVectorStore(cfg.Vector); err != nil {
		logger.Warn().Err(err).Msg("vector store unavailable, dense retrieval disabled")
	} else {
		vectors = v
		closers = append(closers, v)
		probes = append(probes, probe{name: "vector", check: v.HealthCheck})
	}

	var embedder *backend.EmbeddingService
	if e, err := backend.NewEmbeddingService(cfg.Embedding); err != nil {
		logger.Warn().Err(err).Msg("embedding service unavailable, dense retrieval disabled")
	} else {
		embedder = e
		probes = append(probes, probe{name: "embedding", check: e.HealthCheck})
	}

	graph := backend.NewGraphStore(cfg.Graph)
	closers = append(closers, graph)
	probes = append(probes, probe{name: "graph", check: graph.Ping})

	deps.Analyzer = analyze.New(llm, cfg.LLM)
	deps.Resolver = strategy.NewResolver()
	deps.Scout = scout.New(es, schema, cfg.Scout)
	deps.Executor = executor.New(store, llm, schema, cfg.SQL)
	deps.Merger = fuse.NewMerger(cfg.Fusion)
	deps.Generator = generate.New(llm)

	if embedder != nil && vectors != nil {
		deps.Enhancer = enhance.New(embedder, vectors, llm, cfg.Enhancer)
		deps.Retriever = retriever.New(embedder, vectors, graph, es, schema, cfg.Fusion)
	}

	return deps, probes, closers, nil
}
