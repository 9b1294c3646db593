package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
)

const (
	// DefaultEmbeddingModel works well on mixed Korean/English technical text.
	DefaultEmbeddingModel = "bge-m3"

	// DefaultEmbeddingDimension is the vector dimension for bge-m3.
	DefaultEmbeddingDimension = 1024

	defaultEmbedBatchSize = 10
)

// EmbeddingService generates dense vectors via Ollama.
type EmbeddingService struct {
	client    *api.Client
	model     string
	dimension int
	batchSize int
	logger    zerolog.Logger
	mu        sync.RWMutex
	ready     bool
}

// NewEmbeddingService creates the embedding service from config.
func NewEmbeddingService(cfg config.EmbeddingConfig) (*EmbeddingService, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultEmbeddingDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultEmbedBatchSize
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding endpoint: %w", err)
	}

	return &EmbeddingService{
		client:    api.NewClient(u, http.DefaultClient),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		logger:    observability.Logger("backend.embeddings"),
	}, nil
}

// EnsureModel checks model availability, pulling it on first use.
func (svc *EmbeddingService) EnsureModel(ctx context.Context) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.ready {
		return nil
	}

	if _, err := svc.client.Show(ctx, &api.ShowRequest{Model: svc.model}); err == nil {
		svc.ready = true
		return nil
	}

	svc.logger.Info().Str("model", svc.model).Msg("pulling embedding model")
	progressFn := func(resp api.ProgressResponse) error {
		if resp.Total > 0 {
			pct := float64(resp.Completed) / float64(resp.Total) * 100
			svc.logger.Debug().Str("status", resp.Status).Float64("progress", pct).Msg("pulling model")
		}
		return nil
	}
	if err := svc.client.Pull(ctx, &api.PullRequest{Model: svc.model}, progressFn); err != nil {
		return fmt.Errorf("pull embedding model %s: %w", svc.model, err)
	}

	svc.ready = true
	svc.logger.Info().Str("model", svc.model).Msg("embedding model ready")
	return nil
}

// Embed generates an embedding for a single text.
func (svc *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := svc.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in parallel,
// bounded by the configured batch size.
func (svc *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := svc.EnsureModel(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	embeddings := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, svc.batchSize)
	for i, text := range texts {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(idx int, txt string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			vec, err := svc.embedSingle(ctx, txt)
			if err != nil {
				errs[idx] = err
				return
			}
			embeddings[idx] = vec
		}(i, text)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("embedding failed for text %d: %w", i, err)
		}
	}

	svc.logger.Debug().
		Int("count", len(texts)).
		Dur("duration", time.Since(start)).
		Msg("batch embedding completed")
	return embeddings, nil
}

func (svc *EmbeddingService) embedSingle(ctx context.Context, text string) ([]float32, error) {
	resp, err := svc.client.Embed(ctx, &api.EmbedRequest{Model: svc.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	vec := make([]float32, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimension returns the embedding dimension.
func (svc *EmbeddingService) Dimension() int { return svc.dimension }

// Model returns the embedding model name.
func (svc *EmbeddingService) Model() string { return svc.model }

// HealthCheck embeds a probe text and verifies the dimension.
func (svc *EmbeddingService) HealthCheck(ctx context.Context) error {
	vec, err := svc.Embed(ctx, "health check")
	if err != nil {
		return fmt.Errorf("embedding health check failed: %w", err)
	}
	if len(vec) != svc.dimension {
		return fmt.Errorf("unexpected embedding dimension: got %d, want %d", len(vec), svc.dimension)
	}
	return nil
}
