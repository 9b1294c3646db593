package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// VectorStore wraps the Qdrant client. Collections are provisioned by
// the ingestion side; the orchestrator only reads.
type VectorStore struct {
	client *qdrant.Client
	logger zerolog.Logger
}

// VectorHit is one scored point from a dense search.
type VectorHit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// NewVectorStore connects to Qdrant over gRPC.
func NewVectorStore(cfg config.VectorConfig) (*VectorStore, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, models.Wrap(models.ErrVectorConnection, "create qdrant client", err)
	}
	return &VectorStore{
		client: client,
		logger: observability.Logger("backend.vector"),
	}, nil
}

// Search runs a similarity query against one collection.
func (vs *VectorStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]VectorHit, error) {
	if limit <= 0 {
		limit = 10
	}
	start := time.Now()

	points, err := vs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, models.Wrap(models.ErrVectorConnection,
			fmt.Sprintf("vector search on %s failed", collection), err)
	}

	hits := make([]VectorHit, len(points))
	for i, p := range points {
		hits[i] = VectorHit{
			ID:      pointIDString(p.Id),
			Score:   p.Score,
			Payload: payloadStrings(p.Payload),
		}
	}

	vs.logger.Debug().
		Str("collection", collection).
		Int("hits", len(hits)).
		Dur("duration", time.Since(start)).
		Msg("vector search completed")
	return hits, nil
}

// Scroll pages raw points out of a collection without a query vector.
// The enhancer uses it to sample payload text.
func (vs *VectorStore) Scroll(ctx context.Context, collection string, limit int) ([]VectorHit, error) {
	if limit <= 0 {
		limit = 100
	}
	points, err := vs.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, models.Wrap(models.ErrVectorConnection,
			fmt.Sprintf("scroll on %s failed", collection), err)
	}
	hits := make([]VectorHit, len(points))
	for i, p := range points {
		hits[i] = VectorHit{
			ID:      pointIDString(p.Id),
			Payload: payloadStrings(p.Payload),
		}
	}
	return hits, nil
}

// Collections lists available collection names.
func (vs *VectorStore) Collections(ctx context.Context) ([]string, error) {
	names, err := vs.client.ListCollections(ctx)
	if err != nil {
		return nil, models.Wrap(models.ErrVectorConnection, "list collections", err)
	}
	return names, nil
}

// HealthCheck verifies the store answers.
func (vs *VectorStore) HealthCheck(ctx context.Context) error {
	if _, err := vs.client.ListCollections(ctx); err != nil {
		return models.Wrap(models.ErrVectorConnection, "vector store health check failed", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (vs *VectorStore) Close() error {
	return vs.client.Close()
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadStrings(payload map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		switch {
		case v.GetStringValue() != "":
			out[k] = v.GetStringValue()
		case v.GetIntegerValue() != 0:
			out[k] = fmt.Sprintf("%d", v.GetIntegerValue())
		case v.GetDoubleValue() != 0:
			out[k] = fmt.Sprintf("%g", v.GetDoubleValue())
		default:
			out[k] = v.GetStringValue()
		}
	}
	return out
}
