package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// GraphStore runs Cypher against FalkorDB over the Redis protocol.
// The graph is written by the ingestion side; community ids and
// centrality inputs are precomputed node properties there, so every
// call here is read-only.
type GraphStore struct {
	client    *redis.Client
	graphName string
	logger    zerolog.Logger

	// Name-to-node resolution is hot on ranking turns. The cache halves
	// itself when it outgrows cacheCap.
	mu       sync.Mutex
	nodes    map[string]*GraphNode
	cacheCap int
}

// GraphNode is one resolved graph entity.
type GraphNode struct {
	ID        string
	Name      string
	Label     string
	Score     float64
	Community int64
}

// NewGraphStore connects to FalkorDB.
func NewGraphStore(cfg config.GraphConfig) *GraphStore {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	graphName := cfg.GraphName
	if graphName == "" {
		graphName = "lattice_kg"
	}
	cacheCap := cfg.CacheCap
	if cacheCap <= 0 {
		cacheCap = 256
	}
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     cfg.Password,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	return &GraphStore{
		client:    client,
		graphName: graphName,
		logger:    observability.Logger("backend.graph"),
		nodes:     make(map[string]*GraphNode),
		cacheCap:  cacheCap,
	}
}

// Ping verifies connectivity.
func (gs *GraphStore) Ping(ctx context.Context) error {
	if err := gs.client.Ping(ctx).Err(); err != nil {
		return models.Wrap(models.ErrGraphConnection, "falkordb ping failed", err)
	}
	return nil
}

// Close closes the connection pool.
func (gs *GraphStore) Close() error {
	return gs.client.Close()
}

// query runs one GRAPH.QUERY and returns the row set. FalkorDB replies
// with [header, rows, stats]; only rows matter here.
func (gs *GraphStore) query(ctx context.Context, cypher string) ([][]any, error) {
	start := time.Now()
	result, err := gs.client.Do(ctx, "GRAPH.QUERY", gs.graphName, cypher).Result()
	if err != nil {
		return nil, models.Wrap(models.ErrGraphQuery, "graph query failed", err)
	}

	arr, ok := result.([]any)
	if !ok || len(arr) < 2 {
		return nil, nil
	}
	rawRows, ok := arr[1].([]any)
	if !ok {
		return nil, nil
	}
	rows := make([][]any, 0, len(rawRows))
	for _, r := range rawRows {
		if cols, ok := r.([]any); ok {
			rows = append(rows, cols)
		}
	}

	gs.logger.Debug().
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("graph query completed")
	return rows, nil
}

// ResolveNode finds a node by exact name, going through the cache.
func (gs *GraphStore) ResolveNode(ctx context.Context, name string) (*GraphNode, error) {
	gs.mu.Lock()
	if n, ok := gs.nodes[name]; ok {
		gs.mu.Unlock()
		return n, nil
	}
	gs.mu.Unlock()

	cypher := fmt.Sprintf(
		"MATCH (n {name: '%s'}) RETURN n.id, n.name, labels(n)[0], coalesce(n.community, -1) LIMIT 1",
		escapeCypher(name))
	rows, err := gs.query(ctx, cypher)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, models.NewError(models.ErrNodeNotFound, "no graph node named "+name)
	}

	node := &GraphNode{
		ID:        asString(rows[0][0]),
		Name:      asString(rows[0][1]),
		Label:     asString(rows[0][2]),
		Community: asInt64(rows[0][3]),
	}
	gs.cacheNode(name, node)
	return node, nil
}

func (gs *GraphStore) cacheNode(name string, node *GraphNode) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if len(gs.nodes) >= gs.cacheCap {
		// Drop half; map iteration order gives an arbitrary victim set.
		drop := len(gs.nodes) / 2
		for k := range gs.nodes {
			if drop == 0 {
				break
			}
			delete(gs.nodes, k)
			drop--
		}
	}
	gs.nodes[name] = node
}

// PageRankTopK returns the k highest-centrality nodes of a label.
func (gs *GraphStore) PageRankTopK(ctx context.Context, label string, k int) ([]GraphNode, error) {
	if k <= 0 {
		k = 10
	}
	cypher := fmt.Sprintf(
		"MATCH (n:%s) WHERE n.pagerank IS NOT NULL "+
			"RETURN n.id, n.name, n.pagerank, coalesce(n.community, -1) "+
			"ORDER BY n.pagerank DESC LIMIT %d",
		escapeCypherLabel(label), k)
	rows, err := gs.query(ctx, cypher)
	if err != nil {
		return nil, err
	}
	out := make([]GraphNode, 0, len(rows))
	for _, r := range rows {
		if len(r) < 4 {
			continue
		}
		out = append(out, GraphNode{
			ID:        asString(r[0]),
			Name:      asString(r[1]),
			Label:     label,
			Score:     asFloat64(r[2]),
			Community: asInt64(r[3]),
		})
	}
	return out, nil
}

// CommunityMembers returns nodes sharing a community id.
func (gs *GraphStore) CommunityMembers(ctx context.Context, community int64, limit int) ([]GraphNode, error) {
	if limit <= 0 {
		limit = 20
	}
	cypher := fmt.Sprintf(
		"MATCH (n) WHERE n.community = %d RETURN n.id, n.name, labels(n)[0] LIMIT %d",
		community, limit)
	rows, err := gs.query(ctx, cypher)
	if err != nil {
		return nil, err
	}
	out := make([]GraphNode, 0, len(rows))
	for _, r := range rows {
		if len(r) < 3 {
			continue
		}
		out = append(out, GraphNode{
			ID:        asString(r[0]),
			Name:      asString(r[1]),
			Label:     asString(r[2]),
			Community: community,
		})
	}
	return out, nil
}

// CommunitySize counts the members of a community.
func (gs *GraphStore) CommunitySize(ctx context.Context, community int64) (int, error) {
	if community < 0 {
		return 0, nil
	}
	cypher := fmt.Sprintf("MATCH (n) WHERE n.community = %d RETURN count(n)", community)
	rows, err := gs.query(ctx, cypher)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return int(asInt64(rows[0][0])), nil
}

// Neighbors returns entities directly connected to a node.
func (gs *GraphStore) Neighbors(ctx context.Context, nodeID string, limit int) ([]GraphNode, error) {
	if limit <= 0 {
		limit = 10
	}
	cypher := fmt.Sprintf(
		"MATCH (n {id: '%s'})--(m) RETURN DISTINCT m.id, m.name, labels(m)[0] LIMIT %d",
		escapeCypher(nodeID), limit)
	rows, err := gs.query(ctx, cypher)
	if err != nil {
		return nil, err
	}
	out := make([]GraphNode, 0, len(rows))
	for _, r := range rows {
		if len(r) < 3 {
			continue
		}
		out = append(out, GraphNode{
			ID:    asString(r[0]),
			Name:  asString(r[1]),
			Label: asString(r[2]),
		})
	}
	return out, nil
}

// GraphStats summarizes the graph for health and status endpoints.
type GraphStats struct {
	Nodes int64 `json:"nodes"`
	Edges int64 `json:"edges"`
}

// Stats counts nodes and relationships.
func (gs *GraphStore) Stats(ctx context.Context) (*GraphStats, error) {
	nodeRows, err := gs.query(ctx, "MATCH (n) RETURN count(n)")
	if err != nil {
		return nil, err
	}
	edgeRows, err := gs.query(ctx, "MATCH ()-[r]->() RETURN count(r)")
	if err != nil {
		return nil, err
	}
	stats := &GraphStats{}
	if len(nodeRows) > 0 && len(nodeRows[0]) > 0 {
		stats.Nodes = asInt64(nodeRows[0][0])
	}
	if len(edgeRows) > 0 && len(edgeRows[0]) > 0 {
		stats.Edges = asInt64(edgeRows[0][0])
	}
	return stats, nil
}

func escapeCypher(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func escapeCypherLabel(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		var n int64
		fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		var f float64
		fmt.Sscanf(t, "%f", &f)
		return f
	case int64:
		return float64(t)
	default:
		return 0
	}
}
