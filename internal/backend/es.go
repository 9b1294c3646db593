package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// ESClient speaks the Elasticsearch HTTP API directly. Only _search is
// used; index management belongs to the ingestion side.
type ESClient struct {
	baseURL     string
	indexPrefix string
	enabled     bool
	client      *http.Client
	logger      zerolog.Logger
}

// ESHit is one scored document from a keyword search.
type ESHit struct {
	ID     string
	Index  string
	Score  float64
	Source map[string]any
}

// ESResponse carries hits plus raw aggregations from one _search call.
type ESResponse struct {
	Total        int
	Hits         []ESHit
	Aggregations map[string]json.RawMessage
}

// NewESClient builds the keyword-engine client from config.
func NewESClient(cfg config.ESConfig) *ESClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ESClient{
		baseURL:     cfg.URL,
		indexPrefix: cfg.IndexPrefix,
		enabled:     cfg.Enabled,
		client:      &http.Client{Timeout: timeout},
		logger:      observability.Logger("backend.es"),
	}
}

// Enabled reports whether the keyword engine is configured on.
func (es *ESClient) Enabled() bool { return es.enabled }

// IndexFor maps an entity domain to its index name.
func (es *ESClient) IndexFor(entity string) string {
	return es.indexPrefix + entity
}

// Search posts a query DSL body against one index.
func (es *ESClient) Search(ctx context.Context, index string, body map[string]any) (*ESResponse, error) {
	if !es.enabled {
		return &ESResponse{}, nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_search", es.baseURL, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := es.client.Do(req)
	if err != nil {
		return nil, models.Wrap(models.ErrESConnection, "search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, models.NewError(models.ErrESRetrieval,
			fmt.Sprintf("search on %s: status %d: %s", index, resp.StatusCode, string(b)))
	}

	var raw struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Index  string          `json:"_index"`
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]json.RawMessage `json:"aggregations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := &ESResponse{
		Total:        raw.Hits.Total.Value,
		Hits:         make([]ESHit, 0, len(raw.Hits.Hits)),
		Aggregations: raw.Aggregations,
	}
	for _, h := range raw.Hits.Hits {
		var src map[string]any
		if len(h.Source) > 0 {
			if err := json.Unmarshal(h.Source, &src); err != nil {
				continue
			}
		}
		out.Hits = append(out.Hits, ESHit{ID: h.ID, Index: h.Index, Score: h.Score, Source: src})
	}

	es.logger.Debug().
		Str("index", index).
		Int("total", out.Total).
		Int("hits", len(out.Hits)).
		Dur("duration", time.Since(start)).
		Msg("es search completed")
	return out, nil
}

// HealthCheck pings the cluster root.
func (es *ESClient) HealthCheck(ctx context.Context) error {
	if !es.enabled {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, es.baseURL+"/_cluster/health", nil)
	if err != nil {
		return err
	}
	resp, err := es.client.Do(req)
	if err != nil {
		return models.Wrap(models.ErrESConnection, "es health check failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.NewError(models.ErrESConnection,
			fmt.Sprintf("es health status %d", resp.StatusCode))
	}
	return nil
}

// BoolShouldQuery builds a multi_match disjunction over the given
// keywords and fields, with hit count bounded by size.
func BoolShouldQuery(keywords, fields []string, size int) map[string]any {
	should := make([]map[string]any, 0, len(keywords))
	for _, kw := range keywords {
		should = append(should, map[string]any{
			"multi_match": map[string]any{
				"query":  kw,
				"fields": fields,
			},
		})
	}
	return map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}
}

// DateHistogramQuery builds the yearly-trend aggregation body: keyword
// filter plus a calendar-year histogram on the date field.
func DateHistogramQuery(keywords, fields []string, dateField string) map[string]any {
	body := BoolShouldQuery(keywords, fields, 0)
	body["aggs"] = map[string]any{
		"by_year": map[string]any{
			"date_histogram": map[string]any{
				"field":             dateField,
				"calendar_interval": "year",
				"format":            "yyyy",
			},
		},
	}
	return body
}

// TermsRankingQuery builds the top-terms aggregation body used for
// quick rankings over an organization field.
func TermsRankingQuery(keywords, fields []string, termField string, size int) map[string]any {
	body := BoolShouldQuery(keywords, fields, 0)
	body["aggs"] = map[string]any{
		"top_terms": map[string]any{
			"terms": map[string]any{
				"field": termField,
				"size":  size,
			},
		},
	}
	return body
}

// NestedCrosstabQuery builds the organization-by-year crosstab body:
// terms on the nested applicant name, sub-aggregated by year.
func NestedCrosstabQuery(keywords, fields []string, nestedPath, nameField, dateField string, size int) map[string]any {
	body := BoolShouldQuery(keywords, fields, 0)
	body["aggs"] = map[string]any{
		"orgs": map[string]any{
			"nested": map[string]any{"path": nestedPath},
			"aggs": map[string]any{
				"by_name": map[string]any{
					"terms": map[string]any{
						"field": nameField,
						"size":  size,
					},
					"aggs": map[string]any{
						"back": map[string]any{
							"reverse_nested": map[string]any{},
							"aggs": map[string]any{
								"by_year": map[string]any{
									"date_histogram": map[string]any{
										"field":             dateField,
										"calendar_interval": "year",
										"format":            "yyyy",
									},
								},
							},
						},
					},
				},
			},
		},
	}
	return body
}

// HistogramBucket is one parsed date-histogram bucket.
type HistogramBucket struct {
	Key   string `json:"key_as_string"`
	Count int    `json:"doc_count"`
}

// ParseHistogram decodes a date_histogram aggregation.
func ParseHistogram(raw json.RawMessage) ([]HistogramBucket, error) {
	var agg struct {
		Buckets []HistogramBucket `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("parse histogram aggregation: %w", err)
	}
	return agg.Buckets, nil
}

// TermsBucket is one parsed terms bucket.
type TermsBucket struct {
	Key   string `json:"key"`
	Count int    `json:"doc_count"`
}

// ParseTerms decodes a terms aggregation.
func ParseTerms(raw json.RawMessage) ([]TermsBucket, error) {
	var agg struct {
		Buckets []TermsBucket `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("parse terms aggregation: %w", err)
	}
	return agg.Buckets, nil
}

// CrosstabBucket is one organization with its per-year counts.
type CrosstabBucket struct {
	Name   string
	Total  int
	ByYear map[string]int
}

// ParseCrosstab decodes the nested orgs aggregation.
func ParseCrosstab(raw json.RawMessage) ([]CrosstabBucket, error) {
	var agg struct {
		ByName struct {
			Buckets []struct {
				Key   string `json:"key"`
				Count int    `json:"doc_count"`
				Back  struct {
					Count  int `json:"doc_count"`
					ByYear struct {
						Buckets []HistogramBucket `json:"buckets"`
					} `json:"by_year"`
				} `json:"back"`
			} `json:"buckets"`
		} `json:"by_name"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("parse crosstab aggregation: %w", err)
	}
	out := make([]CrosstabBucket, 0, len(agg.ByName.Buckets))
	for _, b := range agg.ByName.Buckets {
		cb := CrosstabBucket{Name: b.Key, Total: b.Back.Count, ByYear: make(map[string]int)}
		if cb.Total == 0 {
			cb.Total = b.Count
		}
		for _, yb := range b.Back.ByYear.Buckets {
			cb.ByYear[yb.Key] = yb.Count
		}
		out = append(out, cb)
	}
	return out, nil
}
