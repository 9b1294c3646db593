package scout

import (
	"context"
	"testing"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/pkg/models"
)

type stubEngine struct {
	enabled bool
	// responses by index name
	responses map[string]*backend.ESResponse
	queried   []string
}

func (s *stubEngine) Enabled() bool               { return s.enabled }
func (s *stubEngine) IndexFor(entity string) string { return entity }

func (s *stubEngine) Search(ctx context.Context, index string, body map[string]any) (*backend.ESResponse, error) {
	s.queried = append(s.queried, index)
	if resp, ok := s.responses[index]; ok {
		return resp, nil
	}
	return &backend.ESResponse{}, nil
}

func patentHit(id, title string, score float64) backend.ESHit {
	return backend.ESHit{
		ID:     id,
		Score:  score,
		Source: map[string]any{"documentid": id, "title": title},
	}
}

func testScout(engine SearchEngine) *Scout {
	return New(engine, catalog.MustLoad(), config.ScoutConfig{
		ProbeLimit:                   50,
		KeepTop:                      20,
		MaxSynonymsPerKeyword:        3,
		ExcludeEquipmentOnCapability: true,
	})
}

func TestExpandKeywords(t *testing.T) {
	t.Run("appends capped synonyms", func(t *testing.T) {
		expanded, synonyms := ExpandKeywords([]string{"수소"}, 3)
		if expanded[0] != "수소" {
			t.Errorf("core keyword must stay first: %v", expanded)
		}
		if len(synonyms) == 0 || len(synonyms) > 3 {
			t.Errorf("synonyms = %v", synonyms)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		first, _ := ExpandKeywords([]string{"이차전지", "인공지능"}, 3)
		second, _ := ExpandKeywords(first, 3)
		if len(first) != len(second) {
			t.Fatalf("expansion not idempotent: %v vs %v", first, second)
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("expansion not idempotent: %v vs %v", first, second)
			}
		}
	})

	t.Run("partial headword match pulls in the group", func(t *testing.T) {
		expanded, synonyms := ExpandKeywords([]string{"수소차"}, 3)
		if expanded[0] != "수소차" {
			t.Errorf("core keyword must stay first: %v", expanded)
		}
		got := map[string]bool{}
		for _, s := range synonyms {
			got[s] = true
		}
		if !got["수소"] || !got["수소에너지"] {
			t.Errorf("수소차 should pull in the 수소 group: %v", synonyms)
		}
		if len(synonyms) > 3 {
			t.Errorf("cap ignored: %v", synonyms)
		}
	})

	t.Run("unknown keywords pass through", func(t *testing.T) {
		expanded, synonyms := ExpandKeywords([]string{"그래핀복합체"}, 3)
		if len(expanded) != 1 || len(synonyms) != 0 {
			t.Errorf("expanded = %v syn = %v", expanded, synonyms)
		}
	})
}

func TestProbeActivation(t *testing.T) {
	engine := &stubEngine{
		enabled: true,
		responses: map[string]*backend.ESResponse{
			"patent": {
				Total: 2,
				Hits: []backend.ESHit{
					patentHit("P1", "수소 저장 장치", 4.0),
					patentHit("P2", "연료 개질기", 2.0),
				},
			},
		},
	}
	sc := testScout(engine)

	state := models.NewWorkflowState("수소 관련 기술", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}

	out := sc.Probe(context.Background(), state)

	if len(out.EntityTypes) != 1 || out.EntityTypes[0] != "patent" {
		t.Errorf("entity_types = %v", out.EntityTypes)
	}
	// P2 has no core or synonym match and must be filtered out.
	if len(out.ESDocIDs["patent"]) != 1 || out.ESDocIDs["patent"][0] != "P1" {
		t.Errorf("es_doc_ids = %v", out.ESDocIDs)
	}
	if out.DomainHits["patent"] != 1 {
		t.Errorf("domain_hits = %v", out.DomainHits)
	}
}

func TestProbeMatchFilterOrdering(t *testing.T) {
	// A synonym-only hit with a huge ES score must rank below a weaker
	// core-match hit.
	engine := &stubEngine{
		enabled: true,
		responses: map[string]*backend.ESResponse{
			"patent": {
				Total: 2,
				Hits: []backend.ESHit{
					patentHit("SYN", "hydrogen storage system", 9.0),
					patentHit("CORE", "수소 저장 기술", 1.0),
				},
			},
		},
	}
	sc := testScout(engine)

	state := models.NewWorkflowState("수소 저장", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}
	state.EntityTypes = []string{"patent"}

	out := sc.Probe(context.Background(), state)
	ids := out.ESDocIDs["patent"]
	if len(ids) != 2 || ids[0] != "CORE" || ids[1] != "SYN" {
		t.Errorf("ids = %v", ids)
	}
}

func TestProbeKeepsProvidedEntityTypes(t *testing.T) {
	engine := &stubEngine{
		enabled: true,
		responses: map[string]*backend.ESResponse{
			"project": {
				Total: 1,
				Hits: []backend.ESHit{
					{ID: "S1", Score: 1.0, Source: map[string]any{"sbjt_id": "S1", "title": "수소 과제"}},
				},
			},
		},
	}
	sc := testScout(engine)

	state := models.NewWorkflowState("수소 과제", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}
	state.EntityTypes = []string{"project"}

	out := sc.Probe(context.Background(), state)
	if len(out.EntityTypes) != 1 || out.EntityTypes[0] != "project" {
		t.Errorf("entity_types = %v", out.EntityTypes)
	}
	if len(engine.queried) != 1 || engine.queried[0] != "project" {
		t.Errorf("queried = %v", engine.queried)
	}
	if out.ESDocIDs["project"][0] != "S1" {
		t.Errorf("doc ids should use the catalog id column: %v", out.ESDocIDs)
	}
}

func TestCapabilityCueExcludesEquipment(t *testing.T) {
	engine := &stubEngine{enabled: true, responses: map[string]*backend.ESResponse{}}
	sc := testScout(engine)

	state := models.NewWorkflowState("수소 기술력 보유 기관", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}

	sc.Probe(context.Background(), state)
	for _, idx := range engine.queried {
		if idx == "equip" {
			t.Error("capability query must not probe the equipment domain")
		}
	}
}

func TestProbeESDisabled(t *testing.T) {
	engine := &stubEngine{enabled: false}
	sc := testScout(engine)

	state := models.NewWorkflowState("수소", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}

	out := sc.Probe(context.Background(), state)
	if len(out.ESDocIDs) != 0 || len(out.DomainHits) != 0 {
		t.Errorf("disabled ES must yield empty maps: %v %v", out.ESDocIDs, out.DomainHits)
	}
	// Defaults still apply so retrieval has somewhere to go.
	if len(out.EntityTypes) != len(catalog.DefaultDomains) {
		t.Errorf("entity_types = %v", out.EntityTypes)
	}
}
