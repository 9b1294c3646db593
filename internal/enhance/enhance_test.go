package enhance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/pkg/models"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type stubVectors struct {
	hits map[string][]backend.VectorHit
}

func (s *stubVectors) Search(ctx context.Context, collection string, vector []float32, limit int) ([]backend.VectorHit, error) {
	return s.hits[collection], nil
}

type stubChat struct {
	reply string
	err   error
	calls int
}

func (s *stubChat) Chat(ctx context.Context, system, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func repeatedHits(collection string, n int, text string) []backend.VectorHit {
	hits := make([]backend.VectorHit, n)
	for i := range hits {
		hits[i] = backend.VectorHit{
			ID:      collection + "-hit",
			Score:   0.9,
			Payload: map[string]string{"title": text},
		}
	}
	return hits
}

func enhancerCfg() config.EnhancerConfig {
	return config.EnhancerConfig{
		HitsPerCollection: 100,
		MinFrequency:      3,
		MaxExpansion:      3,
		UseLLMReview:      false,
	}
}

func TestTokenize(t *testing.T) {
	t.Run("splits scripts and lowercases latin", func(t *testing.T) {
		got := Tokenize("AI반도체 Design KIT")
		want := map[string]bool{"ai": true, "반도체": true, "design": true, "kit": true}
		for _, tok := range got {
			if !want[tok] {
				t.Errorf("unexpected token %q in %v", tok, got)
			}
		}
		if len(got) != len(want) {
			t.Errorf("tokens = %v", got)
		}
	})

	t.Run("drops short tokens and stopwords", func(t *testing.T) {
		for _, tok := range Tokenize("수소 기술 개발 a 1") {
			if tok != "수소" {
				t.Errorf("token %q should have been dropped", tok)
			}
		}
	})

	t.Run("folds full width forms", func(t *testing.T) {
		got := Tokenize("ＡＩ 모델")
		found := false
		for _, tok := range got {
			if tok == "ai" {
				found = true
			}
		}
		if !found {
			t.Errorf("width folding missed: %v", got)
		}
	})
}

func TestEnhanceSingleEntity(t *testing.T) {
	vectors := &stubVectors{hits: map[string][]backend.VectorHit{
		"patents": repeatedHits("patents", 5, "수소 연료전지 전해질 분리막"),
	}}
	e := New(&stubEmbedder{}, vectors, nil, enhancerCfg())

	state := models.NewWorkflowState("수소 소재", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}
	state.EntityTypes = []string{"patent"}

	out := e.Enhance(context.Background(), state)
	if len(out.ExpandedKeywords) == 0 || len(out.ExpandedKeywords) > 3 {
		t.Fatalf("expanded = %v", out.ExpandedKeywords)
	}
	for _, kw := range out.ExpandedKeywords {
		if kw == "수소" {
			t.Error("original keyword must not reappear in expansion")
		}
	}
	if got := out.EntityKeywords["patent"]; len(got) == 0 {
		t.Errorf("entity_keywords = %v", out.EntityKeywords)
	}
}

func TestEnhanceCompoundPreservation(t *testing.T) {
	// 전지 is frequent but is a strict substring of the original compound
	// keyword 이차전지 and must never surface.
	vectors := &stubVectors{hits: map[string][]backend.VectorHit{
		"patents": repeatedHits("patents", 5, "전지 전지 전지 양극재"),
	}}
	e := New(&stubEmbedder{}, vectors, nil, enhancerCfg())

	state := models.NewWorkflowState("이차전지 소재", "s1", models.LevelGeneral)
	state.Keywords = []string{"이차전지"}
	state.EntityTypes = []string{"patent"}

	out := e.Enhance(context.Background(), state)
	for _, kw := range out.ExpandedKeywords {
		if kw == "전지" {
			t.Fatalf("compound keyword was split: %v", out.ExpandedKeywords)
		}
	}
}

func TestEnhancePayloadVerification(t *testing.T) {
	vectors := &stubVectors{hits: map[string][]backend.VectorHit{
		"patents": repeatedHits("patents", 5, "수전해 촉매 개질"),
	}}
	e := New(&stubEmbedder{}, vectors, nil, enhancerCfg())

	state := models.NewWorkflowState("수소", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}
	state.EntityTypes = []string{"patent"}

	out := e.Enhance(context.Background(), state)
	for _, kw := range out.ExpandedKeywords {
		found := false
		for _, hit := range vectors.hits["patents"] {
			if strings.Contains(hit.Payload["title"], kw) {
				found = true
			}
		}
		if !found {
			t.Errorf("keyword %q not present in any payload", kw)
		}
	}
}

func TestEnhanceMultiEntity(t *testing.T) {
	vectors := &stubVectors{hits: map[string][]backend.VectorHit{
		"patents":  repeatedHits("patents", 5, "전해질 분리막"),
		"projects": repeatedHits("projects", 5, "실증 충전소"),
	}}
	e := New(&stubEmbedder{}, vectors, nil, enhancerCfg())

	state := models.NewWorkflowState("수소", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}
	state.EntityTypes = []string{"patent", "project"}

	out := e.Enhance(context.Background(), state)
	if len(out.EntityKeywords["patent"]) == 0 || len(out.EntityKeywords["project"]) == 0 {
		t.Fatalf("entity_keywords = %v", out.EntityKeywords)
	}
	for _, kw := range out.EntityKeywords["patent"] {
		for _, other := range out.EntityKeywords["project"] {
			if kw == other {
				t.Errorf("keyword %q leaked across entities", kw)
			}
		}
	}
	// Union carries both entity sets.
	seen := make(map[string]bool)
	for _, kw := range out.ExpandedKeywords {
		if seen[kw] {
			t.Errorf("union has duplicate %q", kw)
		}
		seen[kw] = true
	}
}

func TestEnhanceLLMReview(t *testing.T) {
	vectors := &stubVectors{hits: map[string][]backend.VectorHit{
		"patents": repeatedHits("patents", 5, "전해질 분리막 양극재"),
	}}

	t.Run("filters by review array", func(t *testing.T) {
		llm := &stubChat{reply: `["전해질"]`}
		cfg := enhancerCfg()
		cfg.UseLLMReview = true
		e := New(&stubEmbedder{}, vectors, llm, cfg)

		state := models.NewWorkflowState("이차전지", "s1", models.LevelGeneral)
		state.Keywords = []string{"이차전지"}
		state.EntityTypes = []string{"patent"}

		out := e.Enhance(context.Background(), state)
		if len(out.ExpandedKeywords) != 1 || out.ExpandedKeywords[0] != "전해질" {
			t.Errorf("expanded = %v", out.ExpandedKeywords)
		}
		if llm.calls != 1 {
			t.Errorf("llm calls = %d", llm.calls)
		}
	})

	t.Run("review failure keeps candidates", func(t *testing.T) {
		llm := &stubChat{err: errors.New("llm down")}
		cfg := enhancerCfg()
		cfg.UseLLMReview = true
		e := New(&stubEmbedder{}, vectors, llm, cfg)

		state := models.NewWorkflowState("이차전지", "s1", models.LevelGeneral)
		state.Keywords = []string{"이차전지"}
		state.EntityTypes = []string{"patent"}

		out := e.Enhance(context.Background(), state)
		if len(out.ExpandedKeywords) == 0 {
			t.Error("review failure must not discard candidates")
		}
	})
}

func TestEnhanceEmbeddingFailure(t *testing.T) {
	e := New(&stubEmbedder{err: errors.New("no model")}, &stubVectors{}, nil, enhancerCfg())

	state := models.NewWorkflowState("수소", "s1", models.LevelGeneral)
	state.Keywords = []string{"수소"}
	state.EntityTypes = []string{"patent"}

	out := e.Enhance(context.Background(), state)
	if len(out.ExpandedKeywords) != 0 || out.Error != "" {
		t.Errorf("embedding failure must degrade silently: %+v", out)
	}
}
