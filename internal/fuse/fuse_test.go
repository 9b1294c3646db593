package fuse

import (
	"testing"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/pkg/models"
)

func TestRRF(t *testing.T) {
	t.Run("single list preserves order", func(t *testing.T) {
		lists := map[string][]string{"vector": {"a", "b", "c"}}
		ranked := RankByScore(RRF(60, lists))
		if len(ranked) != 3 || ranked[0] != "a" || ranked[1] != "b" || ranked[2] != "c" {
			t.Errorf("ranked = %v", ranked)
		}
	})

	t.Run("agreement beats a single top rank", func(t *testing.T) {
		lists := map[string][]string{
			"graph":  {"x", "shared"},
			"vector": {"shared", "y"},
		}
		contributions := RRF(60, lists)
		ranked := RankByScore(contributions)
		if ranked[0] != "shared" {
			t.Errorf("ranked = %v", ranked)
		}
		if SourceLabel(contributions["shared"]) != "both" {
			t.Errorf("label = %q", SourceLabel(contributions["shared"]))
		}
		if SourceLabel(contributions["x"]) != "graph" {
			t.Errorf("label = %q", SourceLabel(contributions["x"]))
		}
	})

	t.Run("top hit score", func(t *testing.T) {
		got := RRF(60, map[string][]string{"sql": {"a"}})["a"].Score
		want := 1.0 / 61.0
		if got != want {
			t.Errorf("score = %v, want %v", got, want)
		}
	})
}

func TestSQLRankingRows(t *testing.T) {
	t.Run("korean headers", func(t *testing.T) {
		result := &models.SQLResult{
			Success: true,
			Columns: []string{"기관명", "특허건수", "대표특허"},
			Rows: [][]any{
				{"한국수소연구원", int64(12), "수소 저장 합금"},
				{"전지소재", int64(7), "배터리 전극"},
			},
		}
		rows := SQLRankingRows(result)
		if len(rows) != 2 || rows[0].Name != "한국수소연구원" || rows[0].Count != 12 {
			t.Errorf("rows = %v", rows)
		}
		if rows[1].Rank != 2 {
			t.Errorf("rank = %d", rows[1].Rank)
		}
	})

	t.Run("unrecognizable columns", func(t *testing.T) {
		result := &models.SQLResult{
			Success: true,
			Columns: []string{"title", "summary"},
			Rows:    [][]any{{"a", "b"}},
		}
		if rows := SQLRankingRows(result); rows != nil {
			t.Errorf("rows = %v", rows)
		}
	})
}

func TestMergeComplexRanking(t *testing.T) {
	m := NewMerger(config.FusionConfig{RRFConstant: 60})

	state := models.NewWorkflowState("수소 TOP 기관", "s1", models.LevelGeneral)
	state.QuerySubtype = models.SubtypeRanking
	state.RankingType = models.RankingComplex
	state.SQLResult = &models.SQLResult{
		Success: true,
		Columns: []string{"기관명", "특허건수"},
		Rows:    [][]any{{"공통기관", int64(10)}, {"SQL단독", int64(8)}},
	}
	state.ESRankingResults = []models.RankingRow{
		{Rank: 1, Name: "공통기관", Count: 30},
		{Rank: 2, Name: "ES단독", Count: 20},
	}

	out := m.Merge(state)
	if out.SQLResult == nil || len(out.SQLResult.Columns) != 5 {
		t.Fatalf("result = %+v", out.SQLResult)
	}
	if out.SQLResult.Columns[0] != "순위" || out.SQLResult.Columns[4] != "RRF점수" {
		t.Errorf("columns = %v", out.SQLResult.Columns)
	}
	// 공통기관 ranks first in both lists and must win the fusion.
	if out.SQLResult.Rows[0][1] != "공통기관" {
		t.Errorf("rows = %v", out.SQLResult.Rows)
	}
	if out.SQLResult.Rows[0][2] != 10 || out.SQLResult.Rows[0][3] != 30 {
		t.Errorf("counts = %v", out.SQLResult.Rows[0])
	}
}

func TestMergeSources(t *testing.T) {
	m := NewMerger(config.FusionConfig{RRFConstant: 60})

	state := models.NewWorkflowState("수소", "s1", models.LevelGeneral)
	state.QueryType = models.QueryTypeHybrid
	state.QuerySubtype = models.SubtypeConcept
	state.SearchConfig = &models.SearchConfig{
		MergePriority: map[string]int{"sql": 1, "vector": 3},
	}
	state.Sources = []models.SourceRef{
		{Type: "vector", NodeID: "n1"},
		{Type: "sql", SQL: "SELECT 1"},
		{Type: "vector", NodeID: "n1"}, // duplicate
		{Type: "sql", SQL: "SELECT 1"}, // duplicate
		{Type: "vector", NodeID: "n2"},
	}

	out := m.Merge(state)
	if len(out.Sources) != 3 {
		t.Fatalf("sources = %v", out.Sources)
	}
	if out.Sources[0].Type != "sql" {
		t.Errorf("priority order broken: %v", out.Sources)
	}
}

func TestMergeReordersSubQueryResults(t *testing.T) {
	m := NewMerger(config.FusionConfig{RRFConstant: 60})

	state := models.NewWorkflowState("복합 질의", "s1", models.LevelGeneral)
	state.QuerySubtype = models.SubtypeCompound
	state.SubQueryResults = []models.SubQueryResult{
		{Index: 2, EntityType: "project"},
		{Index: 0, EntityType: "patent"},
		{Index: 1, EntityType: "equip"},
	}

	out := m.Merge(state)
	for i, r := range out.SubQueryResults {
		if r.Index != i {
			t.Fatalf("results out of order: %v", out.SubQueryResults)
		}
	}
}

func TestContextQuality(t *testing.T) {
	t.Run("empty state scores zero", func(t *testing.T) {
		state := models.NewWorkflowState("q", "s1", models.LevelGeneral)
		if q := ContextQuality(&state); q != 0 {
			t.Errorf("quality = %v", q)
		}
	})

	t.Run("rich state approaches one", func(t *testing.T) {
		state := models.NewWorkflowState("q", "s1", models.LevelGeneral)
		state.SQLResult = &models.SQLResult{Success: true, RowCount: 20}
		state.RAGResults = make([]models.SearchResult, 10)
		state.ESRankingResults = []models.RankingRow{{Name: "x"}}
		if q := ContextQuality(&state); q < 0.95 || q > 1 {
			t.Errorf("quality = %v", q)
		}
	})

	t.Run("errors reduce the score", func(t *testing.T) {
		state := models.NewWorkflowState("q", "s1", models.LevelGeneral)
		state.SQLResult = &models.SQLResult{Success: true, RowCount: 20}
		base := ContextQuality(&state)
		state.Error = "branch failed"
		if got := ContextQuality(&state); got >= base {
			t.Errorf("quality = %v, base = %v", got, base)
		}
	})

	t.Run("bounded", func(t *testing.T) {
		state := models.NewWorkflowState("q", "s1", models.LevelGeneral)
		state.Error = "total failure"
		if q := ContextQuality(&state); q < 0 {
			t.Errorf("quality = %v", q)
		}
	})
}
