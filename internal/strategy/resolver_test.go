package strategy

import (
	"strings"
	"testing"

	"github.com/simpleflo/lattice/pkg/models"
)

func stateFor(qt models.QueryType, st models.QuerySubtype, entities ...string) *models.WorkflowState {
	s := models.NewWorkflowState("q", "s1", models.LevelGeneral)
	s.QueryType = qt
	s.QuerySubtype = st
	s.EntityTypes = entities
	s.Keywords = []string{"수소"}
	return &s
}

func TestResolveSubtypeTable(t *testing.T) {
	r := NewResolver()

	t.Run("list is sql only", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeSQL, models.SubtypeList, "project"))
		if len(cfg.PrimarySources) != 1 || cfg.PrimarySources[0] != models.SourceSQL {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
		if cfg.GraphRAG != models.GraphRAGNone || cfg.ESMode != models.ESModeOff {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("trend uses aggregation mode", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeSQL, models.SubtypeTrendAnalysis, "patent"))
		if cfg.ESMode != models.ESModeAggregation {
			t.Errorf("es_mode = %s", cfg.ESMode)
		}
	})

	t.Run("complex ranking uses ranking loader", func(t *testing.T) {
		st := stateFor(models.QueryTypeSQL, models.SubtypeRanking, "patent")
		st.RankingType = models.RankingComplex
		cfg := r.Resolve(st)
		if !cfg.UseLoader || cfg.LoaderName != LoaderRanking {
			t.Errorf("loader = %v %q", cfg.UseLoader, cfg.LoaderName)
		}
		if !cfg.HasPrimary(models.SourceES) {
			t.Errorf("complex ranking should include ES: %v", cfg.PrimarySources)
		}
	})

	t.Run("sql type keeps multi-source ranking row intact", func(t *testing.T) {
		st := stateFor(models.QueryTypeSQL, models.SubtypeRanking, "patent")
		st.RankingType = models.RankingComplex
		cfg := r.Resolve(st)
		if !cfg.HasPrimary(models.SourceSQL) || !cfg.HasPrimary(models.SourceES) {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
	})

	t.Run("sql type forces sql on single-source rows", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeSQL, models.SubtypeConcept, "patent"))
		if len(cfg.PrimarySources) != 1 || cfg.PrimarySources[0] != models.SourceSQL {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
	})

	t.Run("simple ranking goes graph enhanced", func(t *testing.T) {
		st := stateFor(models.QueryTypeHybrid, models.SubtypeRanking, "patent")
		st.RankingType = models.RankingSimple
		cfg := r.Resolve(st)
		if cfg.GraphRAG != models.GraphRAGEnhanced {
			t.Errorf("graph_rag = %s", cfg.GraphRAG)
		}
	})
}

func TestResolveClonesTable(t *testing.T) {
	r := NewResolver()
	a := r.Resolve(stateFor(models.QueryTypeSQL, models.SubtypeList, "project"))
	a.MergePriority["sql"] = 99
	a.PrimarySources[0] = models.SourceGraph

	b := r.Resolve(stateFor(models.QueryTypeSQL, models.SubtypeList, "project"))
	if b.MergePriority["sql"] == 99 || b.PrimarySources[0] == models.SourceGraph {
		t.Error("static subtype table leaked per-request mutation")
	}
}

func TestEntityAdjustments(t *testing.T) {
	r := NewResolver()

	t.Run("evalp forces sql plus loader", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeHybrid, models.SubtypeList, "evalp"))
		if len(cfg.PrimarySources) != 1 || cfg.PrimarySources[0] != models.SourceSQL {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
		if !cfg.UseLoader || cfg.LoaderName != LoaderScoring {
			t.Errorf("loader = %v %q", cfg.UseLoader, cfg.LoaderName)
		}
	})

	t.Run("equip list flips to es+vector", func(t *testing.T) {
		st := stateFor(models.QueryTypeSQL, models.SubtypeList, "equip")
		cfg := r.Resolve(st)
		if len(cfg.PrimarySources) != 2 || cfg.PrimarySources[0] != models.SourceES || cfg.PrimarySources[1] != models.SourceVector {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
		if len(cfg.FallbackSources) != 1 || cfg.FallbackSources[0] != models.SourceSQL {
			t.Errorf("fallback = %v", cfg.FallbackSources)
		}
		if cfg.ESMode != models.ESModeKeywordBoost {
			t.Errorf("es_mode = %s", cfg.ESMode)
		}
	})

	t.Run("patent list raises es mode", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeSQL, models.SubtypeList, "patent"))
		if cfg.ESMode == models.ESModeOff {
			t.Error("patent list should enable keyword boost")
		}
	})

	t.Run("proposal recommendation selects collaboration loader", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeHybrid, models.SubtypeRecommendation, "proposal"))
		if cfg.LoaderName != LoaderCollaboration || cfg.GraphRAG != models.GraphRAGEnhanced {
			t.Errorf("cfg = %+v", cfg)
		}
	})
}

func TestQueryTypeAdjustments(t *testing.T) {
	r := NewResolver()

	t.Run("simple clears primaries", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeSimple, models.SubtypeList))
		if len(cfg.PrimarySources) != 0 {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
	})

	t.Run("rag drops sql and keeps a graph strategy", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeRAG, models.SubtypeList, "project"))
		if cfg.HasPrimary(models.SourceSQL) {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
		if cfg.GraphRAG == models.GraphRAGNone {
			t.Error("rag query must carry a graph strategy")
		}
	})

	t.Run("hybrid prepends sql", func(t *testing.T) {
		cfg := r.Resolve(stateFor(models.QueryTypeHybrid, models.SubtypeConcept, "patent"))
		if len(cfg.PrimarySources) == 0 || cfg.PrimarySources[0] != models.SourceSQL {
			t.Errorf("primary = %v", cfg.PrimarySources)
		}
	})
}

func TestLoaders(t *testing.T) {
	t.Run("registry resolves all names", func(t *testing.T) {
		for _, name := range []string{LoaderRanking, LoaderCollaboration, LoaderScoring, LoaderAdvantage} {
			if GetLoader(name) == nil {
				t.Errorf("loader %q not registered", name)
			}
		}
		if GetLoader("NoSuchLoader") != nil {
			t.Error("unknown loader resolved")
		}
	})

	t.Run("ranking sql shape", func(t *testing.T) {
		st := stateFor(models.QueryTypeSQL, models.SubtypeRanking, "patent")
		st.Structured.Country = []string{"KR"}
		sql, err := GetLoader(LoaderRanking).BuildSQL(st)
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"WITH org_stats", "RTRIM(pa.applicant_name, '.')", "ntcd = 'KR'", "LIMIT 10"} {
			if !strings.Contains(sql, want) {
				t.Errorf("sql missing %q", want)
			}
		}
	})

	t.Run("keywords are escaped", func(t *testing.T) {
		st := stateFor(models.QueryTypeSQL, models.SubtypeRanking, "patent")
		st.Keywords = []string{"o'neil"}
		sql, err := GetLoader(LoaderRanking).BuildSQL(st)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(sql, "o''neil") {
			t.Error("single quote not escaped")
		}
	})

	t.Run("unknown loader falls back", func(t *testing.T) {
		r := NewResolver()
		st := stateFor(models.QueryTypeSQL, models.SubtypeRanking, "patent")
		st.RankingType = models.RankingComplex
		// sabotage the table copy through a fake subtype is not possible;
		// exercise the guard directly instead
		cfg := r.Resolve(st)
		cfg.LoaderName = "NoSuchLoader"
		if GetLoader(cfg.LoaderName) != nil {
			t.Error("guard precondition broken")
		}
	})
}
