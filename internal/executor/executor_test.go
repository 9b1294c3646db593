package executor

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/simpleflo/lattice/internal/backend"
	"github.com/simpleflo/lattice/internal/catalog"
	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

func fixtureStore(t *testing.T) *backend.SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatal(err)
	}
	stmts := []string{
		`CREATE TABLE patents (documentid TEXT, title TEXT, summary TEXT, tech_field TEXT,
			appn_date TEXT, reg_date TEXT, ntcd TEXT, citations INTEGER, ipc_code TEXT)`,
		`CREATE TABLE patent_applicants (applicant_id TEXT, documentid TEXT, applicant_name TEXT, nationality TEXT)`,
		`INSERT INTO patents VALUES
			('P1','수소 저장 합금','수소 저장 기술','수소에너지','20220101','20230101','KR',5,'C01B'),
			('P2','수소 연료전지 스택','연료전지 조립','수소에너지','20210601',NULL,'KR',3,'H01M'),
			('P3','Hydrogen storage','advanced storage','energy','20200101',NULL,'US',9,'C01B'),
			('P4','배터리 전극','이차전지 전극','배터리','20190101',NULL,'KR',0,'H01M')`,
		`INSERT INTO patent_applicants VALUES
			('A1','P1','한국수소연구원.','KR'),
			('A2','P2','한국수소연구원','KR'),
			('A3','P3','US Hydro Inc','US'),
			('A4','P4','전지소재','KR')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	store, err := backend.OpenSQLStore(config.SQLConfig{Driver: "sqlite3", DSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type stubChat struct {
	reply string
	calls int
}

func (s *stubChat) Chat(ctx context.Context, system, prompt string) (string, error) {
	s.calls++
	return s.reply, nil
}

func newState(subtype models.QuerySubtype, entities ...string) models.WorkflowState {
	st := models.NewWorkflowState("수소 기술", "s1", models.LevelGeneral)
	st.QueryType = models.QueryTypeSQL
	st.QuerySubtype = subtype
	st.EntityTypes = entities
	st.Keywords = []string{"수소"}
	return st
}

func TestValidateSQL(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		ok   bool
	}{
		{"select", "SELECT * FROM patents", true},
		{"cte", "WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"lowercase", "select title from patents", true},
		{"empty", "", false},
		{"drop", "DROP TABLE patents", false},
		{"embedded delete", "SELECT 1; DELETE FROM patents", false},
		{"comment", "SELECT 1 -- hidden", false},
		{"block comment", "SELECT /* x */ 1", false},
		{"double semicolon", "SELECT 1;;", false},
		{"proc prefix", "SELECT xp_cmdshell('x')", false},
		{"update", "UPDATE patents SET title='x'", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSQL(tc.sql)
			if tc.ok && err != nil {
				t.Errorf("rejected valid SQL: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("accepted unsafe SQL")
				}
				if !strings.Contains(err.Error(), "안전하지 않은 SQL") {
					t.Errorf("error text = %q", err.Error())
				}
			}
		})
	}
}

func TestESDrivenDirectPath(t *testing.T) {
	x := New(fixtureStore(t), nil, catalog.MustLoad(), config.SQLConfig{})

	st := newState(models.SubtypeList, "patent")
	st.ESDocIDs = map[string][]string{"patent": {"P1", "P3"}}

	out := x.Execute(context.Background(), st)
	if out.SQLResult == nil || !out.SQLResult.Success {
		t.Fatalf("result = %+v", out.SQLResult)
	}
	if out.SQLResult.RowCount != 2 {
		t.Errorf("rows = %d", out.SQLResult.RowCount)
	}
	if !strings.Contains(out.GeneratedSQL, "IN ('P1', 'P3')") {
		t.Errorf("sql = %s", out.GeneratedSQL)
	}
	// The aggregation subtype must never take the id path.
	agg := newState(models.SubtypeAggregation, "patent")
	agg.ESDocIDs = map[string][]string{"patent": {"P1"}}
	aggOut := x.Execute(context.Background(), agg)
	if strings.Contains(aggOut.GeneratedSQL, "IN (") {
		t.Errorf("aggregation used id path: %s", aggOut.GeneratedSQL)
	}
}

func TestListTemplate(t *testing.T) {
	x := New(fixtureStore(t), nil, catalog.MustLoad(), config.SQLConfig{})

	t.Run("keyword disjunction", func(t *testing.T) {
		out := x.Execute(context.Background(), newState(models.SubtypeList, "patent"))
		if out.SQLResult == nil || !out.SQLResult.Success {
			t.Fatalf("result = %+v", out.SQLResult)
		}
		if out.SQLResult.RowCount != 2 {
			t.Errorf("rows = %d", out.SQLResult.RowCount)
		}
	})

	t.Run("country filter", func(t *testing.T) {
		st := newState(models.SubtypeList, "patent")
		st.Keywords = []string{"수소", "hydrogen"}
		st.Structured.Country = []string{"NOT_KR"}
		out := x.Execute(context.Background(), st)
		if out.SQLResult.RowCount != 1 {
			t.Errorf("rows = %d, sql = %s", out.SQLResult.RowCount, out.GeneratedSQL)
		}
	})

	t.Run("entity nouns are stripped", func(t *testing.T) {
		st := newState(models.SubtypeList, "patent")
		st.Keywords = []string{"수소", "특허"}
		out := x.Execute(context.Background(), st)
		if strings.Contains(out.GeneratedSQL, "특허") && strings.Contains(out.GeneratedSQL, "LIKE '%특허%'") {
			t.Errorf("entity noun reached the disjunction: %s", out.GeneratedSQL)
		}
	})
}

func TestImpactRanking(t *testing.T) {
	x := New(fixtureStore(t), nil, catalog.MustLoad(), config.SQLConfig{})

	out := x.Execute(context.Background(), newState(models.SubtypeImpactRanking, "patent"))
	if out.SQLResult == nil || !out.SQLResult.Success {
		t.Fatalf("result = %+v", out.SQLResult)
	}
	// Only 한국수소연구원 has two matching patents; the trailing dot
	// variant must have merged into it.
	if out.SQLResult.RowCount != 1 {
		t.Fatalf("rows = %d, sql = %s", out.SQLResult.RowCount, out.GeneratedSQL)
	}
	if name := out.SQLResult.Rows[0][0]; name != "한국수소연구원" {
		t.Errorf("org = %v", name)
	}
}

func TestNationalityRanking(t *testing.T) {
	x := New(fixtureStore(t), nil, catalog.MustLoad(), config.SQLConfig{})

	st := newState(models.SubtypeNationalityRanking, "patent")
	st.Keywords = []string{"수소", "hydrogen"}
	out := x.Execute(context.Background(), st)
	if out.SQLResult == nil || !out.SQLResult.Success {
		t.Fatalf("result = %+v", out.SQLResult)
	}
	labels := make(map[any]bool)
	for _, row := range out.SQLResult.Rows {
		labels[row[0]] = true
	}
	if !labels["국내"] || !labels["해외"] {
		t.Errorf("rows = %v", out.SQLResult.Rows)
	}
}

func TestMultiEntityExecution(t *testing.T) {
	x := New(fixtureStore(t), nil, catalog.MustLoad(), config.SQLConfig{Workers: 2})
	st := newState(models.SubtypeList, "patent", "project")

	out := x.Execute(context.Background(), st)
	if len(out.MultiSQLResults) != 2 {
		t.Fatalf("multi results = %v", out.MultiSQLResults)
	}
	if !out.MultiSQLResults["patent"].Success {
		t.Errorf("patent result = %+v", out.MultiSQLResults["patent"])
	}
	// The projects table does not exist in the fixture; its failure must
	// stay isolated in its own slot.
	if out.MultiSQLResults["project"].Success {
		t.Error("project query should have failed against the fixture")
	}
	if out.MultiSQLResults["patent"].RowCount == 0 {
		t.Error("patent rows lost in fan-out")
	}
}

func TestLoaderDispatch(t *testing.T) {
	x := New(fixtureStore(t), nil, catalog.MustLoad(), config.SQLConfig{})

	st := newState(models.SubtypeRanking, "patent")
	st.RankingType = models.RankingComplex
	st.SearchConfig = &models.SearchConfig{UseLoader: true, LoaderName: "RankingLoader"}

	out := x.Execute(context.Background(), st)
	if out.SQLResult == nil || !out.SQLResult.Success {
		t.Fatalf("result = %+v", out.SQLResult)
	}
	if !strings.Contains(out.GeneratedSQL, "WITH org_stats") {
		t.Errorf("sql = %s", out.GeneratedSQL)
	}
	if out.SQLResult.Rows[0][0] != "한국수소연구원" {
		t.Errorf("rows = %v", out.SQLResult.Rows)
	}
}

func TestESRankingFallback(t *testing.T) {
	x := New(fixtureStore(t), nil, catalog.MustLoad(), config.SQLConfig{})

	st := newState(models.SubtypeRanking, "patent")
	st.Keywords = []string{"양자컴퓨터"} // matches nothing in the fixture
	st.ESRankingResults = []models.RankingRow{
		{Rank: 1, Name: "양자연구소", Count: 12},
		{Rank: 2, Name: "큐빗텍", Count: 7},
	}

	out := x.Execute(context.Background(), st)
	if out.SQLResult == nil || out.SQLResult.RowCount != 2 {
		t.Fatalf("result = %+v", out.SQLResult)
	}
	if out.SQLResult.Columns[1] != "기관명" || out.SQLResult.Rows[0][1] != "양자연구소" {
		t.Errorf("rows = %v", out.SQLResult.Rows)
	}
	found := false
	for _, src := range out.Sources {
		if src.Type == string(models.SourceES) {
			found = true
		}
	}
	if !found {
		t.Error("fallback must be attributed to elasticsearch")
	}
}

func TestLLMSQLPath(t *testing.T) {
	llm := &stubChat{reply: "```sql\nSELECT title FROM patents WHERE citations > 4\n```"}
	x := New(fixtureStore(t), llm, catalog.MustLoad(), config.SQLConfig{})

	out := x.Execute(context.Background(), newState(models.SubtypeConcept, "patent"))
	if llm.calls != 1 {
		t.Fatalf("llm calls = %d", llm.calls)
	}
	if out.SQLResult == nil || !out.SQLResult.Success || out.SQLResult.RowCount != 2 {
		t.Fatalf("result = %+v", out.SQLResult)
	}
}

func TestLLMSQLRejected(t *testing.T) {
	llm := &stubChat{reply: "DROP TABLE patents"}
	x := New(fixtureStore(t), llm, catalog.MustLoad(), config.SQLConfig{})

	out := x.Execute(context.Background(), newState(models.SubtypeConcept, "patent"))
	if out.SQLResult.Success {
		t.Fatal("unsafe LLM SQL executed")
	}
	if !strings.Contains(out.Error, "안전하지 않은 SQL") {
		t.Errorf("error = %q", out.Error)
	}
}

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"다음 SQL입니다:\nSELECT title FROM patents;", "SELECT title FROM patents"},
		{"with x as (select 1) select * from x", "with x as (select 1) select * from x"},
	}
	for _, tc := range cases {
		if got := extractSQL(tc.in); got != tc.want {
			t.Errorf("extractSQL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
