package dict

import "testing"

func TestSynonyms(t *testing.T) {
	t.Run("bidirectional", func(t *testing.T) {
		if got := Synonyms("수소", 3); len(got) == 0 {
			t.Fatal("expected synonyms for 수소")
		}
		forward := Synonyms("인공지능", 10)
		if len(forward) == 0 {
			t.Fatal("expected synonyms for 인공지능")
		}
		back := Synonyms("AI", 10)
		found := false
		for _, s := range back {
			if s == "인공지능" {
				found = true
			}
		}
		if !found {
			t.Errorf("AI synonyms %v missing 인공지능", back)
		}
	})

	t.Run("cap respected", func(t *testing.T) {
		got := Synonyms("이차전지", 2)
		if len(got) > 2 {
			t.Errorf("cap ignored: %v", got)
		}
	})

	t.Run("unknown keyword", func(t *testing.T) {
		if got := Synonyms("존재하지않는키워드", 3); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("result is a copy", func(t *testing.T) {
		a := Synonyms("수소", 3)
		if len(a) == 0 {
			t.Skip("dictionary entry missing")
		}
		a[0] = "mutated"
		b := Synonyms("수소", 3)
		if b[0] == "mutated" {
			t.Error("Synonyms returned shared backing slice")
		}
	})
}

func TestPartialMatches(t *testing.T) {
	t.Run("keyword containing a headword", func(t *testing.T) {
		got := PartialMatches("수소차", 5)
		want := map[string]bool{}
		for _, s := range got {
			want[s] = true
		}
		if !want["수소"] || !want["수소에너지"] {
			t.Errorf("수소차 should match the 수소 group: %v", got)
		}
	})

	t.Run("headword containing the keyword excludes the keyword", func(t *testing.T) {
		for _, s := range PartialMatches("수소", 10) {
			if s == "수소" {
				t.Errorf("keyword leaked into its own matches: %v", s)
			}
		}
	})

	t.Run("cap respected", func(t *testing.T) {
		if got := PartialMatches("수소차", 1); len(got) > 1 {
			t.Errorf("cap ignored: %v", got)
		}
	})

	t.Run("single-rune keywords never match", func(t *testing.T) {
		if got := PartialMatches("수", 5); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})
}

func TestIsStopword(t *testing.T) {
	for _, w := range []string{"기술", "시스템", "the", "The", "using"} {
		if !IsStopword(w) {
			t.Errorf("IsStopword(%q) = false", w)
		}
	}
	for _, w := range []string{"수소", "연료전지", "graphene"} {
		if IsStopword(w) {
			t.Errorf("IsStopword(%q) = true", w)
		}
	}
}
