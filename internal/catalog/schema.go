package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var schemaYAML []byte

// Column is one described column of a catalog table.
type Column struct {
	Name string `yaml:"name"`
	Desc string `yaml:"desc"`
}

// Relation is a foreign-key edge between catalog tables.
type Relation struct {
	To string `yaml:"to"`
	On string `yaml:"on"`
}

// Table is the static metadata for one relational table.
type Table struct {
	Name       string     `yaml:"name"`
	Entity     string     `yaml:"entity"`
	IDColumn   string     `yaml:"id_column"`
	DateColumn string     `yaml:"date_column"`
	Columns    []Column   `yaml:"columns"`
	Relations  []Relation `yaml:"relations"`
}

// Schema is the full catalog.
type Schema struct {
	Tables    []Table           `yaml:"tables"`
	OrgTables map[string]string `yaml:"org_tables"`

	byEntity map[string]*Table
	byName   map[string]*Table
}

var (
	schemaOnce sync.Once
	schema     *Schema
	schemaErr  error
)

// Load parses the embedded catalog once and returns it.
func Load() (*Schema, error) {
	schemaOnce.Do(func() {
		var s Schema
		if err := yaml.Unmarshal(schemaYAML, &s); err != nil {
			schemaErr = fmt.Errorf("parse schema catalog: %w", err)
			return
		}
		s.byEntity = make(map[string]*Table)
		s.byName = make(map[string]*Table)
		for i := range s.Tables {
			t := &s.Tables[i]
			s.byName[t.Name] = t
			if _, dup := s.byEntity[t.Entity]; !dup {
				s.byEntity[t.Entity] = t
			}
		}
		schema = &s
	})
	return schema, schemaErr
}

// MustLoad panics on a malformed embedded catalog. The catalog ships with
// the binary, so a parse failure is a build defect.
func MustLoad() *Schema {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

// TableFor returns the primary table for an entity domain.
func (s *Schema) TableFor(entity string) (*Table, bool) {
	t, ok := s.byEntity[entity]
	return t, ok
}

// TableByName looks a table up by name.
func (s *Schema) TableByName(name string) (*Table, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// IDColumnFor returns the document id column for an entity domain.
func (s *Schema) IDColumnFor(entity string) string {
	if t, ok := s.byEntity[entity]; ok {
		return t.IDColumn
	}
	return "id"
}

// OrgTableFor returns the table carrying organization names for a domain.
func (s *Schema) OrgTableFor(entity string) string {
	if t, ok := s.OrgTables[entity]; ok {
		return t
	}
	return ""
}

// Snippet renders a compact schema description for the LLM SQL prompt,
// restricted to the given entity domains (plus their relation targets).
func (s *Schema) Snippet(entities []string) string {
	include := make(map[string]bool)
	for _, e := range entities {
		t, ok := s.byEntity[e]
		if !ok {
			continue
		}
		include[t.Name] = true
		for _, r := range t.Relations {
			include[r.To] = true
		}
		// Pull in link tables that point at this table.
		for i := range s.Tables {
			for _, r := range s.Tables[i].Relations {
				if r.To == t.Name {
					include[s.Tables[i].Name] = true
				}
			}
		}
	}

	var sb strings.Builder
	for i := range s.Tables {
		t := &s.Tables[i]
		if !include[t.Name] {
			continue
		}
		sb.WriteString("TABLE ")
		sb.WriteString(t.Name)
		sb.WriteString(" (")
		for j, c := range t.Columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(c.Name)
		}
		sb.WriteString(")\n")
		for _, c := range t.Columns {
			sb.WriteString("  ")
			sb.WriteString(c.Name)
			sb.WriteString(": ")
			sb.WriteString(c.Desc)
			sb.WriteString("\n")
		}
		for _, r := range t.Relations {
			fmt.Fprintf(&sb, "  JOIN %s ON %s\n", r.To, r.On)
		}
	}
	return sb.String()
}
