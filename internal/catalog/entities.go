// Package catalog holds the static schema and entity metadata the
// orchestrator plans against. Nothing here is discovered at runtime.
package catalog

// Entity domain names. These are the only values allowed in
// WorkflowState.EntityTypes.
const (
	EntityPatent      = "patent"
	EntityProject     = "project"
	EntityEquip       = "equip"
	EntityProposal    = "proposal"
	EntityEvalp       = "evalp"
	EntityEvalpPref   = "evalp_pref"
	EntityEvalpDetail = "evalp_detail"
	EntityAncm        = "ancm"
	EntityTech        = "tech"
	EntityApplicant   = "applicant"
	EntityIPC         = "ipc"
	EntityOrg         = "org"
	EntityGIS         = "gis"
	EntityK12         = "k12"
	Entity6T          = "6t"
)

// CoreDomain is the default entity type when the analyzer and scout both
// come up empty.
const CoreDomain = EntityPatent

// AllEntityTypes is the closed entity-type set.
var AllEntityTypes = []string{
	EntityPatent, EntityProject, EntityEquip, EntityProposal,
	EntityEvalp, EntityEvalpPref, EntityEvalpDetail, EntityAncm,
	EntityTech, EntityApplicant, EntityIPC, EntityOrg,
	EntityGIS, EntityK12, Entity6T,
}

// ScoutDomains is the subset of domains the ES scout probes.
var ScoutDomains = []string{
	EntityPatent, EntityProject, EntityEquip, EntityProposal, EntityAncm,
}

// DefaultDomains is used when no domain produced a scout hit.
var DefaultDomains = []string{EntityPatent, EntityProject}

// IsValidEntityType reports whether name is in the closed entity set.
func IsValidEntityType(name string) bool {
	for _, e := range AllEntityTypes {
		if e == name {
			return true
		}
	}
	return false
}

// entityNouns maps surface nouns in a query to their entity domain. Used
// both for the explicit-entity override and for the keyword scrub: these
// nouns never survive in WorkflowState.Keywords.
var entityNouns = map[string]string{
	"특허":    EntityPatent,
	"출원":    EntityPatent,
	"등록특허":  EntityPatent,
	"과제":    EntityProject,
	"연구과제":  EntityProject,
	"연구개발":  EntityProject,
	"사업":    EntityProject,
	"장비":    EntityEquip,
	"연구장비":  EntityEquip,
	"시설":    EntityEquip,
	"제안서":   EntityProposal,
	"연구제안서": EntityProposal,
	"공고":    EntityAncm,
	"사업공고":  EntityAncm,
	"평가":    EntityEvalp,
	"논문":    EntityTech,
}

// EntityNounDomains returns the distinct domains literally mentioned in the
// query text, in first-mention order.
func EntityNounDomains(query string) []string {
	type hit struct {
		pos    int
		domain string
	}
	var hits []hit
	seen := make(map[string]bool)
	for noun, domain := range entityNouns {
		pos := indexOf(query, noun)
		if pos < 0 || seen[domain] {
			continue
		}
		seen[domain] = true
		hits = append(hits, hit{pos: pos, domain: domain})
	}
	// Insertion order of map iteration is random; sort by position.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.domain
	}
	return out
}

// EntityNounList returns every known entity noun, longest first so longer
// nouns are stripped before their substrings.
func EntityNounList() []string {
	out := make([]string, 0, len(entityNouns))
	for noun := range entityNouns {
		out = append(out, noun)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// IsEntityNoun reports whether the token is exactly an entity-type noun.
func IsEntityNoun(token string) bool {
	_, ok := entityNouns[token]
	return ok
}

// collections maps an entity domain to its vector-store collections.
var collections = map[string][]string{
	EntityPatent:   {"patents"},
	EntityProject:  {"projects"},
	EntityEquip:    {"equipment"},
	EntityProposal: {"proposals"},
	EntityAncm:     {"announcements"},
	EntityTech:     {"tech_docs"},
	EntityOrg:      {"organizations"},
}

// CollectionsFor returns the vector collections for an entity domain.
func CollectionsFor(entity string) []string {
	if cols, ok := collections[entity]; ok {
		return append([]string(nil), cols...)
	}
	return nil
}

// esIndexNames maps an entity domain to its search index (sans prefix).
var esIndexNames = map[string]string{
	EntityPatent:   "patents",
	EntityProject:  "projects",
	EntityEquip:    "equipment",
	EntityProposal: "proposals",
	EntityAncm:     "announcements",
}

// ESIndexFor returns the keyword-engine index name for an entity domain.
func ESIndexFor(entity string) string {
	if idx, ok := esIndexNames[entity]; ok {
		return idx
	}
	return entity
}

func indexOf(s, substr string) int {
	n := len(s) - len(substr)
	for i := 0; i <= n; i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
