package analyze

import (
	"regexp"
	"strings"

	"github.com/simpleflo/lattice/internal/catalog"
)

var greetingPattern = regexp.MustCompile(
	`^(안녕|반가워|반갑습니다|하이|헬로|고마워|감사합니다|감사해요|잘가|수고|hello|hi|hey|thanks|thank you)`)

var helpPattern = regexp.MustCompile(`(도움말|사용법|도와줘|무엇을 할 수|뭘 할 수|help)`)

// isGreeting matches small-talk and help requests that skip retrieval.
func isGreeting(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	return greetingPattern.MatchString(lower) || helpPattern.MatchString(lower)
}

// equipmentSuffixes are instrument-name suffixes. Stripping one yields
// the technology root that actually matches equipment records
// (표면단차측정기 → 표면단차).
var equipmentSuffixPattern = regexp.MustCompile(`([가-힣A-Za-z0-9]+?)(측정기|시험기|분석기|현미경|측정장치|분석장치|시험장치)$`)

var equipmentNounPattern = regexp.MustCompile(`[가-힣A-Za-z0-9]*(측정기|시험기|분석기|현미경|측정장치|분석장치|시험장치)`)

var equipmentVerbPattern = regexp.MustCompile(`(보유|찾아|검색|알려|있는|어디|구비|대여|사용할 수)`)

// equipmentMatch is the rule fast-path output.
type equipmentMatch struct {
	Keywords []string
	Regions  []string
}

// matchEquipmentQuery fires when the query names an instrument and
// either a search verb or a region. The full instrument name and its
// stripped root both become keywords.
func matchEquipmentQuery(query string) (*equipmentMatch, bool) {
	noun := equipmentNounPattern.FindString(query)
	if noun == "" {
		return nil, false
	}
	regions := catalog.ExtractRegions(query)
	if !equipmentVerbPattern.MatchString(query) && len(regions) == 0 {
		return nil, false
	}

	keywords := []string{noun}
	if m := equipmentSuffixPattern.FindStringSubmatch(noun); m != nil && m[1] != "" {
		keywords = append(keywords, m[1])
	}
	return &equipmentMatch{Keywords: keywords, Regions: regions}, true
}
