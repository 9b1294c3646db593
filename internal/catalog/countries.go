package catalog

import "strings"

// NotKR marks "foreign" queries: any nationality except Korea.
const NotKR = "NOT_KR"

// countryTokens maps surface tokens to normalized country codes. The scan
// is ordered longest-token-first so "대한민국" wins over "한국" substrings.
var countryTokens = []struct {
	Token string
	Code  string
}{
	{"대한민국", "KR"},
	{"한국", "KR"},
	{"국내", "KR"},
	{"우리나라", "KR"},
	{"KR", "KR"},
	{"미국", "US"},
	{"USA", "US"},
	{"일본", "JP"},
	{"중국", "CN"},
	{"독일", "DE"},
	{"영국", "GB"},
	{"프랑스", "FR"},
	{"유럽", "EP"},
	{"해외", NotKR},
	{"타국", NotKR},
	{"외국", NotKR},
}

// ExtractCountries scans raw query text and returns normalized country
// codes in first-mention order, deduplicated.
func ExtractCountries(query string) []string {
	type hit struct {
		pos  int
		code string
	}
	var hits []hit
	seen := make(map[string]bool)
	for _, ct := range countryTokens {
		pos := strings.Index(query, ct.Token)
		if pos < 0 || seen[ct.Code] {
			continue
		}
		seen[ct.Code] = true
		hits = append(hits, hit{pos: pos, code: ct.Code})
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.code
	}
	return out
}

// IsCountryToken reports whether the token maps to a country code.
func IsCountryToken(token string) bool {
	for _, ct := range countryTokens {
		if ct.Token == token {
			return true
		}
	}
	return false
}

// StripCountryTokens removes any token that is (or contains only) a country
// token from the keyword list, preserving order. Country filtering belongs
// in structured keywords, never in the ILIKE disjunction.
func StripCountryTokens(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if IsCountryToken(kw) {
			continue
		}
		out = append(out, kw)
	}
	return out
}

// RegionNouns are Korean administrative regions recognized by the
// equipment fast path.
var RegionNouns = []string{
	"서울", "부산", "대구", "인천", "광주", "대전", "울산", "세종",
	"경기", "강원", "충북", "충남", "전북", "전남", "경북", "경남", "제주",
}

// ExtractRegions returns region nouns present in the query, in order.
func ExtractRegions(query string) []string {
	var out []string
	for _, r := range RegionNouns {
		if strings.Contains(query, r) {
			out = append(out, r)
		}
	}
	return out
}
