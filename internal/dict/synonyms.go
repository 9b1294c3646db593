// Package dict carries the static lexical resources of the orchestrator:
// the domain synonym dictionary used for keyword expansion and the
// stopword list used by the noun tokenizer.
package dict

import (
	"bufio"
	"bytes"
	_ "embed"
	"strings"
	"sync"
)

//go:embed synonyms.txt
var synonymsTxt []byte

var (
	synOnce sync.Once
	synMap  map[string][]string
	synKeys []string
)

// load parses the embedded dictionary. Each line is one bidirectional
// group; every token maps to the other members of its group in file
// order. Empty tokens and comment lines are skipped.
func load() {
	synMap = make(map[string][]string)
	sc := bufio.NewScanner(bytes.NewReader(synonymsTxt))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		group := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			group = append(group, p)
		}
		if len(group) < 2 {
			continue
		}
		for _, tok := range group {
			if _, known := synMap[tok]; !known {
				synKeys = append(synKeys, tok)
			}
			for _, other := range group {
				if other == tok {
					continue
				}
				synMap[tok] = append(synMap[tok], other)
			}
		}
	}
}

// Synonyms returns the synonyms of a keyword in dictionary order, up to
// max entries. Unknown keywords return nil.
func Synonyms(keyword string, max int) []string {
	synOnce.Do(load)
	syns := synMap[keyword]
	if len(syns) == 0 {
		return nil
	}
	if max > 0 && len(syns) > max {
		syns = syns[:max]
	}
	out := make([]string, len(syns))
	copy(out, syns)
	return out
}

// PartialMatches returns group members for headwords that contain the
// keyword or are contained in it, in file order, up to max entries.
// Exact headwords are excluded; Synonyms covers those. Keywords
// shorter than two runes never match, they would pull in half the
// dictionary.
func PartialMatches(keyword string, max int) []string {
	synOnce.Do(load)
	if len([]rune(keyword)) < 2 {
		return nil
	}
	var out []string
	add := func(tok string) bool {
		if tok == keyword {
			return false
		}
		for _, have := range out {
			if have == tok {
				return false
			}
		}
		out = append(out, tok)
		return max > 0 && len(out) >= max
	}
	for _, head := range synKeys {
		if head == keyword {
			continue
		}
		if !strings.Contains(head, keyword) && !strings.Contains(keyword, head) {
			continue
		}
		if add(head) {
			return out
		}
		for _, syn := range synMap[head] {
			if add(syn) {
				return out
			}
		}
	}
	return out
}

// HasSynonyms reports whether the dictionary knows the keyword.
func HasSynonyms(keyword string) bool {
	synOnce.Do(load)
	return len(synMap[keyword]) > 0
}

// stopwords are generic Korean and English tokens that never carry
// retrieval signal and are dropped by the noun extractor.
var stopwords = map[string]bool{
	"기술": true, "개발": true, "연구": true, "관련": true, "이용": true,
	"활용": true, "방법": true, "장치": true, "시스템": true, "대한": true,
	"위한": true, "통한": true, "기반": true, "분야": true, "사업": true,
	"과제": true, "결과": true, "현황": true, "내용": true, "정보": true,
	"제조": true, "공정": true, "제작": true, "구조": true, "특성": true,
	"성능": true, "평가": true, "분석": true, "적용": true, "사용": true,
	"the": true, "and": true, "for": true, "with": true, "using": true,
	"of": true, "in": true, "on": true, "to": true, "by": true,
}

// IsStopword reports whether a token is filtered from noun extraction.
// Matching is case-insensitive for Latin tokens.
func IsStopword(token string) bool {
	return stopwords[strings.ToLower(token)]
}
