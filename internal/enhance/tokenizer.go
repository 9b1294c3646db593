package enhance

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/simpleflo/lattice/internal/dict"
)

// normalizer folds full-width forms and recomposes before tokenizing, so
// ＡＩ and AI count as the same token.
var normalizer = transform.Chain(width.Fold, norm.NFC)

const minTokenLen = 2

// Tokenize splits text into candidate noun tokens: maximal runs of Hangul
// and maximal runs of Latin letters and digits. Latin tokens are
// lowercased. Tokens shorter than two runes and domain stopwords are
// dropped.
func Tokenize(text string) []string {
	folded, _, err := transform.String(normalizer, text)
	if err != nil {
		folded = text
	}

	var tokens []string
	var run []rune
	var runHangul bool

	flush := func() {
		if len(run) >= minTokenLen {
			tok := string(run)
			if !runHangul {
				tok = strings.ToLower(tok)
			}
			if !dict.IsStopword(tok) {
				tokens = append(tokens, tok)
			}
		}
		run = run[:0]
	}

	for _, r := range folded {
		switch {
		case unicode.Is(unicode.Hangul, r):
			if len(run) > 0 && !runHangul {
				flush()
			}
			runHangul = true
			run = append(run, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(run) > 0 && runHangul {
				flush()
			}
			runHangul = false
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// TokenFrequencies tokenizes each text and counts token occurrences
// across all of them.
func TokenFrequencies(texts []string) map[string]int {
	freq := make(map[string]int)
	for _, text := range texts {
		for _, tok := range Tokenize(text) {
			freq[tok]++
		}
	}
	return freq
}
