// Package fuse combines ranked results from heterogeneous backends:
// reciprocal rank fusion, the final source merge, and the context
// quality score fed to the generator.
package fuse

import "sort"

// DefaultRRFConstant is the k in 1/(k + rank + 1).
const DefaultRRFConstant = 60

// Contribution is the fused score of one key plus the sources that
// ranked it.
type Contribution struct {
	Score   float64
	Sources []string
}

// RRF fuses ranked key lists by reciprocal rank. Ranks start at 0, so a
// top hit contributes 1/(k+1). Keys absent from a list simply receive no
// contribution from it.
func RRF(k int, lists map[string][]string) map[string]Contribution {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	out := make(map[string]Contribution)
	sources := make([]string, 0, len(lists))
	for source := range lists {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		for rank, key := range lists[source] {
			c := out[key]
			c.Score += 1.0 / float64(k+rank+1)
			c.Sources = append(c.Sources, source)
			out[key] = c
		}
	}
	return out
}

// RankByScore orders keys by fused score descending, breaking ties by
// key for determinism.
func RankByScore(contributions map[string]Contribution) []string {
	keys := make([]string, 0, len(contributions))
	for key := range contributions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, sj := contributions[keys[i]].Score, contributions[keys[j]].Score
		if si != sj {
			return si > sj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// SourceLabel folds a contribution's source set into the rrf_source tag.
func SourceLabel(c Contribution) string {
	if len(c.Sources) > 1 {
		return "both"
	}
	if len(c.Sources) == 1 {
		return c.Sources[0]
	}
	return ""
}
