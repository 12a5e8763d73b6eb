package textnorm

import "strings"

const (
	// minTokenLen filters short filler tokens ("a", "of", "mr") out of
	// similarity scoring.
	minTokenLen = 3

	// containmentScore is awarded when one normalized string wholly
	// contains the other, the usual shape of remix/edit/live qualifiers
	// ("midnight city live edit" vs "midnight city").
	containmentScore = 0.9
)

// Similarity scores two raw strings in [0, 1]. Both inputs are normalized
// first. Equal normalized strings score 1.0; if either side normalizes to
// nothing, the score is 0.0; one string containing the other scores 0.9.
// Otherwise each side is tokenized into words of at least three characters
// and the score is the number of token pairs with a substring relationship
// over the larger token count, capped at 1.0.
//
// This is deliberately a cheap, auditable metric rather than edit distance:
// a rejected match can be explained by pointing at the tokens that failed
// to line up.
func Similarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)

	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return containmentScore
	}

	ta := tokens(na)
	tb := tokens(nb)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	matches := 0
	for _, wa := range ta {
		for _, wb := range tb {
			if strings.Contains(wa, wb) || strings.Contains(wb, wa) {
				matches++
			}
		}
	}

	maxLen := len(ta)
	if len(tb) > maxLen {
		maxLen = len(tb)
	}

	score := float64(matches) / float64(maxLen)
	if score > 1 {
		score = 1
	}
	return score
}

// tokens splits a normalized string into scoring tokens.
func tokens(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen {
			out = append(out, f)
		}
	}
	return out
}
