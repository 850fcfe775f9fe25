package matcher

import (
	"regexp"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

var tokenPattern = regexp.MustCompile(`\w+`)

// SequenceRatio returns the Levenshtein similarity ratio of two strings in
// [0, 1], ignoring case.
func SequenceRatio(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

// TokenJaccard returns |A∩B| / |A∪B| over the lower-cased word sets of a and
// b.
func TokenJaccard(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// TextSimilarity is the larger of SequenceRatio and TokenJaccard.
func TextSimilarity(a, b string) float64 {
	return max(SequenceRatio(a, b), TokenJaccard(a, b))
}

func tokenSet(s string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
