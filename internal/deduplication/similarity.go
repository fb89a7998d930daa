package deduplication

import "strings"

// Threshold is the similarity a candidate must exceed to count as a duplicate.
const Threshold = 0.7

// Similarity returns the Jaccard index of the lower-cased whitespace word sets
// of a and b. It is symmetric and returns 0 when either set is empty.
func Similarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	// iterate the smaller set
	if len(wordsA) > len(wordsB) {
		wordsA, wordsB = wordsB, wordsA
	}
	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

// IsDuplicate reports whether two descriptions exceed Threshold.
func IsDuplicate(a, b string) bool {
	return Similarity(a, b) > Threshold
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
