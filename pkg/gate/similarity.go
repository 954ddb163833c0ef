package gate

import "strings"

// Similarity scorer weights: key overlap counts for 40% of the score,
// agreeing values for 60%.
const (
	similarityKeyWeight   = 0.4
	similarityValueWeight = 0.6
)

// ContextSimilarity compares two event context maps and returns a score in
// [0, 1].
//
// Scoring:
//   - Both contexts empty: 0.5 — no evidence either way, so neutral rather
//     than "identical" or "disjoint".
//   - Otherwise, over the union of keys:
//     keyOverlap  = sharedKeys / unionKeys
//     valueMatch  = sharedKeysWithEqualValues / unionKeys
//     score       = 0.4*keyOverlap + 0.6*valueMatch
//
// Value comparison is case-insensitive: contexts assembled by different
// agents routinely disagree on casing ("Prod" vs "prod") without
// disagreeing on meaning.
//
// ContextSimilarity is pure and is used by both circuits: the promoter
// rewards similarity directly, the suppressor penalizes its complement as
// context conflict.
func ContextSimilarity(a, b map[string]string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}

	union := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		union[k] = struct{}{}
	}
	for k := range b {
		union[k] = struct{}{}
	}

	var matchingKeys, matchingValues int
	for k := range union {
		av, inA := a[k]
		bv, inB := b[k]
		if inA && inB {
			matchingKeys++
			if strings.EqualFold(av, bv) {
				matchingValues++
			}
		}
	}

	total := float64(len(union))
	keyOverlap := float64(matchingKeys) / total
	valueMatch := float64(matchingValues) / total

	return similarityKeyWeight*keyOverlap + similarityValueWeight*valueMatch
}
