package memory

import "math"

const (
	// Content shorter than this skips the recall lookup entirely.
	minRecallLength = 20

	// Neutral value used for all three similarity factors when the
	// store lookup fails: unknown, lean uninteresting.
	similarityFallback = 3

	recallLimit = 10
)

// repetitionScore is the mean relevance of recalled neighbors scaled to
// [0,10]. No neighbors means nothing repeats.
func repetitionScore(results []Record) int {
	if len(results) == 0 {
		return 0
	}
	return clampScore(int(math.Round(10 * averageRelevance(results))))
}

// contextAnchoringScore weighs high-value neighbors: explicit-tier
// results count 3 each, silent-tier 2 each, capped at 10.
func contextAnchoringScore(results []Record) int {
	if len(results) == 0 {
		return 0
	}
	score := 0
	for _, r := range results {
		switch r.Meta.Tier {
		case TierExplicit:
			score += 3
		case TierSilent:
			score += 2
		}
	}
	return clampScore(score)
}

// noveltyScore is the inverse of neighbor similarity. It is computed
// independently of repetitionScore against the same result set, so the
// two may diverge from an exact 10-complement by rounding.
func noveltyScore(results []Record) int {
	if len(results) == 0 {
		return 10
	}
	return clampScore(int(math.Round(10 * (1 - averageRelevance(results)))))
}

func averageRelevance(results []Record) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Relevance
	}
	return sum / float64(len(results))
}
