// Package similarity decides whether a stored recommendation is close enough
// to a new preference profile to be reused instead of recomputed.
package similarity

import (
	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/storage"
)

const (
	// MinSimilarity is the lowest similarity an entry needs to be a match at all.
	MinSimilarity = 0.75

	// ReuseThreshold is the similarity at which callers reuse a match.
	// Matches in [MinSimilarity, ReuseThreshold) are treated as misses.
	ReuseThreshold = 0.85

	textWeight  = 0.6
	topicWeight = 0.4
)

// CategoryWeights are the fixed contributions of each category to similarity.
var CategoryWeights = map[profile.Category]float64{
	profile.Cost:        0.20,
	profile.Lifestyle:   0.25,
	profile.Algorithm:   0.25,
	profile.EaseToStart: 0.10,
	profile.Complexity:  0.10,
	profile.Support:     0.10,
}

// Match is the best stored entry for a profile.
type Match struct {
	Entry      storage.CacheEntry
	Similarity float64
}

// Reusable reports whether the match is strong enough to skip recomputation.
func (m Match) Reusable() bool {
	return m.Similarity >= ReuseThreshold
}

// FindBestMatch returns the entry most similar to p among entries scoring at
// least MinSimilarity. Entries are expected in most-recently-used order; on
// equal similarity the earlier entry wins.
func FindBestMatch(p profile.Profile, entries []storage.CacheEntry) (Match, bool) {
	var best Match
	found := false
	for _, e := range entries {
		s := Similarity(p, e.Profile)
		if s < MinSimilarity {
			continue
		}
		if !found || s > best.Similarity {
			best = Match{Entry: e, Similarity: s}
			found = true
		}
	}
	return best, found
}

// Similarity compares a new profile against a stored one. It averages
// per-category similarity over the categories present in both, weighted by
// CategoryWeights and normalized by the weights that actually matched.
// Categories absent from either side are left out of both sums, and since the
// matched set is an intersection the result does not depend on argument order.
func Similarity(newProfile, stored profile.Profile) float64 {
	var weighted, matched float64
	for _, c := range profile.Categories {
		nr, ok := newProfile[c]
		if !ok {
			continue
		}
		sr, ok := stored[c]
		if !ok {
			continue
		}
		w := CategoryWeights[c]
		weighted += w * categorySimilarity(nr, sr)
		matched += w
	}
	if matched == 0 {
		return 0
	}
	return weighted / matched
}

func categorySimilarity(a, b profile.CategoryResponse) float64 {
	return textWeight*WordOverlap(a.FreeText, b.FreeText) + topicWeight*TopicOverlap(a, b)
}

// WordOverlap is |A∩B| / max(|A|,|B|) over the word sets of two texts, or 0
// when either side has no words.
func WordOverlap(a, b string) float64 {
	wa, wb := profile.Words(a), profile.Words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(max(len(wa), len(wb)))
}

// TopicOverlap is the Jaccard index of the two selected-topic sets. Two empty
// sets are identical and score 1.
func TopicOverlap(a, b profile.CategoryResponse) float64 {
	ta, tb := a.Topics(), b.Topics()
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}
