package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// hashPrefixRunes is how much of each category's free text feeds the hash.
const hashPrefixRunes = 50

// Hash returns a stable lookup key for p built from the category names and a
// truncated, normalized prefix of each category's free text. Two semantically
// similar profiles usually hash differently; Hash is not a similarity measure.
func Hash(p Profile) string {
	h := sha256.New()
	for _, c := range p.SortedCategories() {
		h.Write([]byte(c))
		h.Write([]byte{0})
		h.Write([]byte(prefix(strings.ToLower(strings.TrimSpace(p[c].FreeText)), hashPrefixRunes)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint identifies the full content of p: every category's complete
// free text, follow-up text and topic set, normalized for case, surrounding
// whitespace and topic order. CapturedAt is ignored. Equal fingerprints mean
// the profiles are the same answers.
func Fingerprint(p Profile) string {
	h := sha256.New()
	for _, c := range p.SortedCategories() {
		r := p[c]
		h.Write([]byte(c))
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(r.FreeText))))
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(r.FollowUpText))))
		h.Write([]byte{0})
		topics := make([]string, 0, len(r.SelectedTopics))
		for t := range r.Topics() {
			topics = append(topics, t)
		}
		sort.Strings(topics)
		for _, t := range topics {
			h.Write([]byte(t))
			h.Write([]byte{1})
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
