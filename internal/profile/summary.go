package profile

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summary renders p as compact text suitable for a generation prompt.
// Categories appear in canonical order; unknown categories follow, sorted.
func Summary(p Profile) string {
	var parts []string

	ordered := append([]Category{}, Categories...)
	var extra []Category
	for c := range p {
		if !Known(c) {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	ordered = append(ordered, extra...)

	for _, c := range ordered {
		r, ok := p[c]
		if !ok || r.Empty() {
			continue
		}
		var line strings.Builder
		fmt.Fprintf(&line, "%s:", c)
		if t := strings.TrimSpace(r.FreeText); t != "" {
			fmt.Fprintf(&line, " %s", t)
		}
		if t := strings.TrimSpace(r.FollowUpText); t != "" {
			fmt.Fprintf(&line, " (follow-up: %s)", t)
		}
		if topics := sortedTopics(r); len(topics) > 0 {
			fmt.Fprintf(&line, " [topics: %s]", strings.Join(topics, ", "))
		}
		parts = append(parts, line.String())
	}

	if len(parts) == 0 {
		return "No preferences provided."
	}

	summary := strings.Join(parts, "\n")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func sortedTopics(r CategoryResponse) []string {
	set := r.Topics()
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
