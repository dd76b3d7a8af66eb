package profile

import (
	"sort"
	"strings"
	"time"
)

// Category is one preference dimension a user answers questions about.
type Category string

const (
	Cost        Category = "cost"
	Lifestyle   Category = "lifestyle"
	Algorithm   Category = "algorithm"
	EaseToStart Category = "easeToStart"
	Complexity  Category = "complexity"
	Support     Category = "support"
)

// Categories lists every known category in canonical order.
var Categories = []Category{Cost, Lifestyle, Algorithm, EaseToStart, Complexity, Support}

// Known reports whether c is one of the fixed categories.
func Known(c Category) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// CategoryResponse is a user's answer for a single category.
type CategoryResponse struct {
	FreeText       string    `json:"free_text"`
	FollowUpText   string    `json:"follow_up_text,omitempty"`
	SelectedTopics []string  `json:"selected_topics,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Empty reports whether the response carries no usable content.
func (r CategoryResponse) Empty() bool {
	if strings.TrimSpace(r.FreeText) != "" || strings.TrimSpace(r.FollowUpText) != "" {
		return false
	}
	for _, t := range r.SelectedTopics {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}

// Topics returns the selected topics as a normalized set.
func (r CategoryResponse) Topics() map[string]struct{} {
	set := make(map[string]struct{}, len(r.SelectedTopics))
	for _, t := range r.SelectedTopics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Text joins the free text and follow-up text.
func (r CategoryResponse) Text() string {
	if r.FollowUpText == "" {
		return r.FreeText
	}
	return r.FreeText + " " + r.FollowUpText
}

// Profile maps categories to the user's answers. A profile is created once per
// session and treated as read-only after submission; use Clone before editing.
// Missing categories are allowed.
type Profile map[Category]CategoryResponse

// Usable returns the known, non-empty categories in canonical order.
func (p Profile) Usable() []Category {
	var out []Category
	for _, c := range Categories {
		if r, ok := p[c]; ok && !r.Empty() {
			out = append(out, c)
		}
	}
	return out
}

// SortedCategories returns every category key present in p, sorted by name.
func (p Profile) SortedCategories() []Category {
	out := make([]Category, 0, len(p))
	for c := range p {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	cp := make(Profile, len(p))
	for c, r := range p {
		if r.SelectedTopics != nil {
			topics := make([]string, len(r.SelectedTopics))
			copy(topics, r.SelectedTopics)
			r.SelectedTopics = topics
		}
		cp[c] = r
	}
	return cp
}
