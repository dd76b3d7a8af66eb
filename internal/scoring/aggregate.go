package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/profile"
)

var labelNames = map[Label]string{
	Comfort:        "comfort",
	AlgorithmFit:   "algorithm",
	CostFit:        "cost",
	EaseOfSetup:    "ease of setup",
	OngoingSupport: "ongoing support",
	OverallLabel:   "overall fit",
}

// followUps are asked for categories the user left unanswered.
var followUps = map[profile.Category]string{
	profile.Cost:        "How does your insurance cover pumps, and is out-of-pocket cost a concern?",
	profile.Lifestyle:   "What does a typical day look like, including exercise, swimming, or travel?",
	profile.Algorithm:   "How tightly do you want the pump to manage your glucose, and how do you feel about lows?",
	profile.EaseToStart: "How quickly do you want to get started, and how comfortable are you with new technology?",
	profile.Complexity:  "Would you rather count carbs precisely or keep daily inputs to a minimum?",
	profile.Support:     "Who helps you manage diabetes, and would remote monitoring for a caregiver be useful?",
}

// Aggregate scores every candidate in cat against p and picks a winner per
// category plus an overall winner. Ties go to the candidate declared first in
// the catalog. Aggregate never fails: an empty profile yields zero scores and
// the first candidate everywhere.
func Aggregate(cat *catalog.Catalog, p profile.Profile) ComprehensiveRecommendation {
	cands := cat.Candidates()
	sig := profile.Signals(p)

	rec := ComprehensiveRecommendation{Source: SourceRules}
	if len(cands) == 0 {
		rec.Summary = "No candidates are available to recommend."
		rec.FollowUpQuestions = FollowUpQuestions(p)
		return rec
	}

	for _, label := range Labels {
		best, bestScore, bestPoints := -1, -1, []string(nil)
		for i, cand := range cands {
			s, points := evaluate(label, cand, p, sig)
			if s > bestScore {
				best, bestScore, bestPoints = i, s, points
			}
		}
		rec.Categories = append(rec.Categories, CategoryRecommendation{
			CategoryLabel: label,
			Candidate:     cands[best].Name,
			Score:         bestScore,
			Reasoning:     reasoning(label, cands[best].Name, bestScore, bestPoints),
			KeyPoints:     nonNil(bestPoints),
		})
	}

	ranking := make([]RankedCandidate, len(cands))
	for i, cand := range cands {
		ranking[i] = RankedCandidate{Candidate: cand.Name, Overall: overall(cand, p, sig)}
	}
	// SliceStable keeps catalog order among equal scores.
	sort.SliceStable(ranking, func(i, j int) bool { return ranking[i].Overall > ranking[j].Overall })
	rec.Ranking = ranking

	winner := ranking[0]
	var overallPoints []string
	var leads []string
	for _, c := range rec.Categories {
		if c.Candidate == winner.Candidate {
			leads = append(leads, labelNames[c.CategoryLabel])
			overallPoints = append(overallPoints, c.KeyPoints...)
		}
	}
	rec.Overall = CategoryRecommendation{
		CategoryLabel: OverallLabel,
		Candidate:     winner.Candidate,
		Score:         winner.Overall,
		Reasoning:     reasoning(OverallLabel, winner.Candidate, winner.Overall, overallPoints),
		KeyPoints:     nonNil(overallPoints),
	}
	rec.Summary = summary(winner, leads, len(p.Usable()))
	rec.FollowUpQuestions = FollowUpQuestions(p)
	return rec
}

func reasoning(label Label, name string, score int, points []string) string {
	if len(points) == 0 {
		return fmt.Sprintf("%s scores %d/100 for %s. None of your answers pointed to a specific %s need, so the catalog order decided.",
			name, score, labelNames[label], labelNames[label])
	}
	return fmt.Sprintf("%s scores %d/100 for %s: %s.", name, score, labelNames[label], strings.ToLower(strings.Join(points, "; ")))
}

func summary(winner RankedCandidate, leads []string, answered int) string {
	if answered == 0 {
		return "We could not find any answers to score, so this is a default suggestion. Answer a few questions for a personalised match."
	}
	s := fmt.Sprintf("Based on your answers, %s is the best overall fit with a weighted score of %d/100.", winner.Candidate, winner.Overall)
	if len(leads) > 0 {
		s += fmt.Sprintf(" It also leads for %s.", strings.Join(leads, ", "))
	}
	return s
}

// FollowUpQuestions asks about every category p leaves unanswered, in canonical order.
func FollowUpQuestions(p profile.Profile) []string {
	answered := make(map[profile.Category]bool)
	for _, c := range p.Usable() {
		answered[c] = true
	}
	qs := []string{}
	for _, c := range profile.Categories {
		if !answered[c] {
			qs = append(qs, followUps[c])
		}
	}
	return qs
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
