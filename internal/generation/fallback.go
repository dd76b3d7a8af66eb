package generation

import (
	"github.com/kalambet/pumpdrive/internal/scoring"
)

const fallbackReasoning = "We could not produce a recommendation for this category right now."

// Fallback is the neutral recommendation returned when generation fails.
// Every score is 0 and no candidate is named.
func Fallback(reason string) scoring.ComprehensiveRecommendation {
	rec := scoring.ComprehensiveRecommendation{
		Summary:           "We could not produce a personalised recommendation right now. Please try again in a few minutes or review the options with your care team.",
		FollowUpQuestions: []string{},
		Source:            scoring.SourceFallback,
		Fallback:          true,
	}
	if reason != "" {
		rec.Observations = []string{"Reason: " + reason}
	}
	for _, l := range scoring.Labels {
		rec.Categories = append(rec.Categories, scoring.CategoryRecommendation{
			CategoryLabel: l,
			Reasoning:     fallbackReasoning,
			KeyPoints:     []string{},
		})
	}
	rec.Overall = scoring.CategoryRecommendation{
		CategoryLabel: scoring.OverallLabel,
		Reasoning:     fallbackReasoning,
		KeyPoints:     []string{},
	}
	return rec
}
