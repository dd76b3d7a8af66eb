package similarity

import (
	"strings"

	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/scoring"
)

// observations are appended to a reused recommendation when the new
// profile's free text mentions the matching signal. Order is fixed so output
// is stable.
var observations = []struct {
	signal profile.Signal
	text   string
}{
	{profile.CostSensitive, "You mentioned cost concerns: ask about the manufacturer's assistance program and your pharmacy versus DME coverage before ordering."},
	{profile.GoodInsurance, "With strong insurance, confirm with your plan which benefit (pharmacy or DME) gives the lowest copay."},
	{profile.Active, "You described an active routine: check how exercise mode and site placement work for your activities."},
	{profile.Swimmer, "Because you spend time in the water, confirm the pump's water rating against how deep and how long you swim."},
	{profile.AvoidsTubing, "You prefer to avoid tubing, which weighs heavily toward patch-style pumps."},
	{profile.TechAverse, "You prefer less technology: ask your clinic about in-person training for the first weeks."},
	{profile.TechSavvy, "You are comfortable with apps, so phone control and data sharing features will be easy to adopt."},
	{profile.NeedsSupport, "You value support: ask your care team which of these pumps they train on most often."},
	{profile.RemoteMonitoring, "Remote monitoring came up: make sure your caregiver's phone is compatible with the follow app."},
}

// Adapt returns a copy of a cached recommendation with observations drawn
// from the new profile's free text appended. The cached scores are untouched.
func Adapt(rec scoring.ComprehensiveRecommendation, p profile.Profile) scoring.ComprehensiveRecommendation {
	out := rec.Clone()
	out.Source = scoring.SourceCache

	var text strings.Builder
	for _, c := range profile.Categories {
		if r, ok := p[c]; ok {
			text.WriteString(r.FreeText)
			text.WriteString(" ")
		}
	}
	detected := profile.DetectText(text.String())

	seen := make(map[string]bool, len(out.Observations))
	for _, o := range out.Observations {
		seen[o] = true
	}
	for _, o := range observations {
		if detected[o.signal] && !seen[o.text] {
			out.Observations = append(out.Observations, o.text)
			seen[o.text] = true
		}
	}
	return out
}
