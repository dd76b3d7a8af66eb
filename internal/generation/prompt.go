package generation

import (
	"fmt"
	"strings"

	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/scoring"
)

// SystemPrompt frames every generation call.
const SystemPrompt = `You help people living with type 1 diabetes compare insulin pumps.
You are not giving medical advice; the user will review options with their care team.
Answer with exactly one JSON object and no other text.`

// BuildPrompt renders the candidate list, the user's answers and the response
// schema into a single user message.
func BuildPrompt(p profile.Profile, cat *catalog.Catalog) string {
	var b strings.Builder

	b.WriteString("Candidate pumps (use these names exactly):\n")
	for _, c := range cat.Candidates() {
		d := c.Dimensions
		fmt.Fprintf(&b, "- %s (%s): %s, water %s, battery %s, controls %s, algorithm %s, carb counting required %t, coverage %s, clinic support %s, remote monitoring %t, updates %s\n",
			c.Name, c.Manufacturer, d.Tubing, d.WaterResistance, d.Battery, d.Interface,
			d.Aggressiveness, d.CarbCountingRequired, d.Coverage, d.ClinicSupport, d.RemoteMonitoring, d.Updates)
	}

	b.WriteString("\nThe user's answers:\n")
	b.WriteString(profile.Summary(p))
	b.WriteString("\n\n")

	labels := make([]string, len(scoring.Labels))
	for i, l := range scoring.Labels {
		labels[i] = string(l)
	}
	fmt.Fprintf(&b, `Pick the best candidate for each category (%s) and overall.
Respond with this JSON shape:
{
  "categories": [
    {"category": "<category>", "candidate": "<name>", "score": <0-100>, "reasoning": "<why>", "key_points": ["<point>"]}
  ],
  "overall": {"category": "overall", "candidate": "<name>", "score": <0-100>, "reasoning": "<why>", "key_points": ["<point>"]},
  "summary": "<two or three sentences>",
  "follow_up_questions": ["<question>"]
}
Include every category exactly once.`, strings.Join(labels, ", "))

	return b.String()
}
