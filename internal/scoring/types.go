package scoring

// Label names a scored category.
type Label string

const (
	Comfort        Label = "comfort"
	AlgorithmFit   Label = "algorithm"
	CostFit        Label = "cost"
	EaseOfSetup    Label = "easeOfSetup"
	OngoingSupport Label = "support"

	// OverallLabel is the label of the weighted overall recommendation.
	OverallLabel Label = "overall"
)

// Labels lists the scored categories in presentation order.
var Labels = []Label{Comfort, AlgorithmFit, CostFit, EaseOfSetup, OngoingSupport}

// Source values for ComprehensiveRecommendation.Source.
const (
	SourceRules     = "rules"
	SourceGenerated = "generated"
	SourceCache     = "cache"
	SourceFallback  = "fallback"
)

// CategoryRecommendation is the winning candidate for one category.
type CategoryRecommendation struct {
	CategoryLabel Label    `json:"category_label"`
	Candidate     string   `json:"candidate"`
	Score         int      `json:"score"`
	Reasoning     string   `json:"reasoning"`
	KeyPoints     []string `json:"key_points"`
}

// RankedCandidate is one row of the overall ranking.
type RankedCandidate struct {
	Candidate string `json:"candidate"`
	Overall   int    `json:"overall"`
}

// ComprehensiveRecommendation is the full answer returned to a caller.
type ComprehensiveRecommendation struct {
	Categories        []CategoryRecommendation `json:"categories"`
	Overall           CategoryRecommendation   `json:"overall"`
	Ranking           []RankedCandidate        `json:"ranking,omitempty"`
	Summary           string                   `json:"summary"`
	FollowUpQuestions []string                 `json:"follow_up_questions"`
	Observations      []string                 `json:"observations,omitempty"`
	Source            string                   `json:"source"`
	Fallback          bool                     `json:"fallback,omitempty"`
}

// Category returns the recommendation for label, if present.
func (r ComprehensiveRecommendation) Category(label Label) (CategoryRecommendation, bool) {
	for _, c := range r.Categories {
		if c.CategoryLabel == label {
			return c, true
		}
	}
	return CategoryRecommendation{}, false
}

// Clone returns a deep copy of r.
func (r ComprehensiveRecommendation) Clone() ComprehensiveRecommendation {
	cp := r
	cp.Categories = make([]CategoryRecommendation, len(r.Categories))
	for i, c := range r.Categories {
		cp.Categories[i] = c.clone()
	}
	cp.Overall = r.Overall.clone()
	cp.Ranking = append([]RankedCandidate(nil), r.Ranking...)
	cp.FollowUpQuestions = append([]string(nil), r.FollowUpQuestions...)
	cp.Observations = append([]string(nil), r.Observations...)
	return cp
}

func (c CategoryRecommendation) clone() CategoryRecommendation {
	c.KeyPoints = append([]string(nil), c.KeyPoints...)
	return c
}
