package scoring

import (
	"math"

	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/profile"
)

const (
	maxScore  = 100
	baseScore = 20
)

// Weights are the fixed contributions of each category to the overall score.
// They must sum to 1.0.
var Weights = map[Label]float64{
	Comfort:        0.25,
	AlgorithmFit:   0.30,
	CostFit:        0.15,
	EaseOfSetup:    0.15,
	OngoingSupport: 0.15,
}

func init() {
	var sum float64
	for _, w := range Weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		panic("scoring: category weights must sum to 1.0")
	}
}

// bonus is one additive, independently gated contribution to a category score.
type bonus struct {
	points int
	when   func(sig map[profile.Signal]bool, d catalog.Dimensions) bool
	point  string
}

var rules = map[Label][]bonus{
	Comfort: {
		{30, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.AvoidsTubing] && d.Tubing == catalog.Tubeless
		}, "Tubeless design avoids the tubing you want to get away from"},
		{15, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.Active] && d.Tubing == catalog.Tubeless
		}, "No tubing to snag during an active day"},
		{25, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.Swimmer] && d.WaterResistance == catalog.WaterSubmersible
		}, "Fully submersible, so swimming does not mean disconnecting"},
		{5, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.Swimmer] && d.WaterResistance == catalog.WaterSplash
		}, "Splash resistant for showers and rain"},
		{15, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.WantsDiscretion] && d.Discreet
		}, "Small enough to wear discreetly"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.PrefersRecharging] && d.Battery == catalog.BatteryRechargeable
		}, "Rechargeable battery, no spare batteries to carry"},
	},
	AlgorithmFit: {
		{30, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.TightControl] && d.Aggressiveness == catalog.Aggressive
		}, "Aggressive automated corrections for tighter time in range"},
		{15, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.TightControl] && d.AdjustableTargets
		}, "Glucose targets can be tuned to your goals"},
		{30, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.FearsLows] && d.Aggressiveness == catalog.Conservative
		}, "Conservative algorithm that is cautious about lows"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.FearsLows] && d.AdjustableTargets
		}, "Targets can be raised to reduce low risk"},
		{20, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.Active] && d.ExerciseMode
		}, "Dedicated exercise mode for workouts"},
		{35, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.AvoidsCarbCount] && !d.CarbCountingRequired
		}, "Meal announcements without precise carb counting"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.WantsSimplicity] && !d.CarbCountingRequired
		}, "Fewer inputs needed day to day"},
	},
	CostFit: {
		{30, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.CostSensitive] && d.FinancialAssistance
		}, "Manufacturer financial assistance program available"},
		{20, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.CostSensitive] && (d.Coverage == catalog.CoveragePharmacy || d.Coverage == catalog.CoverageBoth)
		}, "Available through the pharmacy benefit, often with lower upfront cost"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.CostSensitive] && d.Updates == catalog.UpdatesRemote
		}, "Software updates arrive remotely without buying new hardware"},
		{20, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.GoodInsurance] && (d.Coverage == catalog.CoverageDME || d.Coverage == catalog.CoverageBoth)
		}, "Covered under durable medical equipment benefits"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.GoodInsurance] && d.Coverage == catalog.CoveragePharmacy
		}, "Pharmacy coverage usually works with strong insurance plans"},
	},
	EaseOfSetup: {
		{25, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.TechAverse] && !d.CarbCountingRequired
		}, "Minimal setup: starts from body weight instead of detailed settings"},
		{15, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.TechAverse] && (d.Interface == catalog.InterfaceButtons || d.Interface == catalog.InterfaceTouchscreen)
		}, "Self-contained controls, no phone pairing required"},
		{25, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.TechSavvy] && d.Interface == catalog.InterfacePhone
		}, "Runs from a phone app you already know how to use"},
		{20, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.PrefersPhone] && d.Interface == catalog.InterfacePhone
		}, "Bolus and settings directly from your phone"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.WantsQuickStart] && d.Interface != catalog.InterfaceButtons
		}, "Guided on-screen setup for a faster start"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.WantsSimplicity] && d.Tubing == catalog.Tubeless
		}, "Fewer parts to assemble at each change"},
		{15, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.WantsSimplicity] && !d.CarbCountingRequired
		}, "Simple daily routine once started"},
	},
	OngoingSupport: {
		{30, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.NeedsSupport] && d.ClinicSupport == catalog.SupportBroad
		}, "Widely supported by clinics and diabetes educators"},
		{15, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.NeedsSupport] && d.ClinicSupport == catalog.SupportModerate
		}, "Supported by a growing number of clinics"},
		{30, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.RemoteMonitoring] && d.RemoteMonitoring
		}, "Caregivers can follow along remotely"},
		{10, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.TechSavvy] && d.Updates == catalog.UpdatesRemote
		}, "Receives new features through remote updates"},
		{15, func(s map[profile.Signal]bool, d catalog.Dimensions) bool {
			return s[profile.TechAverse] && d.ClinicSupport == catalog.SupportBroad
		}, "Easy to find hands-on help nearby"},
	},
}

// Score returns the 0..100 score of cand for the given category. Unknown
// categories and profiles without usable answers score 0.
func Score(label Label, cand catalog.Candidate, p profile.Profile) int {
	score, _ := evaluate(label, cand, p, profile.Signals(p))
	return score
}

// Overall returns the fixed-weight combination of the category scores.
func Overall(cand catalog.Candidate, p profile.Profile) int {
	return overall(cand, p, profile.Signals(p))
}

func overall(cand catalog.Candidate, p profile.Profile, sig map[profile.Signal]bool) int {
	var total float64
	for _, label := range Labels {
		s, _ := evaluate(label, cand, p, sig)
		total += Weights[label] * float64(s)
	}
	return int(math.Round(total))
}

// evaluate sums the bonuses that fire for cand and returns the capped score
// along with a key point for each bonus that fired, in rule order.
func evaluate(label Label, cand catalog.Candidate, p profile.Profile, sig map[profile.Signal]bool) (int, []string) {
	rs, ok := rules[label]
	if !ok || len(p.Usable()) == 0 {
		return 0, nil
	}

	score := baseScore
	var points []string
	for _, b := range rs {
		if b.when(sig, cand.Dimensions) {
			score += b.points
			points = append(points, b.point)
		}
	}
	if score > maxScore {
		score = maxScore
	}
	return score, points
}
