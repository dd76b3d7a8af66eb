package profile

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Signal is a coarse preference detected from a user's answers.
type Signal string

const (
	CostSensitive     Signal = "cost_sensitive"
	GoodInsurance     Signal = "good_insurance"
	Active            Signal = "active"
	Swimmer           Signal = "swimmer"
	AvoidsTubing      Signal = "avoids_tubing"
	WantsDiscretion   Signal = "wants_discretion"
	TechSavvy         Signal = "tech_savvy"
	TechAverse        Signal = "tech_averse"
	TightControl      Signal = "tight_control"
	FearsLows         Signal = "fears_lows"
	AvoidsCarbCount   Signal = "avoids_carb_counting"
	WantsSimplicity   Signal = "wants_simplicity"
	WantsQuickStart   Signal = "wants_quick_start"
	NeedsSupport      Signal = "needs_support"
	RemoteMonitoring  Signal = "remote_monitoring"
	PrefersRecharging Signal = "prefers_recharging"
	PrefersPhone      Signal = "prefers_phone"
)

// signalKeywords are matched case-insensitively as substrings of the answer
// text and of selected topics. Order within a list does not matter.
var signalKeywords = map[Signal][]string{
	CostSensitive:     {"afford", "expensive", "cheap", "budget", "copay", "deductible", "out of pocket", "cost a lot", "no insurance", "uninsured", "high cost"},
	GoodInsurance:     {"great insurance", "good insurance", "excellent insurance", "fully covered", "covered by insurance", "insurance covers"},
	Active:            {"active", "exercise", "gym", "run", "sport", "hike", "athlet", "workout", "cycling", "bike"},
	Swimmer:           {"swim", "pool", "beach", "water sport", "surf", "waterproof", "shower"},
	AvoidsTubing:      {"tubeless", "no tube", "without tube", "hate tubing", "tubing gets caught", "patch", "pod"},
	WantsDiscretion:   {"discreet", "hidden", "invisible", "small", "nobody notice", "under clothes", "visible"},
	TechSavvy:         {"tech savvy", "love technology", "gadget", "an app", "apps", "smartphone", "iphone", "android", "data"},
	TechAverse:        {"not tech", "hate technology", "not good with tech", "confus", "overwhelm", "complicated"},
	TightControl:      {"tight control", "aggressive", "lower a1c", "time in range", "custom target", "fine tune", "fine-tune", "adjust target"},
	FearsLows:         {"hypo", "low blood sugar", "afraid of lows", "fear of lows", "go low", "conservative"},
	AvoidsCarbCount:   {"carb counting", "count carbs", "hate counting", "meal announcement", "don't want to count", "no counting"},
	WantsSimplicity:   {"simple", "easy", "minimal", "set and forget", "low maintenance", "hands off", "automatic"},
	WantsQuickStart:   {"quick start", "start quickly", "asap", "right away", "fast setup", "easy setup", "easy to start"},
	NeedsSupport:      {"support", "training", "educator", "help line", "customer service", "endocrinologist", "clinic"},
	RemoteMonitoring:  {"remote monitor", "caregiver", "parent", "follow along", "follow my", "share data", "my child", "spouse"},
	PrefersRecharging: {"recharge", "rechargeable", "charging", "no batteries"},
	PrefersPhone:      {"phone control", "control from phone", "from my phone", "phone app", "bolus from phone"},
}

// Signals returns the set of signals detected across every category of p.
func Signals(p Profile) map[Signal]bool {
	out := make(map[Signal]bool)
	for _, r := range p {
		text := strings.ToLower(r.Text())
		for sig, kws := range signalKeywords {
			if containsAny(text, kws) {
				out[sig] = true
				continue
			}
			for topic := range r.Topics() {
				if containsAny(topic, kws) {
					out[sig] = true
					break
				}
			}
		}
	}
	return out
}

// DetectText returns the signals present in a single piece of text.
func DetectText(text string) map[Signal]bool {
	out := make(map[Signal]bool)
	text = strings.ToLower(text)
	for sig, kws := range signalKeywords {
		if containsAny(text, kws) {
			out[sig] = true
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Words splits text into a set of lower-cased words longer than two runes.
// Anything that is not a letter or digit separates words.
func Words(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 2 {
			set[f] = struct{}{}
		}
	}
	return set
}
