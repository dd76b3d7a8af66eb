package catalog

import "strings"

type Tubing string

const (
	Tubed    Tubing = "tubed"
	Tubeless Tubing = "tubeless"
)

type WaterResistance string

const (
	WaterNone        WaterResistance = "none"
	WaterSplash      WaterResistance = "splash"
	WaterSubmersible WaterResistance = "submersible"
)

type Battery string

const (
	BatteryRechargeable Battery = "rechargeable"
	BatteryReplaceable  Battery = "replaceable"
	BatteryDisposable   Battery = "disposable" // built into a disposable pod
)

type Interface string

const (
	InterfaceTouchscreen Interface = "touchscreen"
	InterfaceButtons     Interface = "buttons"
	InterfacePhone       Interface = "phone"
)

type Aggressiveness string

const (
	Conservative Aggressiveness = "conservative"
	Moderate     Aggressiveness = "moderate"
	Aggressive   Aggressiveness = "aggressive"
)

type Coverage string

const (
	CoveragePharmacy Coverage = "pharmacy"
	CoverageDME      Coverage = "dme"
	CoverageBoth     Coverage = "both"
)

type SupportBreadth string

const (
	SupportLimited  SupportBreadth = "limited"
	SupportModerate SupportBreadth = "moderate"
	SupportBroad    SupportBreadth = "broad"
)

type UpdateMechanism string

const (
	UpdatesRemote   UpdateMechanism = "remote"
	UpdatesHardware UpdateMechanism = "hardware"
)

// Dimensions are the attributes the scoring engine reads.
type Dimensions struct {
	Tubing               Tubing          `json:"tubing"`
	Discreet             bool            `json:"discreet"`
	WaterResistance      WaterResistance `json:"water_resistance"`
	WaterDepthMeters     float64         `json:"water_depth_meters"`
	Battery              Battery         `json:"battery"`
	Interface            Interface       `json:"interface"`
	Aggressiveness       Aggressiveness  `json:"aggressiveness"`
	AdjustableTargets    bool            `json:"adjustable_targets"`
	ExerciseMode         bool            `json:"exercise_mode"`
	CarbCountingRequired bool            `json:"carb_counting_required"`
	Coverage             Coverage        `json:"coverage"`
	FinancialAssistance  bool            `json:"financial_assistance"`
	ClinicSupport        SupportBreadth  `json:"clinic_support"`
	RemoteMonitoring     bool            `json:"remote_monitoring"`
	Updates              UpdateMechanism `json:"updates"`
}

// Candidate is one pump eligible for recommendation. Candidates are values;
// nothing in the catalog hands out pointers into its backing slice.
type Candidate struct {
	Name         string     `json:"name"`
	Manufacturer string     `json:"manufacturer"`
	Dimensions   Dimensions `json:"dimensions"`
}

// Catalog is an ordered, immutable list of candidates. Declaration order is
// the canonical order used to break scoring ties.
type Catalog struct {
	candidates []Candidate
}

// New builds a catalog from candidates in the given order.
func New(candidates ...Candidate) *Catalog {
	cp := make([]Candidate, len(candidates))
	copy(cp, candidates)
	return &Catalog{candidates: cp}
}

// Candidates returns a copy of the catalog in canonical order.
func (c *Catalog) Candidates() []Candidate {
	cp := make([]Candidate, len(c.candidates))
	copy(cp, c.candidates)
	return cp
}

// Len returns the number of candidates.
func (c *Catalog) Len() int { return len(c.candidates) }

// Lookup finds a candidate by name, ignoring case and surrounding whitespace.
func (c *Catalog) Lookup(name string) (Candidate, bool) {
	name = strings.TrimSpace(name)
	for _, cand := range c.candidates {
		if strings.EqualFold(cand.Name, name) {
			return cand, true
		}
	}
	return Candidate{}, false
}

// Names returns candidate names in canonical order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		names[i] = cand.Name
	}
	return names
}

// Default returns the built-in pump catalog.
func Default() *Catalog {
	return New(defaultCandidates...)
}

var defaultCandidates = []Candidate{
	{
		Name:         "Omnipod 5",
		Manufacturer: "Insulet",
		Dimensions: Dimensions{
			Tubing:               Tubeless,
			Discreet:             true,
			WaterResistance:      WaterSubmersible,
			WaterDepthMeters:     7.6,
			Battery:              BatteryDisposable,
			Interface:            InterfacePhone,
			Aggressiveness:       Moderate,
			AdjustableTargets:    true,
			ExerciseMode:         true,
			CarbCountingRequired: true,
			Coverage:             CoveragePharmacy,
			FinancialAssistance:  true,
			ClinicSupport:        SupportBroad,
			RemoteMonitoring:     true,
			Updates:              UpdatesRemote,
		},
	},
	{
		Name:         "Tandem t:slim X2",
		Manufacturer: "Tandem Diabetes Care",
		Dimensions: Dimensions{
			Tubing:               Tubed,
			Discreet:             false,
			WaterResistance:      WaterSplash,
			WaterDepthMeters:     0.9,
			Battery:              BatteryRechargeable,
			Interface:            InterfaceTouchscreen,
			Aggressiveness:       Aggressive,
			AdjustableTargets:    false,
			ExerciseMode:         true,
			CarbCountingRequired: true,
			Coverage:             CoverageDME,
			FinancialAssistance:  true,
			ClinicSupport:        SupportBroad,
			RemoteMonitoring:     true,
			Updates:              UpdatesRemote,
		},
	},
	{
		Name:         "Tandem Mobi",
		Manufacturer: "Tandem Diabetes Care",
		Dimensions: Dimensions{
			Tubing:               Tubed,
			Discreet:             true,
			WaterResistance:      WaterSubmersible,
			WaterDepthMeters:     2.4,
			Battery:              BatteryRechargeable,
			Interface:            InterfacePhone,
			Aggressiveness:       Aggressive,
			AdjustableTargets:    false,
			ExerciseMode:         true,
			CarbCountingRequired: true,
			Coverage:             CoverageBoth,
			FinancialAssistance:  true,
			ClinicSupport:        SupportModerate,
			RemoteMonitoring:     true,
			Updates:              UpdatesRemote,
		},
	},
	{
		Name:         "Medtronic MiniMed 780G",
		Manufacturer: "Medtronic",
		Dimensions: Dimensions{
			Tubing:               Tubed,
			Discreet:             false,
			WaterResistance:      WaterSubmersible,
			WaterDepthMeters:     3.6,
			Battery:              BatteryReplaceable,
			Interface:            InterfaceButtons,
			Aggressiveness:       Aggressive,
			AdjustableTargets:    true,
			ExerciseMode:         true,
			CarbCountingRequired: true,
			Coverage:             CoverageDME,
			FinancialAssistance:  false,
			ClinicSupport:        SupportBroad,
			RemoteMonitoring:     true,
			Updates:              UpdatesHardware,
		},
	},
	{
		Name:         "Beta Bionics iLet",
		Manufacturer: "Beta Bionics",
		Dimensions: Dimensions{
			Tubing:               Tubed,
			Discreet:             false,
			WaterResistance:      WaterSplash,
			WaterDepthMeters:     1.0,
			Battery:              BatteryRechargeable,
			Interface:            InterfaceTouchscreen,
			Aggressiveness:       Conservative,
			AdjustableTargets:    false,
			ExerciseMode:         false,
			CarbCountingRequired: false,
			Coverage:             CoverageBoth,
			FinancialAssistance:  true,
			ClinicSupport:        SupportModerate,
			RemoteMonitoring:     false,
			Updates:              UpdatesRemote,
		},
	},
	{
		Name:         "Sequel twiist",
		Manufacturer: "Sequel Med Tech",
		Dimensions: Dimensions{
			Tubing:               Tubed,
			Discreet:             true,
			WaterResistance:      WaterSplash,
			WaterDepthMeters:     0.9,
			Battery:              BatteryReplaceable,
			Interface:            InterfacePhone,
			Aggressiveness:       Moderate,
			AdjustableTargets:    true,
			ExerciseMode:         true,
			CarbCountingRequired: true,
			Coverage:             CoverageDME,
			FinancialAssistance:  false,
			ClinicSupport:        SupportLimited,
			RemoteMonitoring:     true,
			Updates:              UpdatesRemote,
		},
	},
}
