package score

// Diagnostics is everything the rule list may look at. GiniMed and MaxShareMed
// are nil when flow estimation was skipped.
type Diagnostics struct {
	CV                 float64
	SpikeCount         int
	SpikeRate          float64
	AreaJumpRate       float64
	EarlySpikeFraction float64
	GiniMed            *float64
	MaxShareMed        *float64
}

// Rules holds the thresholds each rule compares against.
type Rules struct {
	EarlySpikeFraction float64
	HighCV             float64
	LowSpikeRate       float64
	GiniThreshold      float64
	MaxShareThreshold  float64
	AreaSurgeRate      float64
}

func DefaultRules() Rules {
	return Rules{
		EarlySpikeFraction: 0.5,
		HighCV:             0.35,
		LowSpikeRate:       0.05,
		GiniThreshold:      0.3,
		MaxShareThreshold:  0.45,
		AreaSurgeRate:      0.10,
	}
}

type Code string

const (
	CodeEarlySpikes     Code = "early_spikes"
	CodeFilterScreen    Code = "filter_screen"
	CodeUnevenWetting   Code = "uneven_wetting"
	CodeDominantChannel Code = "dominant_channel"
	CodeAreaSurges      Code = "area_surges"
	CodeStableFlow      Code = "stable_flow"
)

type Recommendation struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

type rule struct {
	code    Code
	message string
	fires   func(d Diagnostics, r Rules) bool
}

// Declaration order is output order.
var rules = []rule{
	{
		code:    CodeEarlySpikes,
		message: "Spikes cluster in the first third of the shot: improve puck distribution (WDT, leveling, even tamp).",
		fires: func(d Diagnostics, r Rules) bool {
			return d.SpikeCount > 0 && d.EarlySpikeFraction >= r.EarlySpikeFraction
		},
	},
	{
		code:    CodeFilterScreen,
		message: "Stream count varies a lot without abrupt spikes: try a puck/filter screen to even out water dispersion.",
		fires: func(d Diagnostics, r Rules) bool {
			return d.CV >= r.HighCV && d.SpikeRate < r.LowSpikeRate
		},
	},
	{
		code:    CodeUnevenWetting,
		message: "Flow is unevenly spread across streams: address uneven wetting (longer preinfusion, check distribution).",
		fires: func(d Diagnostics, r Rules) bool {
			return d.GiniMed != nil && *d.GiniMed > r.GiniThreshold
		},
	},
	{
		code:    CodeDominantChannel,
		message: "A single stream carries most of the flow: likely a dominant channel, check tamp level and basket fit.",
		fires: func(d Diagnostics, r Rules) bool {
			return d.MaxShareMed != nil && *d.MaxShareMed > r.MaxShareThreshold
		},
	},
	{
		code:    CodeAreaSurges,
		message: "Frequent sudden area surges: check grind for excess fines or spraying.",
		fires: func(d Diagnostics, r Rules) bool {
			return d.AreaJumpRate >= r.AreaSurgeRate
		},
	},
}

const stableMessage = "Flow looks stable: no channeling signature detected."

// Recommend evaluates every rule independently; several may fire.
func Recommend(d Diagnostics, r Rules) []Recommendation {
	var out []Recommendation
	for _, rl := range rules {
		if rl.fires(d, r) {
			out = append(out, Recommendation{Code: rl.code, Message: rl.message})
		}
	}
	if len(out) == 0 {
		out = append(out, Recommendation{Code: CodeStableFlow, Message: stableMessage})
	}
	return out
}
