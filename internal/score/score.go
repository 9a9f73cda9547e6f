// Package score turns aggregated flow statistics into a bounded channeling
// score and a rule-based list of diagnostics.
package score

import "math"

// Weights are the heuristic points and input domains per term. They are tunable,
// not physically derived.
type Weights struct {
	CVMax           float64
	CVPoints        float64
	SpikeRateMax    float64
	SpikePoints     float64
	AreaJumpRateMax float64
	AreaJumpPoints  float64
}

func DefaultWeights() Weights {
	return Weights{
		CVMax:           1.0,
		CVPoints:        50,
		SpikeRateMax:    0.30,
		SpikePoints:     35,
		AreaJumpRateMax: 0.20,
		AreaJumpPoints:  15,
	}
}

type Inputs struct {
	CV           float64
	SpikeRate    float64
	AreaJumpRate float64
}

// Compute returns the channeling score in [0,100]; higher means a stronger
// channeling signal.
func Compute(in Inputs, w Weights) int {
	total := scaled(in.CV, w.CVMax, w.CVPoints) +
		scaled(in.SpikeRate, w.SpikeRateMax, w.SpikePoints) +
		scaled(in.AreaJumpRate, w.AreaJumpRateMax, w.AreaJumpPoints)

	s := int(math.Round(total))
	return min(100, max(0, s))
}

// scaled maps v from [0, domainMax] onto [0, points], clamping v to the domain first.
func scaled(v, domainMax, points float64) float64 {
	if domainMax <= 0 || math.IsNaN(v) {
		return 0
	}
	frac := math.Min(1, math.Max(0, v/domainMax))
	return frac * points
}
