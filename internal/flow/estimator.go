// Package flow apportions a known total beverage flow across detected streams
// by instantaneous pixel-area share and summarizes how concentrated it is.
package flow

import (
	"math"
	"sort"

	"espresso-flow-vision/internal/frames"
)

// Input carries the externally supplied quantities. OutputMassG is nil when the
// user did not weigh the shot.
type Input struct {
	OutputMassG *float64
	DurationSec float64
}

// Usable reports whether the estimator can run for this input.
func (in Input) Usable() bool {
	if in.OutputMassG == nil {
		return false
	}
	m := *in.OutputMassG
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return false
	}
	return in.DurationSec > 0 && !math.IsInf(in.DurationSec, 0)
}

// FrameFlow is the per-frame decomposition. Known is false for frames without components.
type FrameFlow struct {
	Known    bool      `cbor:"known"`
	Shares   []float64 `cbor:"shares,omitempty"`
	Flows    []float64 `cbor:"flows,omitempty"`
	Gini     float64   `cbor:"gini"`
	MaxShare float64   `cbor:"max_share"`
}

// Result summarizes one estimation over a windowed series.
type Result struct {
	AvgFlowGPS  float64
	GiniMed     *float64
	MaxShareMed *float64
	Frames      []FrameFlow
}

// Estimate returns nil when the input is not usable; absence is distinct from zero.
func Estimate(series frames.Series, in Input) *Result {
	if !in.Usable() {
		return nil
	}
	avg := *in.OutputMassG / in.DurationSec
	out := &Result{AvgFlowGPS: avg, Frames: make([]FrameFlow, len(series))}

	var ginis, maxShares []float64
	for i, f := range series {
		ff := Decompose(f.Components, avg)
		out.Frames[i] = ff
		if !ff.Known {
			continue
		}
		ginis = append(ginis, ff.Gini)
		maxShares = append(maxShares, ff.MaxShare)
	}

	if len(ginis) > 0 {
		g := Median(ginis)
		m := Median(maxShares)
		out.GiniMed = &g
		out.MaxShareMed = &m
	}
	return out
}

// Decompose splits avgFlow across one frame's component areas.
func Decompose(areas []int, avgFlow float64) FrameFlow {
	if len(areas) == 0 {
		return FrameFlow{}
	}
	total := 0
	for _, a := range areas {
		total += a
	}
	if total <= 0 {
		return FrameFlow{}
	}

	ff := FrameFlow{
		Known:  true,
		Shares: make([]float64, len(areas)),
		Flows:  make([]float64, len(areas)),
	}
	for k, a := range areas {
		share := float64(a) / float64(total)
		ff.Shares[k] = share
		ff.Flows[k] = share * avgFlow
		ff.MaxShare = max(ff.MaxShare, share)
	}
	ff.Gini = Gini(ff.Flows)
	return ff
}

// Gini is the inequality of values, 0 for empty or all-zero input.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	weighted := 0.0
	for i, x := range sorted {
		sum += x
		weighted += float64(2*(i+1)-n-1) * x
	}
	if sum <= 0 {
		return 0
	}
	g := weighted / (float64(n) * sum)
	return math.Min(1, math.Max(0, g))
}

// Median of values; the mean of the two middle elements for even lengths.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
