// Package metrics folds a windowed frame series into temporal flow statistics.
package metrics

import (
	"math"

	"espresso-flow-vision/internal/frames"
)

// Calibration thresholds for spike and area-jump detection.
type Calibration struct {
	SpikeDelta     int
	SpikeMinJets   int
	AreaJumpFactor float64
}

func DefaultCalibration() Calibration {
	return Calibration{SpikeDelta: 2, SpikeMinJets: 3, AreaJumpFactor: 1.35}
}

// FrameFlags marks the events detected on a frame relative to its predecessor.
type FrameFlags struct {
	Spike    bool `cbor:"spike"`
	AreaJump bool `cbor:"area_jump"`
}

// Temporal is the aggregate over one windowed series.
type Temporal struct {
	Frames        int
	JetsMean      float64
	JetsStd       float64
	JetsCV        float64
	SpikeCount    int
	SpikeRate     float64
	AreaJumpCount int
	AreaJumpRate  float64
	// SpikeIndices are window-relative indices of frames flagged as spikes.
	SpikeIndices []int
	Flags        []FrameFlags
}

// EarlySpikeFraction returns the share of spikes that fall in the first third
// of the window, or 0 when there are no spikes.
func (t Temporal) EarlySpikeFraction() float64 {
	if t.SpikeCount == 0 || t.Frames == 0 {
		return 0
	}
	cutoff := float64(t.Frames) / 3
	early := 0
	for _, idx := range t.SpikeIndices {
		if float64(idx) < cutoff {
			early++
		}
	}
	return float64(early) / float64(t.SpikeCount)
}

// Aggregate computes the statistics over the complete series in one pass.
func Aggregate(series frames.Series, cal Calibration) Temporal {
	n := len(series)
	out := Temporal{Frames: n, Flags: make([]FrameFlags, n)}
	if n == 0 {
		return out
	}

	sum := 0.0
	for _, f := range series {
		sum += float64(f.Jets)
	}
	mean := sum / float64(n)

	sq := 0.0
	for _, f := range series {
		d := float64(f.Jets) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))

	out.JetsMean = mean
	out.JetsStd = std
	if mean > 0 {
		out.JetsCV = std / mean
	}

	for i := 1; i < n; i++ {
		prev, cur := series[i-1], series[i]
		if IsSpike(prev.Jets, cur.Jets, cal) {
			out.Flags[i].Spike = true
			out.SpikeCount++
			out.SpikeIndices = append(out.SpikeIndices, i)
		}
		if IsAreaJump(prev.Area, cur.Area, cal) {
			out.Flags[i].AreaJump = true
			out.AreaJumpCount++
		}
	}

	out.SpikeRate = float64(out.SpikeCount) / float64(n)
	out.AreaJumpRate = float64(out.AreaJumpCount) / float64(n)
	return out
}

func IsSpike(prevJets, jets int, cal Calibration) bool {
	return jets >= cal.SpikeMinJets && jets-prevJets >= cal.SpikeDelta
}

func IsAreaJump(prevArea, area int, cal Calibration) bool {
	return prevArea > 0 && float64(area) > float64(prevArea)*cal.AreaJumpFactor
}
