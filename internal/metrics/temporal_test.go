package metrics

import (
	"math"
	"testing"

	"espresso-flow-vision/internal/frames"
)

func seriesFromJets(jets []int, areas []int) frames.Series {
	s := make(frames.Series, len(jets))
	for i, j := range jets {
		s[i] = frames.FrameSample{T: float64(i) / 10, Jets: j}
		if areas != nil {
			s[i].Area = areas[i]
		}
	}
	return s
}

func TestAggregateSingleSpike(t *testing.T) {
	s := seriesFromJets([]int{2, 2, 2, 2, 6, 2, 2, 2, 2, 2}, nil)
	got := Aggregate(s, Calibration{SpikeDelta: 2, SpikeMinJets: 3, AreaJumpFactor: 1.35})

	if got.SpikeCount != 1 {
		t.Fatalf("spikes = %d, want 1", got.SpikeCount)
	}
	if len(got.SpikeIndices) != 1 || got.SpikeIndices[0] != 4 {
		t.Fatalf("spike indices = %v, want [4]", got.SpikeIndices)
	}
	if !got.Flags[4].Spike {
		t.Fatal("frame 4 should be flagged")
	}
	if got.SpikeRate != 0.1 {
		t.Fatalf("spike rate = %v, want 0.1", got.SpikeRate)
	}
	if math.Abs(got.JetsMean-2.4) > 1e-9 {
		t.Fatalf("mean = %v", got.JetsMean)
	}
	if math.Abs(got.JetsStd-1.2) > 1e-9 {
		t.Fatalf("std = %v, want 1.2", got.JetsStd)
	}
	if math.Abs(got.JetsCV-0.5) > 1e-9 {
		t.Fatalf("cv = %v, want 0.5", got.JetsCV)
	}
}

func TestAggregateSpikeNeedsMinimumJets(t *testing.T) {
	s := seriesFromJets([]int{0, 2, 0, 2}, nil)
	got := Aggregate(s, DefaultCalibration())
	if got.SpikeCount != 0 {
		t.Fatalf("spikes below spikeMinJets should not count, got %d", got.SpikeCount)
	}
}

func TestAggregateAreaJumps(t *testing.T) {
	s := seriesFromJets([]int{1, 1, 1, 1, 1}, []int{0, 100, 135, 200, 100})
	got := Aggregate(s, DefaultCalibration())
	// 0->100 skipped (prev 0), 100->135 not strictly greater, 135->200 jump.
	if got.AreaJumpCount != 1 || !got.Flags[3].AreaJump {
		t.Fatalf("area jumps = %d flags=%v", got.AreaJumpCount, got.Flags)
	}
	if math.Abs(got.AreaJumpRate-0.2) > 1e-12 {
		t.Fatalf("area jump rate = %v", got.AreaJumpRate)
	}
}

func TestAggregateDegenerateSeries(t *testing.T) {
	got := Aggregate(nil, DefaultCalibration())
	if got.Frames != 0 || got.JetsCV != 0 || got.SpikeRate != 0 {
		t.Fatalf("empty aggregate = %+v", got)
	}

	zeros := Aggregate(seriesFromJets([]int{0, 0, 0}, []int{0, 0, 0}), DefaultCalibration())
	if zeros.JetsMean != 0 || zeros.JetsCV != 0 || zeros.AreaJumpCount != 0 {
		t.Fatalf("all-zero aggregate = %+v", zeros)
	}
}

func TestEarlySpikeFraction(t *testing.T) {
	s := seriesFromJets([]int{0, 4, 0, 4, 4, 4, 4, 4, 0, 4, 4, 4}, nil)
	got := Aggregate(s, DefaultCalibration())
	// spikes at 1, 3 and 9; first third of 12 frames is indices 0..3.
	if got.SpikeCount != 3 {
		t.Fatalf("spikes = %d (%v)", got.SpikeCount, got.SpikeIndices)
	}
	if frac := got.EarlySpikeFraction(); math.Abs(frac-2.0/3.0) > 1e-12 {
		t.Fatalf("early fraction = %v", frac)
	}
	if (Temporal{}).EarlySpikeFraction() != 0 {
		t.Fatal("no spikes should give 0")
	}
}
