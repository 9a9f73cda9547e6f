package pipeline

import (
	"espresso-flow-vision/internal/flow"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/metrics"
	"espresso-flow-vision/internal/score"
)

// ShotMetrics is the result of one successful run. Pointer fields are nil when
// flow estimation was skipped.
type ShotMetrics struct {
	RunID        string
	Frames       int
	SampledCount int
	DurationSec  float64
	Window       frames.ExtractionWindow

	JetsMean      float64
	JetsStd       float64
	JetsCV        float64
	SpikeCount    int
	SpikeRate     float64
	AreaJumpCount int
	AreaJumpRate  float64

	Score           int
	Recommendations []score.Recommendation

	AvgFlowGPS  *float64
	GiniMed     *float64
	MaxShareMed *float64

	// Series is the windowed series; Flags and Flow are index-aligned with it.
	Series frames.Series
	Flags  []metrics.FrameFlags
	Flow   []flow.FrameFlow
}

// FlowKnown reports whether per-frame flow decomposition is available.
func (m *ShotMetrics) FlowKnown() bool {
	return m != nil && m.AvgFlowGPS != nil && len(m.Flow) == len(m.Series)
}

// SpikeRatePct and AreaJumpRatePct are the rates expressed as percentages.
func (m *ShotMetrics) SpikeRatePct() float64 {
	return m.SpikeRate * 100
}

func (m *ShotMetrics) AreaJumpRatePct() float64 {
	return m.AreaJumpRate * 100
}
