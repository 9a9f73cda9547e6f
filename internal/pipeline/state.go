package pipeline

import "errors"

type State int

const (
	StateIdle State = iota
	StateSamplingFrames
	StateWindowDetection
	StateAggregating
	StateFlowEstimation
	StateScored
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateSamplingFrames:  "sampling_frames",
	StateWindowDetection: "window_detection",
	StateAggregating:     "aggregating",
	StateFlowEstimation:  "flow_estimation",
	StateScored:          "scored",
	StateFailed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether a run in this state has finished.
func (s State) Terminal() bool {
	return s == StateScored || s == StateFailed
}

var (
	// ErrFrameUnavailable wraps any provider failure; the run is aborted.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrRunInProgress is returned when Run is called before the previous run
	// reached a terminal state.
	ErrRunInProgress = errors.New("analysis already in progress")
)
