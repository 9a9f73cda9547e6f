package pipeline

import (
	"context"
	"time"

	"espresso-flow-vision/internal/frames"
)

// FrameProvider is a single stateful cursor over a decoded video. Sample must
// return the region for t clamped to [0, Duration()].
type FrameProvider interface {
	Duration() float64
	Sample(ctx context.Context, t float64) (frames.PixelRegion, error)
}

type Segmenter interface {
	Segment(ctx context.Context, region frames.PixelRegion) (frames.BinaryMask, error)
}

type ComponentExtractor interface {
	Extract(mask frames.BinaryMask, minArea int) ([]int, error)
}

type TimingTracker interface {
	StartTiming(parent context.Context, operation string) context.Context
	EndTiming(ctx context.Context) time.Duration
}
