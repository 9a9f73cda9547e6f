// Package video adapts an OpenCV video capture into the pipeline's frame
// provider: seek to a timestamp, decode, rescale and crop the ROI.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/opencv/conversion"
	"espresso-flow-vision/internal/pipeline"

	"gocv.io/x/gocv"
)

const (
	MinScale = 0.3
	MaxScale = 1.0

	// PreviewMaxOffset caps how far into the video the preview frame is taken.
	PreviewMaxOffset = 5.0
)

var ErrInvalidVideo = errors.New("invalid video")

type Options struct {
	Scale float64
	ROI   frames.ROI
}

type Info struct {
	Path       string
	FPS        float64
	// FrameCount is the container's estimate; LastFrame is the last index that
	// actually decoded when the video was opened.
	FrameCount int
	LastFrame  int
	Width      int
	Height     int
	Duration   float64
}

// Capture is a single-cursor provider; calls are serialized.
type Capture struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	info    Info
	opts    Options
	frame   gocv.Mat
	closed  bool
}

var _ pipeline.FrameProvider = (*Capture)(nil)

func Open(path string, opts Options) (*Capture, error) {
	if opts.Scale == 0 {
		opts.Scale = MaxScale
	}
	if opts.Scale < MinScale || opts.Scale > MaxScale {
		return nil, fmt.Errorf("scale %.2f outside [%.1f, %.1f]", opts.Scale, MinScale, MaxScale)
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s could not be opened", ErrInvalidVideo, path)
	}

	info := Info{
		Path:       path,
		FPS:        capture.Get(gocv.VideoCaptureFPS),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if !(info.FPS > 0) || info.FrameCount <= 0 {
		capture.Close()
		return nil, fmt.Errorf("%w: %s reports fps %.2f and %d frames", ErrInvalidVideo, path, info.FPS, info.FrameCount)
	}

	c := &Capture{
		capture: capture,
		opts:    opts,
		frame:   gocv.NewMat(),
	}
	info.LastFrame = LastDecodable(info.FrameCount-1, c.readableAt)
	if info.LastFrame < 0 {
		c.frame.Close()
		capture.Close()
		return nil, fmt.Errorf("%w: %s has no decodable frames", ErrInvalidVideo, path)
	}
	info.Duration = float64(info.LastFrame) / info.FPS
	c.info = info
	capture.Set(gocv.VideoCapturePosFrames, 0)
	return c, nil
}

// LastDecodable returns the highest index in [0, last] for which readable
// holds, assuming readable is true up to some index and false after it.
// It returns -1 when no index is readable.
func LastDecodable(last int, readable func(index int) bool) int {
	if last < 0 {
		return -1
	}
	if readable(last) {
		return last
	}
	lo, hi := -1, last
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if readable(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func (c *Capture) readableAt(index int) bool {
	c.capture.Set(gocv.VideoCapturePosFrames, float64(index))
	return c.capture.Read(&c.frame) && !c.frame.Empty()
}

func (c *Capture) Info() Info {
	return c.info
}

func (c *Capture) Duration() float64 {
	return c.info.Duration
}

// PreviewTime is the timestamp used for a representative still.
func (c *Capture) PreviewTime() float64 {
	return PreviewTimeFor(c.info.Duration)
}

func PreviewTimeFor(duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return math.Min(PreviewMaxOffset, 0.25*duration)
}

// ScaledROI returns the crop rectangle in scaled frame coordinates.
func (c *Capture) ScaledROI() image.Rectangle {
	w, h := ScaledSize(c.info.Width, c.info.Height, c.opts.Scale)
	return c.opts.ROI.Scale(c.opts.Scale).Clip(w, h)
}

func ScaledSize(width, height int, scale float64) (int, int) {
	return max(1, int(math.Round(float64(width)*scale))), max(1, int(math.Round(float64(height)*scale)))
}

// Sample decodes the frame at t and returns the scaled ROI as RGBA.
func (c *Capture) Sample(ctx context.Context, t float64) (frames.PixelRegion, error) {
	if err := ctx.Err(); err != nil {
		return frames.PixelRegion{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	scaled, err := c.decode(t)
	if err != nil {
		return frames.PixelRegion{}, err
	}
	defer scaled.Close()

	rect := c.opts.ROI.Scale(c.opts.Scale).Clip(scaled.Cols(), scaled.Rows())
	if rect.Empty() {
		return frames.PixelRegion{}, nil
	}
	region, err := conversion.FrameToRegion(scaled, rect)
	if err != nil {
		return frames.PixelRegion{}, fmt.Errorf("%w: %v", pipeline.ErrFrameUnavailable, err)
	}
	return region, nil
}

// Frame decodes the scaled full BGR frame at t. The caller closes the result.
func (c *Capture) Frame(ctx context.Context, t float64) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.NewMat(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decode(t)
}

func (c *Capture) decode(t float64) (gocv.Mat, error) {
	if c.closed {
		return gocv.NewMat(), fmt.Errorf("%w: capture closed", pipeline.ErrFrameUnavailable)
	}

	t = math.Max(0, math.Min(t, c.info.Duration))
	c.capture.Set(gocv.VideoCapturePosMsec, t*1000)
	if !c.capture.Read(&c.frame) || c.frame.Empty() {
		// Some containers refuse millisecond seeks onto the final frame.
		c.capture.Set(gocv.VideoCapturePosFrames, math.Round(t*c.info.FPS))
		if !c.capture.Read(&c.frame) || c.frame.Empty() {
			return gocv.NewMat(), fmt.Errorf("%w: no frame at %.3fs", pipeline.ErrFrameUnavailable, t)
		}
	}

	if c.opts.Scale == MaxScale {
		return c.frame.Clone(), nil
	}
	w, h := ScaledSize(c.frame.Cols(), c.frame.Rows(), c.opts.Scale)
	scaled := gocv.NewMat()
	gocv.Resize(c.frame, &scaled, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return scaled, nil
}

func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.frame.Close()
	return c.capture.Close()
}

// Shutdown lets the capture be registered with the shutdown manager.
func (c *Capture) Shutdown() {
	_ = c.Close()
}
