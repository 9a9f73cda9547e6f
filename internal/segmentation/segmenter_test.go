package segmentation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"espresso-flow-vision/internal/config"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/segmentation"
)

func defaultSegmentation() config.Segmentation {
	return config.Default().Segmentation
}

// syntheticRegion paints a light background with dark vertical bars.
func syntheticRegion(width, height int, bars []int, barWidth int) frames.PixelRegion {
	pix := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := byte(200)
			for _, bx := range bars {
				if x >= bx && x < bx+barWidth && y >= 5 && y < height-5 {
					v = 30
				}
			}
			i := (y*width + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = v, v, v, 255
		}
	}
	return frames.PixelRegion{Width: width, Height: height, Pix: pix}
}

func TestNewRejectsEvenBlockSize(t *testing.T) {
	cfg := defaultSegmentation()
	cfg.BlockSize = 20
	if _, err := segmentation.New(cfg, nil, nil); err == nil {
		t.Fatal("expected error for even block size")
	}
}

func TestStepsOrder(t *testing.T) {
	seg, err := segmentation.New(defaultSegmentation(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{"grayscale_converter", "gaussian_filter", "adaptive_threshold", "morphology_filter"}
	got := seg.Steps()
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("steps = %v, want %v", got, want)
		}
	}
}

func TestSegmentEmptyRegion(t *testing.T) {
	seg, err := segmentation.New(defaultSegmentation(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mask, err := seg.Segment(context.Background(), frames.PixelRegion{})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if mask.Foreground() != 0 {
		t.Fatalf("expected empty mask, got %d foreground pixels", mask.Foreground())
	}
}

func TestSegmentUniformRegionHasNoForeground(t *testing.T) {
	seg, err := segmentation.New(defaultSegmentation(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mask, err := seg.Segment(context.Background(), syntheticRegion(64, 48, nil, 0))
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if mask.Width != 64 || mask.Height != 48 {
		t.Fatalf("mask size = %dx%d, want 64x48", mask.Width, mask.Height)
	}
	if mask.Foreground() != 0 {
		t.Fatalf("uniform region produced %d foreground pixels", mask.Foreground())
	}
}

func TestSegmentDetectsDarkBars(t *testing.T) {
	mem := memory.NewManager(nil)
	seg, err := segmentation.New(defaultSegmentation(), mem, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	region := syntheticRegion(96, 64, []int{20, 60}, 6)

	mask, err := seg.Segment(context.Background(), region)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if !mask.At(22, 32) || !mask.At(62, 32) {
		t.Fatal("expected bar centres to be foreground")
	}
	if mask.At(40, 32) {
		t.Fatal("expected background between bars")
	}

	if stats := mem.GetStats(); stats.ActiveMats != 0 {
		t.Fatalf("active mats after Segment = %d, want 0", stats.ActiveMats)
	}
}

func TestObserveStepsSeesEveryStep(t *testing.T) {
	seg, err := segmentation.New(defaultSegmentation(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seen := map[string]int{}
	seg.ObserveSteps(func(step string, elapsed time.Duration) {
		if elapsed < 0 {
			t.Fatalf("step %s elapsed = %v", step, elapsed)
		}
		seen[step]++
	})

	if _, err := seg.Segment(context.Background(), syntheticRegion(48, 32, []int{20}, 4)); err != nil {
		t.Fatalf("Segment: %v", err)
	}
	for _, step := range seg.Steps() {
		if seen[step] != 1 {
			t.Fatalf("observed %v, want each of %v once", seen, seg.Steps())
		}
	}

	// Empty regions never enter the chain.
	if _, err := seg.Segment(context.Background(), frames.PixelRegion{}); err != nil {
		t.Fatalf("Segment empty: %v", err)
	}
	if seen["grayscale_converter"] != 1 {
		t.Fatalf("empty region ran the chain: %v", seen)
	}
}

func TestSegmentHonoursCancellation(t *testing.T) {
	seg, err := segmentation.New(defaultSegmentation(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = seg.Segment(ctx, syntheticRegion(32, 32, nil, 0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
