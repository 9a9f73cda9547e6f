package frames

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// MinROISide is the smallest accepted ROI edge in source pixels.
const MinROISide = 10

// ROI is a rectangle in source-frame pixel coordinates. The zero value means
// "analyze the whole frame".
type ROI struct {
	X int
	Y int
	W int
	H int
}

func (r ROI) IsZero() bool {
	return r.W == 0 && r.H == 0
}

// Scale maps the ROI into a frame resized by factor, rounding each coordinate.
func (r ROI) Scale(factor float64) ROI {
	return ROI{
		X: int(math.Round(float64(r.X) * factor)),
		Y: int(math.Round(float64(r.Y) * factor)),
		W: int(math.Round(float64(r.W) * factor)),
		H: int(math.Round(float64(r.H) * factor)),
	}
}

// Clip intersects the ROI with a width x height frame. A zero ROI expands to the
// whole frame; an ROI outside the frame yields an empty rectangle.
func (r ROI) Clip(width, height int) image.Rectangle {
	frame := image.Rect(0, 0, width, height)
	if r.IsZero() {
		return frame
	}
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H).Intersect(frame)
}

func (r ROI) String() string {
	if r.IsZero() {
		return "full-frame"
	}
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// ParseROI reads "x,y,w,h". An empty string returns the zero ROI.
func ParseROI(value string) (ROI, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ROI{}, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return ROI{}, fmt.Errorf("roi %q: expected x,y,w,h", value)
	}
	nums := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ROI{}, fmt.Errorf("roi %q: %w", value, err)
		}
		nums[i] = n
	}
	roi := ROI{X: nums[0], Y: nums[1], W: nums[2], H: nums[3]}
	if roi.X < 0 || roi.Y < 0 {
		return ROI{}, fmt.Errorf("roi %q: negative origin", value)
	}
	if roi.W < MinROISide || roi.H < MinROISide {
		return ROI{}, fmt.Errorf("roi %q: width and height must be at least %d px", value, MinROISide)
	}
	return roi, nil
}
