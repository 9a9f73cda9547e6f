package frames

import (
	"fmt"
	"image"
)

// PixelRegion is an RGBA crop of one decoded frame. Pix is row-major with a
// stride of 4*Width bytes.
type PixelRegion struct {
	OffsetX int
	OffsetY int
	Width   int
	Height  int
	Pix     []byte
}

// Empty reports whether the region carries no usable pixels, e.g. an ROI that
// fell entirely outside the frame.
func (r PixelRegion) Empty() bool {
	if r.Width <= 0 || r.Height <= 0 {
		return true
	}
	return len(r.Pix) < r.Width*r.Height*4
}

// Bounds returns the region in frame coordinates.
func (r PixelRegion) Bounds() image.Rectangle {
	return image.Rect(r.OffsetX, r.OffsetY, r.OffsetX+r.Width, r.OffsetY+r.Height)
}

// BinaryMask holds one byte per pixel: 255 for foreground, 0 for background.
type BinaryMask struct {
	Width  int
	Height int
	Pix    []byte
}

func NewEmptyMask(width, height int) BinaryMask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return BinaryMask{Width: width, Height: height, Pix: make([]byte, width*height)}
}

// At reports whether the pixel at (x, y) is foreground. Out of range is background.
func (m BinaryMask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x] != 0
}

// Set marks (x, y) as foreground or background.
func (m BinaryMask) Set(x, y int, on bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	if on {
		m.Pix[y*m.Width+x] = 255
	} else {
		m.Pix[y*m.Width+x] = 0
	}
}

func (m BinaryMask) Foreground() int {
	count := 0
	for _, v := range m.Pix {
		if v != 0 {
			count++
		}
	}
	return count
}

func (m BinaryMask) Empty() bool {
	return m.Width <= 0 || m.Height <= 0
}

// FrameSample is one analyzed instant of the video.
type FrameSample struct {
	T          float64 `cbor:"t"`
	Jets       int     `cbor:"jets"`
	Area       int     `cbor:"area"`
	Components []int   `cbor:"components"`
}

// NewFrameSample derives Jets and Area from the retained component areas.
func NewFrameSample(t float64, areas []int) FrameSample {
	components := make([]int, len(areas))
	copy(components, areas)

	total := 0
	for _, a := range components {
		total += a
	}
	return FrameSample{T: t, Jets: len(components), Area: total, Components: components}
}

// Validate checks the jets/area invariants.
func (s FrameSample) Validate() error {
	if s.Jets != len(s.Components) {
		return fmt.Errorf("frame at %.3fs: jets %d does not match %d components", s.T, s.Jets, len(s.Components))
	}
	total := 0
	for _, a := range s.Components {
		if a < 1 {
			return fmt.Errorf("frame at %.3fs: component area %d below 1", s.T, a)
		}
		total += a
	}
	if total != s.Area {
		return fmt.Errorf("frame at %.3fs: area %d does not match component sum %d", s.T, s.Area, total)
	}
	return nil
}

// Series is a time-ordered sequence of samples taken at a fixed rate.
type Series []FrameSample

func (s Series) Areas() []int {
	out := make([]int, len(s))
	for i, f := range s {
		out[i] = f.Area
	}
	return out
}

func (s Series) Jets() []int {
	out := make([]int, len(s))
	for i, f := range s {
		out[i] = f.Jets
	}
	return out
}

// Slice returns a copy of the samples covered by the window, inclusive on both ends.
func (s Series) Slice(w ExtractionWindow) Series {
	if len(s) == 0 {
		return Series{}
	}
	start := max(0, w.StartIndex)
	end := min(len(s)-1, w.EndIndex)
	if end < start {
		return Series{}
	}
	out := make(Series, end-start+1)
	copy(out, s[start:end+1])
	return out
}

// ExtractionWindow is the active-flow sub range of a Series.
type ExtractionWindow struct {
	StartIndex int     `cbor:"start_index"`
	EndIndex   int     `cbor:"end_index"`
	StartSec   float64 `cbor:"start_sec"`
	EndSec     float64 `cbor:"end_sec"`
	Fallback   bool    `cbor:"fallback"`
}

func (w ExtractionWindow) Duration() float64 {
	return w.EndSec - w.StartSec
}

func (w ExtractionWindow) Frames() int {
	if w.EndIndex < w.StartIndex {
		return 0
	}
	return w.EndIndex - w.StartIndex + 1
}
