package conversion

import (
	"fmt"
	"image"

	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// RegionToMat wraps an RGBA region as a 4-channel Mat owned by scope. The Mat
// aliases region.Pix, which must not change until the scope closes.
func RegionToMat(scope *memory.Scope, region frames.PixelRegion) (*safe.Mat, error) {
	if region.Empty() {
		return nil, fmt.Errorf("region %v is empty", region.Bounds())
	}
	return scope.FromBytes(region.Height, region.Width, gocv.MatTypeCV8UC4, region.Pix, "region")
}

// MatToMask copies a single-channel 8-bit Mat into a BinaryMask. Every non-zero
// pixel becomes foreground.
func MatToMask(src *safe.Mat) (frames.BinaryMask, error) {
	if err := safe.ValidateGray(src, "mask conversion"); err != nil {
		return frames.BinaryMask{}, err
	}

	data, err := src.Bytes()
	if err != nil {
		return frames.BinaryMask{}, err
	}

	mask := frames.NewEmptyMask(src.Cols(), src.Rows())
	if len(data) < len(mask.Pix) {
		return frames.BinaryMask{}, fmt.Errorf("mask data has %d bytes, want %d", len(data), len(mask.Pix))
	}
	for i := range mask.Pix {
		if data[i] != 0 {
			mask.Pix[i] = 255
		}
	}
	return mask, nil
}

// MaskToMat wraps a BinaryMask as an 8-bit single-channel Mat owned by scope.
func MaskToMat(scope *memory.Scope, mask frames.BinaryMask) (*safe.Mat, error) {
	if mask.Empty() {
		return nil, fmt.Errorf("mask is empty")
	}
	return scope.FromBytes(mask.Height, mask.Width, gocv.MatTypeCV8UC1, mask.Pix, "mask")
}

// FrameToRegion crops a decoded BGR frame to rect and converts it to an RGBA
// PixelRegion. An empty rect yields an empty region at rect's origin.
func FrameToRegion(frame gocv.Mat, rect image.Rectangle) (frames.PixelRegion, error) {
	if frame.Empty() {
		return frames.PixelRegion{}, fmt.Errorf("frame is empty")
	}

	rect = rect.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if rect.Empty() {
		return frames.PixelRegion{OffsetX: rect.Min.X, OffsetY: rect.Min.Y}, nil
	}

	// Region shares memory with frame and is not continuous; Clone compacts it.
	view := frame.Region(rect)
	crop := view.Clone()
	view.Close()
	defer crop.Close()

	rgba := gocv.NewMat()
	defer rgba.Close()

	switch crop.Channels() {
	case 1:
		gocv.CvtColor(crop, &rgba, gocv.ColorGrayToRGBA)
	case 3:
		gocv.CvtColor(crop, &rgba, gocv.ColorBGRToRGBA)
	case 4:
		gocv.CvtColor(crop, &rgba, gocv.ColorBGRAToRGBA)
	default:
		return frames.PixelRegion{}, fmt.Errorf("unsupported channel count: %d", crop.Channels())
	}

	pix := rgba.ToBytes()
	region := frames.PixelRegion{
		OffsetX: rect.Min.X,
		OffsetY: rect.Min.Y,
		Width:   rect.Dx(),
		Height:  rect.Dy(),
		Pix:     pix,
	}
	if region.Empty() {
		return frames.PixelRegion{}, fmt.Errorf("converted region has %d bytes, want %d", len(pix), rect.Dx()*rect.Dy()*4)
	}
	return region, nil
}
