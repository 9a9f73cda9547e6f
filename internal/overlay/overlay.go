// Package overlay renders segmentation previews: the analyzed ROI, the
// foreground mask tinted over the frame and a box around each component.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/opencv/conversion"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/opencv/safe"

	"gocv.io/x/gocv"
)

var (
	ROIColor  = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	BoxColor  = color.RGBA{R: 0, G: 220, B: 90, A: 255}
	MaskColor = color.RGBA{R: 230, G: 40, B: 40, A: 255}
)

const maskAlpha = 0.45

type Options struct {
	// MaxWidth downsizes the rendered preview; 0 keeps the frame width.
	MaxWidth int
}

type Renderer struct {
	memory *memory.Manager
	opts   Options
}

func NewRenderer(mem *memory.Manager, opts Options) *Renderer {
	if mem == nil {
		mem = memory.NewManager(nil)
	}
	return &Renderer{memory: mem, opts: opts}
}

// Render returns an annotated copy of frame, a BGR image. roi is in frame
// coordinates; mask and boxes are relative to roi. The caller closes the result.
func (r *Renderer) Render(frame gocv.Mat, roi image.Rectangle, mask frames.BinaryMask, boxes []image.Rectangle) (gocv.Mat, error) {
	if frame.Empty() || frame.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("render: expected non-empty BGR frame")
	}

	out := frame.Clone()
	roi = roi.Intersect(image.Rect(0, 0, out.Cols(), out.Rows()))

	if !roi.Empty() && !mask.Empty() && mask.Width == roi.Dx() && mask.Height == roi.Dy() && mask.Foreground() > 0 {
		if err := r.tint(&out, roi, mask); err != nil {
			out.Close()
			return gocv.NewMat(), err
		}
	}

	if !roi.Empty() {
		gocv.Rectangle(&out, roi, ROIColor, 2)
		for _, box := range boxes {
			gocv.Rectangle(&out, box.Add(roi.Min), BoxColor, 1)
		}
	}

	if r.opts.MaxWidth > 0 && out.Cols() > r.opts.MaxWidth {
		height := max(1, out.Rows()*r.opts.MaxWidth/out.Cols())
		resized := gocv.NewMat()
		gocv.Resize(out, &resized, image.Pt(r.opts.MaxWidth, height), 0, 0, gocv.InterpolationArea)
		out.Close()
		out = resized
	}
	return out, nil
}

func (r *Renderer) tint(out *gocv.Mat, roi image.Rectangle, mask frames.BinaryMask) error {
	scope := r.memory.NewScope("overlay")
	defer scope.Close()

	maskMat, err := conversion.MaskToMat(scope, mask)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := safe.ValidateGray(maskMat, "overlay tint"); err != nil {
		return err
	}

	view := out.Region(roi)
	defer view.Close()

	solid, err := scope.Adopt(gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(MaskColor.B), float64(MaskColor.G), float64(MaskColor.R), 0),
		roi.Dy(), roi.Dx(), gocv.MatTypeCV8UC3), "solid")
	if err != nil {
		return err
	}
	blended, err := scope.Empty("blended")
	if err != nil {
		return err
	}

	gocv.AddWeighted(view, 1-maskAlpha, solid.GetMat(), maskAlpha, 0, blended.Ptr())
	blended.Ptr().CopyToWithMask(&view, maskMat.GetMat())
	return nil
}

// WritePNG encodes img to path, which must end in .png.
func WritePNG(path string, img gocv.Mat) error {
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return fmt.Errorf("preview path %s must end in .png", path)
	}
	if img.Empty() {
		return fmt.Errorf("preview image is empty")
	}
	if !gocv.IMWrite(path, img) {
		return fmt.Errorf("write preview %s failed", path)
	}
	return nil
}
