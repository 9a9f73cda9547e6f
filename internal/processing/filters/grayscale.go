package filters

import (
	"context"
	"fmt"

	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/opencv/safe"
	"espresso-flow-vision/internal/processing/chain"

	"gocv.io/x/gocv"
)

// GrayscaleConverter reduces RGBA input to a single luminance channel.
type GrayscaleConverter struct{}

func NewGrayscaleConverter() *GrayscaleConverter {
	return &GrayscaleConverter{}
}

func (g *GrayscaleConverter) Name() string {
	return "grayscale_converter"
}

func (g *GrayscaleConverter) ShouldExecute(params chain.Params) bool {
	return true
}

func (g *GrayscaleConverter) Apply(ctx context.Context, scope *memory.Scope, input *safe.Mat, params chain.Params) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(input, g.Name()); err != nil {
		return nil, err
	}

	if input.Channels() == 1 {
		return input, nil
	}

	dst, err := scope.NewMat(input.Rows(), input.Cols(), gocv.MatTypeCV8UC1, "gray")
	if err != nil {
		return nil, fmt.Errorf("destination Mat creation failed: %w", err)
	}

	switch input.Channels() {
	case 3:
		gocv.CvtColor(input.GetMat(), dst.Ptr(), gocv.ColorRGBToGray)
	case 4:
		gocv.CvtColor(input.GetMat(), dst.Ptr(), gocv.ColorRGBAToGray)
	default:
		return nil, fmt.Errorf("unsupported channel count for grayscale conversion: %d", input.Channels())
	}

	return dst, nil
}
