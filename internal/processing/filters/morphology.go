package filters

import (
	"context"
	"fmt"
	"image"

	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/opencv/safe"
	"espresso-flow-vision/internal/processing/chain"

	"gocv.io/x/gocv"
)

const ParamOpenKernel = "open_kernel"

// MorphologyFilter opens the binary mask with an elliptical kernel, removing
// speckle smaller than the kernel while keeping jet outlines.
type MorphologyFilter struct{}

func NewMorphologyFilter() *MorphologyFilter {
	return &MorphologyFilter{}
}

func (m *MorphologyFilter) Name() string {
	return "morphology_filter"
}

func (m *MorphologyFilter) ShouldExecute(params chain.Params) bool {
	return params.Int(ParamOpenKernel, 3) > 1
}

func (m *MorphologyFilter) Apply(ctx context.Context, scope *memory.Scope, input *safe.Mat, params chain.Params) (*safe.Mat, error) {
	if err := safe.ValidateGray(input, m.Name()); err != nil {
		return nil, err
	}

	kernelSize := params.Int(ParamOpenKernel, 3)
	if err := safe.ValidateKernel(kernelSize, m.Name()); err != nil {
		return nil, err
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened, err := scope.NewMat(input.Rows(), input.Cols(), input.Type(), "opened")
	if err != nil {
		return nil, fmt.Errorf("failed to create opened Mat: %w", err)
	}

	gocv.MorphologyEx(input.GetMat(), opened.Ptr(), gocv.MorphOpen, kernel)

	return opened, nil
}
