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

const (
	ParamBlurKernel = "blur_kernel"
	ParamBlurSigma  = "blur_sigma"
)

// GaussianFilter smooths sensor noise before thresholding. Sigma 0 lets
// OpenCV derive it from the kernel size.
type GaussianFilter struct{}

func NewGaussianFilter() *GaussianFilter {
	return &GaussianFilter{}
}

func (g *GaussianFilter) Name() string {
	return "gaussian_filter"
}

func (g *GaussianFilter) ShouldExecute(params chain.Params) bool {
	return params.Int(ParamBlurKernel, 3) > 1
}

func (g *GaussianFilter) Apply(ctx context.Context, scope *memory.Scope, input *safe.Mat, params chain.Params) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(input, g.Name()); err != nil {
		return nil, err
	}

	kernelSize := params.Int(ParamBlurKernel, 3)
	if err := safe.ValidateKernel(kernelSize, g.Name()); err != nil {
		return nil, err
	}
	sigma := params.Float(ParamBlurSigma, 0)

	dst, err := scope.NewMat(input.Rows(), input.Cols(), input.Type(), "blur")
	if err != nil {
		return nil, fmt.Errorf("failed to create destination Mat: %w", err)
	}

	gocv.GaussianBlur(input.GetMat(), dst.Ptr(), image.Point{X: kernelSize, Y: kernelSize}, sigma, sigma, gocv.BorderDefault)

	return dst, nil
}
