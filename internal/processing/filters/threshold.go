package filters

import (
	"context"
	"fmt"

	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/opencv/safe"
	"espresso-flow-vision/internal/processing/chain"

	"gocv.io/x/gocv"
)

const (
	ParamBlockSize = "block_size"
	ParamBias      = "bias"
)

// AdaptiveThreshold marks pixels darker than their Gaussian-weighted
// neighbourhood mean minus bias as foreground. Jets are darker than the
// surrounding basket, hence the inverted binary output.
type AdaptiveThreshold struct{}

func NewAdaptiveThreshold() *AdaptiveThreshold {
	return &AdaptiveThreshold{}
}

func (a *AdaptiveThreshold) Name() string {
	return "adaptive_threshold"
}

func (a *AdaptiveThreshold) ShouldExecute(params chain.Params) bool {
	return true
}

func (a *AdaptiveThreshold) Apply(ctx context.Context, scope *memory.Scope, input *safe.Mat, params chain.Params) (*safe.Mat, error) {
	if err := safe.ValidateGray(input, a.Name()); err != nil {
		return nil, err
	}

	blockSize := params.Int(ParamBlockSize, 21)
	if err := safe.ValidateKernel(blockSize, a.Name()); err != nil {
		return nil, err
	}
	if blockSize < 3 {
		return nil, fmt.Errorf("block size %d must be at least 3", blockSize)
	}
	bias := params.Float(ParamBias, 5)

	dst, err := scope.NewMat(input.Rows(), input.Cols(), gocv.MatTypeCV8UC1, "threshold")
	if err != nil {
		return nil, fmt.Errorf("failed to create destination Mat: %w", err)
	}

	gocv.AdaptiveThreshold(input.GetMat(), dst.Ptr(), 255,
		gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, blockSize, float32(bias))

	return dst, nil
}
