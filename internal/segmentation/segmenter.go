// Package segmentation turns an RGBA frame region into a binary mask of dark,
// jet-like structures using local adaptive thresholding.
package segmentation

import (
	"context"
	"fmt"

	"espresso-flow-vision/internal/config"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/logger"
	"espresso-flow-vision/internal/opencv/conversion"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/processing/chain"
	"espresso-flow-vision/internal/processing/filters"
)

// Segmenter is stateless between calls apart from memory accounting.
type Segmenter struct {
	params chain.Params
	chain  *chain.ProcessingChain
	memory *memory.Manager
	log    logger.Logger
}

// New validates cfg and assembles the gray, blur, threshold and open chain.
func New(cfg config.Segmentation, mem *memory.Manager, log logger.Logger) (*Segmenter, error) {
	if cfg.BlockSize < 3 || cfg.BlockSize%2 == 0 {
		return nil, fmt.Errorf("segmentation: block size %d must be odd and at least 3", cfg.BlockSize)
	}
	if cfg.BlurKernel < 1 || cfg.BlurKernel%2 == 0 {
		return nil, fmt.Errorf("segmentation: blur kernel %d must be odd and positive", cfg.BlurKernel)
	}
	if cfg.OpenKernel < 1 || cfg.OpenKernel%2 == 0 {
		return nil, fmt.Errorf("segmentation: open kernel %d must be odd and positive", cfg.OpenKernel)
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	if mem == nil {
		mem = memory.NewManager(log)
	}

	steps := []chain.ProcessingStep{
		filters.NewGrayscaleConverter(),
		filters.NewGaussianFilter(),
		filters.NewAdaptiveThreshold(),
		filters.NewMorphologyFilter(),
	}

	return &Segmenter{
		params: chain.Params{
			filters.ParamBlurKernel: cfg.BlurKernel,
			filters.ParamBlurSigma:  0.0,
			filters.ParamBlockSize:  cfg.BlockSize,
			filters.ParamBias:       cfg.Bias,
			filters.ParamOpenKernel: cfg.OpenKernel,
		},
		chain:  chain.NewProcessingChain(steps),
		memory: mem,
		log:    log,
	}, nil
}

// Steps names the chain stages in execution order.
func (s *Segmenter) Steps() []string {
	return s.chain.GetStepNames()
}

// ObserveSteps reports each chain step's duration to observer.
func (s *Segmenter) ObserveSteps(observer chain.StepObserver) {
	s.chain.SetObserver(observer)
}

// Segment returns a mask with the region's dimensions. An empty region yields
// an all-background mask.
func (s *Segmenter) Segment(ctx context.Context, region frames.PixelRegion) (frames.BinaryMask, error) {
	if region.Empty() {
		return frames.NewEmptyMask(region.Width, region.Height), nil
	}
	if err := ctx.Err(); err != nil {
		return frames.BinaryMask{}, err
	}

	scope := s.memory.NewScope("segment")
	defer scope.Close()

	input, err := conversion.RegionToMat(scope, region)
	if err != nil {
		return frames.BinaryMask{}, fmt.Errorf("segment: %w", err)
	}

	result, err := s.chain.Execute(ctx, scope, input, s.params)
	if err != nil {
		return frames.BinaryMask{}, fmt.Errorf("segment: %w", err)
	}

	mask, err := conversion.MatToMask(result)
	if err != nil {
		return frames.BinaryMask{}, fmt.Errorf("segment: %w", err)
	}

	s.log.Debug("Segmenter", "segmented region", map[string]interface{}{
		"width":      region.Width,
		"height":     region.Height,
		"foreground": mask.Foreground(),
		"mats":       scope.Len(),
	})
	return mask, nil
}
