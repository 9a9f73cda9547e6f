package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"espresso-flow-vision/internal/components"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/opencv/conversion"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/overlay"
	"espresso-flow-vision/internal/segmentation"
	"espresso-flow-vision/internal/video"
)

type previewOptions struct {
	roi   string
	scale float64
	out   string
	at    float64
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	opts := previewOptions{at: -1}

	cmd := &cobra.Command{
		Use:   "preview VIDEO",
		Short: "Render the segmentation of one frame to a PNG for ROI tuning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, ctx, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.roi, "roi", "", "Region of interest in source pixels as x,y,w,h (default full frame)")
	cmd.Flags().Float64Var(&opts.scale, "scale", 0, "Processing scale between 0.3 and 1.0 (default from config)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Destination PNG file")
	cmd.Flags().Float64Var(&opts.at, "at", -1, "Timestamp in seconds (default min(5s, 25% of the video))")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runPreview(cmd *cobra.Command, ctx *commandContext, videoPath string, opts previewOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	log, err := ctx.newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	roi, err := frames.ParseROI(opts.roi)
	if err != nil {
		return err
	}

	capture, err := video.Open(videoPath, video.Options{Scale: resolveScale(opts.scale, cfg), ROI: roi})
	if err != nil {
		return err
	}
	defer capture.Close()

	at := opts.at
	if at < 0 {
		at = capture.PreviewTime()
	}

	frame, err := capture.Frame(cmd.Context(), at)
	if err != nil {
		return err
	}
	defer frame.Close()

	rect := capture.ScaledROI()
	region, err := conversion.FrameToRegion(frame, rect)
	if err != nil {
		return err
	}

	mem := memory.NewManager(log)
	seg, err := segmentation.New(cfg.Segmentation, mem, log)
	if err != nil {
		return err
	}
	mask, err := seg.Segment(cmd.Context(), region)
	if err != nil {
		return err
	}

	extractor := components.NewExtractor(mem)
	areas, err := extractor.Extract(mask, cfg.Analysis.MinBlobArea)
	if err != nil {
		return err
	}
	boxes, err := extractor.Boxes(mask, cfg.Preview.MinBoxArea)
	if err != nil {
		return err
	}

	rendered, err := overlay.NewRenderer(mem, overlay.Options{MaxWidth: cfg.Preview.MaxWidth}).Render(frame, rect, mask, boxes)
	if err != nil {
		return err
	}
	defer rendered.Close()

	if err := overlay.WritePNG(opts.out, rendered); err != nil {
		return err
	}

	sample := frames.NewFrameSample(at, areas)
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote preview at %.2fs to %s: %d jets, %d px foreground area, ROI %s\n",
		at, opts.out, sample.Jets, sample.Area, roi)
	return nil
}
