package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"espresso-flow-vision/internal/components"
	"espresso-flow-vision/internal/config"
	"espresso-flow-vision/internal/experiment"
	"espresso-flow-vision/internal/export"
	"espresso-flow-vision/internal/flow"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/history"
	"espresso-flow-vision/internal/logger"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/pipeline"
	"espresso-flow-vision/internal/runlock"
	"espresso-flow-vision/internal/segmentation"
	"espresso-flow-vision/internal/shutdown"
	"espresso-flow-vision/internal/timing"
	"espresso-flow-vision/internal/video"
)

type analyzeOptions struct {
	roi     string
	scale   float64
	csvPath string
	save    bool
	brew    experiment.BrewInputs
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze VIDEO",
		Short: "Analyze an extraction video and score the shot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, ctx, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.roi, "roi", "", "Region of interest in source pixels as x,y,w,h (default full frame)")
	cmd.Flags().Float64Var(&opts.scale, "scale", 0, "Processing scale between 0.3 and 1.0 (default from config)")
	cmd.Flags().StringVar(&opts.brew.Output, "output-g", "", "Beverage output mass in grams; enables flow estimation")
	cmd.Flags().StringVar(&opts.brew.Dose, "dose-g", "", "Dry coffee dose in grams")
	cmd.Flags().StringVar(&opts.brew.TDS, "tds", "", "Total dissolved solids in percent")
	cmd.Flags().StringVar(&opts.brew.Balance, "balance", "", "Sensory balance, e.g. sour, balanced, bitter")
	cmd.Flags().StringVar(&opts.brew.Notes, "notes", "", "Free-form tasting notes")
	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "Write the per-frame series to this CSV file")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Save the result to the experiment history")
	return cmd
}

func runAnalyze(cmd *cobra.Command, ctx *commandContext, videoPath string, opts analyzeOptions) error {
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
	scale := resolveScale(opts.scale, cfg)

	lock, err := runlock.Acquire(cfg.Paths.DataDir)
	if err != nil {
		return err
	}

	mgr := shutdown.NewManager(cmd.Context(), log)
	mgr.Register("runlock", lock)
	mgr.Listen()
	defer mgr.Shutdown()

	capture, err := video.Open(videoPath, video.Options{Scale: scale, ROI: roi})
	if err != nil {
		return err
	}
	mgr.Register("video", capture)

	info := capture.Info()
	log.Info("Analyze", "video opened", map[string]interface{}{
		"path":       info.Path,
		"fps":        info.FPS,
		"frames":     info.FrameCount,
		"last_frame": info.LastFrame,
		"duration":   info.Duration,
		"scale":      scale,
		"roi":        roi.String(),
	})

	mem := memory.NewManager(log)
	tracker := timing.NewTracker()
	runner, err := newRunner(cfg, mem, log, tracker)
	if err != nil {
		return err
	}

	result, err := runner.Run(mgr.Context(), capture, flow.Input{OutputMassG: experiment.ParseOptional(opts.brew.Output)})
	if err != nil {
		return fmt.Errorf("analyze %s: %w", filepath.Base(videoPath), err)
	}

	stats := mem.GetStats()
	fields := tracker.Fields()
	fields["peak_mats"] = stats.PeakActiveMats
	fields["leaked_mats"] = stats.ActiveMats
	if leaks := mem.Leaks(); len(leaks) > 0 {
		fields["leaked_tags"] = strings.Join(leaks, ",")
	}
	log.Debug("Analyze", "run statistics", fields)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderMetrics(result))
	fmt.Fprintln(out, renderRecommendations(result))

	if path := strings.TrimSpace(opts.csvPath); path != "" {
		if err := writeShotCSV(path, result); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote per-frame series to %s\n", path)
	}

	if opts.save {
		exp := experiment.New(videoPath, result, opts.brew, time.Now())
		store, err := history.Open(cfg.Paths.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Save(cmd.Context(), &exp); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved experiment %d\n", exp.ID)
	}
	return nil
}

func newRunner(cfg *config.Config, mem *memory.Manager, log logger.Logger, tracker *timing.Tracker) (*pipeline.Runner, error) {
	seg, err := segmentation.New(cfg.Segmentation, mem, log)
	if err != nil {
		return nil, err
	}
	seg.ObserveSteps(func(step string, elapsed time.Duration) {
		tracker.Observe("segment/"+step, elapsed)
	})
	return pipeline.NewRunner(pipeline.SettingsFromConfig(*cfg), seg, components.NewExtractor(mem), log, tracker)
}

// resolveScale prefers the flag and falls back to the configured scale.
func resolveScale(flagValue float64, cfg *config.Config) float64 {
	if flagValue > 0 {
		return flagValue
	}
	return cfg.Analysis.Scale
}

func writeShotCSV(path string, result *pipeline.ShotMetrics) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := export.WriteShotCSV(file, result); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
