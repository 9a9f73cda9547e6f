// Package pipeline drives one analysis run: it samples frames from a provider,
// segments and measures each one, then derives the shot metrics.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	"espresso-flow-vision/internal/config"
	"espresso-flow-vision/internal/flow"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/logger"
	"espresso-flow-vision/internal/metrics"
	"espresso-flow-vision/internal/score"
	"espresso-flow-vision/internal/timing"
	"espresso-flow-vision/internal/window"

	"github.com/google/uuid"
)

const component = "Pipeline"

// Settings is the numeric configuration a run needs.
type Settings struct {
	SampleRateHz float64
	MinBlobArea  int
	Window       window.Options
	Calibration  metrics.Calibration
	Weights      score.Weights
	Rules        score.Rules
}

func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		SampleRateHz: cfg.Analysis.SampleRateHz,
		MinBlobArea:  cfg.Analysis.MinBlobArea,
		Window: window.Options{
			ThresholdRatio: cfg.Window.ThresholdRatio,
			Debounce:       cfg.Window.DebounceFrames,
		},
		Calibration: metrics.Calibration{
			SpikeDelta:     cfg.Calibration.SpikeDelta,
			SpikeMinJets:   cfg.Calibration.SpikeMinJets,
			AreaJumpFactor: cfg.Calibration.AreaJumpFactor,
		},
		Weights: score.Weights{
			CVMax:           cfg.Score.CVMax,
			CVPoints:        cfg.Score.CVPoints,
			SpikeRateMax:    cfg.Score.SpikeRateMax,
			SpikePoints:     cfg.Score.SpikePoints,
			AreaJumpRateMax: cfg.Score.AreaJumpRateMax,
			AreaJumpPoints:  cfg.Score.AreaJumpPoints,
		},
		Rules: score.Rules{
			EarlySpikeFraction: cfg.Recommendations.EarlySpikeFraction,
			HighCV:             cfg.Recommendations.HighCV,
			LowSpikeRate:       cfg.Recommendations.LowSpikeRate,
			GiniThreshold:      cfg.Recommendations.GiniThreshold,
			MaxShareThreshold:  cfg.Recommendations.MaxShareThreshold,
			AreaSurgeRate:      cfg.Recommendations.AreaSurgeRate,
		},
	}
}

// ProgressFunc is called after each sampled frame.
type ProgressFunc func(done, total int)

// Runner executes one run at a time. It is safe to share between goroutines;
// overlapping calls to Run fail with ErrRunInProgress.
type Runner struct {
	settings  Settings
	segmenter Segmenter
	extractor ComponentExtractor
	log       logger.Logger
	timing    TimingTracker
	progress  ProgressFunc

	mu      sync.Mutex
	state   State
	running bool
	runID   string
	runLog  logger.Logger
}

func NewRunner(settings Settings, segmenter Segmenter, extractor ComponentExtractor, log logger.Logger, tracker TimingTracker) (*Runner, error) {
	if segmenter == nil || extractor == nil {
		return nil, fmt.Errorf("pipeline: segmenter and extractor are required")
	}
	if !(settings.SampleRateHz > 0) || math.IsInf(settings.SampleRateHz, 0) {
		return nil, fmt.Errorf("pipeline: sample rate %v must be positive", settings.SampleRateHz)
	}
	if settings.MinBlobArea < 1 {
		return nil, fmt.Errorf("pipeline: min blob area %d must be at least 1", settings.MinBlobArea)
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	if tracker == nil {
		tracker = timing.NewTracker()
	}
	return &Runner{
		settings:  settings,
		segmenter: segmenter,
		extractor: extractor,
		log:       log,
		timing:    tracker,
		state:     StateIdle,
	}, nil
}

func (r *Runner) SetProgress(fn ProgressFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = fn
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// FrameTimes returns the sample timestamps for a video of the given duration.
func FrameTimes(duration, rateHz float64) []float64 {
	if !(rateHz > 0) || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil
	}
	if duration < 0 {
		duration = 0
	}
	n := int(math.Floor(duration*rateHz+1e-9)) + 1
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / rateHz
	}
	return times
}

// Run analyzes the provider's video. in.DurationSec is replaced by the
// detected window duration before flow estimation.
func (r *Runner) Run(ctx context.Context, provider FrameProvider, in flow.Input) (*ShotMetrics, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.finish()

	result, err := r.run(ctx, provider, in)
	if err != nil {
		r.transition(StateFailed)
		r.runLogger().Error(component, err, nil)
		return nil, err
	}
	r.transition(StateScored)
	return result, nil
}

func (r *Runner) run(ctx context.Context, provider FrameProvider, in flow.Input) (*ShotMetrics, error) {
	if provider == nil {
		return nil, fmt.Errorf("pipeline: nil frame provider")
	}
	duration := provider.Duration()
	times := FrameTimes(duration, r.settings.SampleRateHz)
	if len(times) == 0 {
		return nil, fmt.Errorf("pipeline: invalid video duration %v", duration)
	}

	r.transition(StateSamplingFrames)
	series, err := r.sample(ctx, provider, times)
	if err != nil {
		return nil, err
	}

	r.transition(StateWindowDetection)
	stage := r.timing.StartTiming(ctx, "window")
	win := window.DetectSeries(series, r.settings.Window)
	windowed := series.Slice(win)
	r.timing.EndTiming(stage)
	r.runLogger().Info(component, "extraction window detected", map[string]interface{}{
		"start_sec": win.StartSec,
		"end_sec":   win.EndSec,
		"frames":    len(windowed),
		"fallback":  win.Fallback,
	})

	r.transition(StateAggregating)
	stage = r.timing.StartTiming(ctx, "aggregate")
	temporal := metrics.Aggregate(windowed, r.settings.Calibration)
	r.timing.EndTiming(stage)

	result := &ShotMetrics{
		RunID:         r.currentRunID(),
		Frames:        temporal.Frames,
		SampledCount:  len(series),
		DurationSec:   win.Duration(),
		Window:        win,
		JetsMean:      temporal.JetsMean,
		JetsStd:       temporal.JetsStd,
		JetsCV:        temporal.JetsCV,
		SpikeCount:    temporal.SpikeCount,
		SpikeRate:     temporal.SpikeRate,
		AreaJumpCount: temporal.AreaJumpCount,
		AreaJumpRate:  temporal.AreaJumpRate,
		Series:        windowed,
		Flags:         temporal.Flags,
	}

	in.DurationSec = win.Duration()
	if in.Usable() {
		r.transition(StateFlowEstimation)
		stage = r.timing.StartTiming(ctx, "flow")
		estimate := flow.Estimate(windowed, in)
		r.timing.EndTiming(stage)
		if estimate != nil {
			avg := estimate.AvgFlowGPS
			result.AvgFlowGPS = &avg
			result.GiniMed = estimate.GiniMed
			result.MaxShareMed = estimate.MaxShareMed
			result.Flow = estimate.Frames
		}
	} else {
		r.runLogger().Debug(component, "flow estimation skipped", map[string]interface{}{
			"output_mass_set": in.OutputMassG != nil,
		})
	}

	stage = r.timing.StartTiming(ctx, "score")
	result.Score = score.Compute(score.Inputs{
		CV:           temporal.JetsCV,
		SpikeRate:    temporal.SpikeRate,
		AreaJumpRate: temporal.AreaJumpRate,
	}, r.settings.Weights)
	result.Recommendations = score.Recommend(score.Diagnostics{
		CV:                 temporal.JetsCV,
		SpikeCount:         temporal.SpikeCount,
		SpikeRate:          temporal.SpikeRate,
		AreaJumpRate:       temporal.AreaJumpRate,
		EarlySpikeFraction: temporal.EarlySpikeFraction(),
		GiniMed:            result.GiniMed,
		MaxShareMed:        result.MaxShareMed,
	}, r.settings.Rules)
	r.timing.EndTiming(stage)

	r.runLogger().Info(component, "analysis scored", map[string]interface{}{
		"score":      result.Score,
		"frames":     result.Frames,
		"jets_mean":  result.JetsMean,
		"spike_rate": result.SpikeRate,
	})
	return result, nil
}

func (r *Runner) sample(ctx context.Context, provider FrameProvider, times []float64) (frames.Series, error) {
	stage := r.timing.StartTiming(ctx, "sampling")
	defer r.timing.EndTiming(stage)

	progress := r.progressFunc()
	series := make(frames.Series, 0, len(times))
	for i, t := range times {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sampling stopped at %.3fs: %w", t, err)
		}

		region, err := provider.Sample(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%w at %.3fs: %v", ErrFrameUnavailable, t, err)
		}

		mask, err := r.segmenter.Segment(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("segment frame at %.3fs: %w", t, err)
		}

		areas, err := r.extractor.Extract(mask, r.settings.MinBlobArea)
		if err != nil {
			return nil, fmt.Errorf("extract components at %.3fs: %w", t, err)
		}

		series = append(series, frames.NewFrameSample(t, areas))
		if progress != nil {
			progress(i+1, len(times))
		}
	}
	return series, nil
}

func (r *Runner) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunInProgress
	}
	r.running = true
	r.runID = uuid.NewString()
	r.runLog = r.log.With("run_id", r.runID)
	r.state = StateIdle
	return nil
}

func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

func (r *Runner) transition(next State) {
	r.mu.Lock()
	prev := r.state
	r.state = next
	log := r.runLog
	r.mu.Unlock()

	log.Debug(component, "state transition", map[string]interface{}{
		"from":   prev.String(),
		"to":     next.String(),
	})
}

func (r *Runner) currentRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

func (r *Runner) runLogger() logger.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runLog
}

func (r *Runner) progressFunc() ProgressFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}
