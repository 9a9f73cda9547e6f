package config

import (
	"errors"
	"fmt"
)

const (
	MinScale = 0.3
	MaxScale = 1.0
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateSegmentation(); err != nil {
		return err
	}
	if err := c.validateWindow(); err != nil {
		return err
	}
	if err := c.validateCalibration(); err != nil {
		return err
	}
	if err := c.validateScore(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.Scale < MinScale || c.Analysis.Scale > MaxScale {
		return fmt.Errorf("analysis.scale must be between %.1f and %.1f", MinScale, MaxScale)
	}
	if c.Analysis.SampleRateHz <= 0 {
		return errors.New("analysis.sample_rate_hz must be positive")
	}
	if c.Analysis.MinBlobArea < 1 {
		return errors.New("analysis.min_blob_area must be at least 1")
	}
	return nil
}

func (c *Config) validateSegmentation() error {
	oddKernel := func(name string, v int) error {
		if v < 1 || v%2 == 0 {
			return fmt.Errorf("segmentation.%s must be a positive odd number", name)
		}
		return nil
	}
	if err := oddKernel("blur_kernel", c.Segmentation.BlurKernel); err != nil {
		return err
	}
	if err := oddKernel("open_kernel", c.Segmentation.OpenKernel); err != nil {
		return err
	}
	if err := oddKernel("block_size", c.Segmentation.BlockSize); err != nil {
		return err
	}
	if c.Segmentation.BlockSize < 3 {
		return errors.New("segmentation.block_size must be at least 3")
	}
	return nil
}

func (c *Config) validateWindow() error {
	if c.Window.ThresholdRatio < 0 || c.Window.ThresholdRatio > 1 {
		return errors.New("window.threshold_ratio must be between 0 and 1")
	}
	if c.Window.DebounceFrames < 1 {
		return errors.New("window.debounce_frames must be at least 1")
	}
	return nil
}

func (c *Config) validateCalibration() error {
	if c.Calibration.SpikeDelta < 1 {
		return errors.New("calibration.spike_delta must be at least 1")
	}
	if c.Calibration.SpikeMinJets < 0 {
		return errors.New("calibration.spike_min_jets must not be negative")
	}
	if c.Calibration.AreaJumpFactor <= 1 {
		return errors.New("calibration.area_jump_factor must be greater than 1")
	}
	return nil
}

func (c *Config) validateScore() error {
	s := c.Score
	for name, v := range map[string]float64{
		"cv_max":             s.CVMax,
		"spike_rate_max":     s.SpikeRateMax,
		"area_jump_rate_max": s.AreaJumpRateMax,
	} {
		if v <= 0 {
			return fmt.Errorf("score.%s must be positive", name)
		}
	}
	if s.CVPoints < 0 || s.SpikePoints < 0 || s.AreaJumpPoints < 0 {
		return errors.New("score points must not be negative")
	}
	if total := s.CVPoints + s.SpikePoints + s.AreaJumpPoints; total > 100 {
		return fmt.Errorf("score points add up to %.1f, must not exceed 100", total)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
