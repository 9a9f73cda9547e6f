package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains storage locations.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	HistoryPath string `toml:"history_path"`
}

// Analysis contains the frame sampling settings.
type Analysis struct {
	// Scale resizes decoded frames before segmentation, 0.3 to 1.0.
	Scale        float64 `toml:"scale"`
	SampleRateHz float64 `toml:"sample_rate_hz"`
	MinBlobArea  int     `toml:"min_blob_area"`
}

// Segmentation contains the per-frame mask parameters.
type Segmentation struct {
	BlurKernel int     `toml:"blur_kernel"`
	BlockSize  int     `toml:"block_size"`
	Bias       float64 `toml:"bias"`
	OpenKernel int     `toml:"open_kernel"`
}

// Window contains extraction-window detection settings.
type Window struct {
	ThresholdRatio float64 `toml:"threshold_ratio"`
	DebounceFrames int     `toml:"debounce_frames"`
}

// Calibration contains spike and area-jump thresholds.
type Calibration struct {
	SpikeDelta     int     `toml:"spike_delta"`
	SpikeMinJets   int     `toml:"spike_min_jets"`
	AreaJumpFactor float64 `toml:"area_jump_factor"`
}

// Score contains the channeling score weights and the input domain of each term.
type Score struct {
	CVMax           float64 `toml:"cv_max"`
	CVPoints        float64 `toml:"cv_points"`
	SpikeRateMax    float64 `toml:"spike_rate_max"`
	SpikePoints     float64 `toml:"spike_points"`
	AreaJumpRateMax float64 `toml:"area_jump_rate_max"`
	AreaJumpPoints  float64 `toml:"area_jump_points"`
}

// Recommendations contains the diagnostic rule thresholds.
type Recommendations struct {
	EarlySpikeFraction float64 `toml:"early_spike_fraction"`
	HighCV             float64 `toml:"high_cv"`
	LowSpikeRate       float64 `toml:"low_spike_rate"`
	GiniThreshold      float64 `toml:"gini_threshold"`
	MaxShareThreshold  float64 `toml:"max_share_threshold"`
	AreaSurgeRate      float64 `toml:"area_surge_rate"`
}

// Preview contains settings for the annotated preview frame.
type Preview struct {
	MaxWidth   int `toml:"max_width"`
	MinBoxArea int `toml:"min_box_area"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values.
//
// Sections:
//   - Paths: data directory and experiment history database
//   - Analysis: sampling rate, processing scale and minimum blob area
//   - Segmentation: blur, adaptive threshold and opening parameters
//   - Window: extraction window detection
//   - Calibration: spike and area-jump thresholds
//   - Score: channeling score weights
//   - Recommendations: diagnostic rule thresholds
//   - Preview: annotated preview frame
//   - Logging: log format and level
type Config struct {
	Paths           Paths           `toml:"paths"`
	Analysis        Analysis        `toml:"analysis"`
	Segmentation    Segmentation    `toml:"segmentation"`
	Window          Window          `toml:"window"`
	Calibration     Calibration     `toml:"calibration"`
	Score           Score           `toml:"score"`
	Recommendations Recommendations `toml:"recommendations"`
	Preview         Preview         `toml:"preview"`
	Logging         Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A missing file is not
// an error; defaults are used instead.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data directory and the history database parent.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, filepath.Dir(c.Paths.HistoryPath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}
