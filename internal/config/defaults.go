package config

const (
	defaultConfigPath  = "~/.config/espresso-flow/config.toml"
	projectConfigName  = "espresso-flow.toml"
	defaultDataDir     = "~/.local/share/espresso-flow"
	defaultHistoryFile = "history.db"
	defaultLogFormat   = "console"
	defaultLogLevel    = "info"

	defaultScale        = 0.6
	defaultSampleRateHz = 10
	defaultMinBlobArea  = 35

	defaultBlurKernel = 3
	defaultBlockSize  = 21
	defaultBias       = 5
	defaultOpenKernel = 3

	defaultThresholdRatio = 0.12
	defaultDebounceFrames = 3

	defaultSpikeDelta     = 2
	defaultSpikeMinJets   = 3
	defaultAreaJumpFactor = 1.35

	defaultPreviewMaxWidth = 960
	defaultMinBoxArea      = 40
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Analysis: Analysis{
			Scale:        defaultScale,
			SampleRateHz: defaultSampleRateHz,
			MinBlobArea:  defaultMinBlobArea,
		},
		Segmentation: Segmentation{
			BlurKernel: defaultBlurKernel,
			BlockSize:  defaultBlockSize,
			Bias:       defaultBias,
			OpenKernel: defaultOpenKernel,
		},
		Window: Window{
			ThresholdRatio: defaultThresholdRatio,
			DebounceFrames: defaultDebounceFrames,
		},
		Calibration: Calibration{
			SpikeDelta:     defaultSpikeDelta,
			SpikeMinJets:   defaultSpikeMinJets,
			AreaJumpFactor: defaultAreaJumpFactor,
		},
		Score: Score{
			CVMax:           1.0,
			CVPoints:        50,
			SpikeRateMax:    0.30,
			SpikePoints:     35,
			AreaJumpRateMax: 0.20,
			AreaJumpPoints:  15,
		},
		Recommendations: Recommendations{
			EarlySpikeFraction: 0.5,
			HighCV:             0.35,
			LowSpikeRate:       0.05,
			GiniThreshold:      0.3,
			MaxShareThreshold:  0.45,
			AreaSurgeRate:      0.10,
		},
		Preview: Preview{
			MaxWidth:   defaultPreviewMaxWidth,
			MinBoxArea: defaultMinBoxArea,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
