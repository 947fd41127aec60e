package config

import "github.com/mattjoyce/stimforge/internal/motion"

// Config represents the complete stimforge configuration.
type Config struct {
	Log            LogConfig            `yaml:"log"`
	State          StateConfig          `yaml:"state"`
	API            APIConfig            `yaml:"api"`
	Output         OutputConfig         `yaml:"output"`
	General        GeneralConfig        `yaml:"general"`
	Speed          SpeedConfig          `yaml:"speed"`
	AlphaBeta      AlphaBetaConfig      `yaml:"alpha_beta_generation"`
	Frequency      FrequencyConfig      `yaml:"frequency"`
	Volume         VolumeConfig         `yaml:"volume"`
	Pulse          PulseConfig          `yaml:"pulse"`
	Advanced       AdvancedConfig       `yaml:"advanced"`
	Options        OptionsConfig        `yaml:"options"`
	PositionalAxes PositionalAxesConfig `yaml:"positional_axes"`
	Events         EventsConfig         `yaml:"events"`

	// SourcePath is the file the config was loaded from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// StateConfig points at the run ledger database. An empty path disables
// run recording.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the control surface listener.
type APIConfig struct {
	Listen string `yaml:"listen"`
	// Token, when set, is required as "Authorization: Bearer <token>" on
	// every route except /healthz. ${VAR} references are expanded.
	Token string `yaml:"token"`
}

// OutputConfig places final and working channel files. Empty values resolve
// relative to the source file's directory.
type OutputConfig struct {
	Dir     string `yaml:"dir"`
	TempDir string `yaml:"temp_dir"`
}

type GeneralConfig struct {
	RestLevel       float64 `yaml:"rest_level"`
	SpeedWindowSize float64 `yaml:"speed_window_size"`
	AccelWindowSize float64 `yaml:"accel_window_size"`
}

type SpeedConfig struct {
	InterpolationInterval float64 `yaml:"interpolation_interval"`
	NormalizationMethod   string  `yaml:"normalization_method"`
}

// AlphaBetaConfig drives radial synthesis of the alpha/beta pair.
type AlphaBetaConfig struct {
	PointsPerSecond       float64 `yaml:"points_per_second"`
	Arc                   string  `yaml:"arc"`
	RadiusPolicy          string  `yaml:"radius_policy"`
	MinDistanceFromCenter float64 `yaml:"min_distance_from_center"`
	SpeedThresholdPercent float64 `yaml:"speed_threshold_percent"`
	SpeedAtEdgeHz         float64 `yaml:"speed_at_edge_hz"`
}

type FrequencyConfig struct {
	PulseFreqMin               float64 `yaml:"pulse_freq_min"`
	PulseFreqMax               float64 `yaml:"pulse_freq_max"`
	FrequencyRampCombineRatio  float64 `yaml:"frequency_ramp_combine_ratio"`
	PulseFrequencyCombineRatio float64 `yaml:"pulse_frequency_combine_ratio"`
}

type VolumeConfig struct {
	VolumeRampCombineRatio   float64 `yaml:"volume_ramp_combine_ratio"`
	ProstateVolumeMultiplier float64 `yaml:"prostate_volume_multiplier"`
	ProstateRestLevel        float64 `yaml:"prostate_rest_level"`
	RampPercentPerHour       float64 `yaml:"ramp_percent_per_hour"`
	RampRisenValue           float64 `yaml:"ramp_risen_value"`
	StereostimVolumeMin      float64 `yaml:"stereostim_volume_min"`
	StereostimVolumeMax      float64 `yaml:"stereostim_volume_max"`
}

type PulseConfig struct {
	PulseWidthMin          float64 `yaml:"pulse_width_min"`
	PulseWidthMax          float64 `yaml:"pulse_width_max"`
	PulseWidthCombineRatio float64 `yaml:"pulse_width_combine_ratio"`
	BetaMirrorThreshold    float64 `yaml:"beta_mirror_threshold"`
	PulseRiseMin           float64 `yaml:"pulse_rise_min"`
	PulseRiseMax           float64 `yaml:"pulse_rise_max"`
	PulseRiseCombineRatio  float64 `yaml:"pulse_rise_combine_ratio"`
}

// AdvancedConfig enables the optional inverted alternatives.
type AdvancedConfig struct {
	EnablePulseFrequencyInversion bool `yaml:"enable_pulse_frequency_inversion"`
	EnableVolumeInversion         bool `yaml:"enable_volume_inversion"`
	EnableFrequencyInversion      bool `yaml:"enable_frequency_inversion"`
}

type OptionsConfig struct {
	NormalizeVolume         bool `yaml:"normalize_volume"`
	DeleteIntermediaryFiles bool `yaml:"delete_intermediary_files"`
	// OverwriteExistingFiles regenerates channels that already exist instead
	// of keeping them. Existing outputs are otherwise never checked against
	// the current parameters.
	OverwriteExistingFiles bool `yaml:"overwrite_existing_files"`
}

// PositionalAxesConfig selects curve-driven motion axes on top of the
// alpha/beta pair.
type PositionalAxesConfig struct {
	Mode string     `yaml:"mode"`
	E1   AxisConfig `yaml:"e1"`
	E2   AxisConfig `yaml:"e2"`
	E3   AxisConfig `yaml:"e3"`
	E4   AxisConfig `yaml:"e4"`
}

// AxisConfig configures one motion axis.
type AxisConfig struct {
	Enabled bool         `yaml:"enabled"`
	Curve   motion.Curve `yaml:"curve"`
}

// Axis returns the configuration for e1..e4.
func (p PositionalAxesConfig) Axis(name string) (AxisConfig, bool) {
	switch name {
	case "e1":
		return p.E1, true
	case "e2":
		return p.E2, true
	case "e3":
		return p.E3, true
	case "e4":
		return p.E4, true
	}
	return AxisConfig{}, false
}

// MotionAxisMode reports whether e1..e4 generation is active.
func (p PositionalAxesConfig) MotionAxisMode() bool {
	return p.Mode == ModeMotionAxis
}

const (
	ModeMotionAxis = "motion_axis"
	ModeLegacy     = "legacy"
)

// EventsConfig controls the event modulation engine.
type EventsConfig struct {
	// Definitions is the event-definition YAML; empty uses the built-in
	// normalization table with no definitions.
	Definitions      string  `yaml:"definitions"`
	ResampleInterval float64 `yaml:"resample_interval"`
	VolumeHeadroom   float64 `yaml:"volume_headroom"`
	ApplyToLinked    bool    `yaml:"apply_to_linked"`
	Backup           bool    `yaml:"backup"`
}

// Defaults returns the stock configuration.
func Defaults() *Config {
	curves := motion.DefaultCurves()
	return &Config{
		Log:   LogConfig{Level: "info"},
		State: StateConfig{Path: ""},
		API:   APIConfig{Listen: "127.0.0.1:8765"},
		General: GeneralConfig{
			RestLevel:       0.4,
			SpeedWindowSize: 5,
			AccelWindowSize: 3,
		},
		Speed: SpeedConfig{
			InterpolationInterval: 0.1,
			NormalizationMethod:   "max",
		},
		AlphaBeta: AlphaBetaConfig{
			PointsPerSecond:       25,
			Arc:                   string(motion.ArcSemicircle),
			RadiusPolicy:          RadiusSpeedThreshold,
			MinDistanceFromCenter: 0.1,
			SpeedThresholdPercent: 50,
			SpeedAtEdgeHz:         2,
		},
		Frequency: FrequencyConfig{
			PulseFreqMin:               0.40,
			PulseFreqMax:               0.95,
			FrequencyRampCombineRatio:  2,
			PulseFrequencyCombineRatio: 3,
		},
		Volume: VolumeConfig{
			VolumeRampCombineRatio:   20,
			ProstateVolumeMultiplier: 1.5,
			ProstateRestLevel:        0.7,
			RampPercentPerHour:       15,
			RampRisenValue:           0.8,
			StereostimVolumeMin:      0.5,
			StereostimVolumeMax:      1.0,
		},
		Pulse: PulseConfig{
			PulseWidthMin:          0.1,
			PulseWidthMax:          0.45,
			PulseWidthCombineRatio: 3,
			BetaMirrorThreshold:    0.5,
			PulseRiseMin:           0.0,
			PulseRiseMax:           0.80,
			PulseRiseCombineRatio:  2,
		},
		Options: OptionsConfig{
			NormalizeVolume:         true,
			DeleteIntermediaryFiles: true,
			OverwriteExistingFiles:  false,
		},
		PositionalAxes: PositionalAxesConfig{
			Mode: ModeMotionAxis,
			E1:   AxisConfig{Enabled: true, Curve: curves["e1"]},
			E2:   AxisConfig{Enabled: true, Curve: curves["e2"]},
			E3:   AxisConfig{Enabled: true, Curve: curves["e3"]},
			E4:   AxisConfig{Enabled: true, Curve: curves["e4"]},
		},
		Events: EventsConfig{
			ResampleInterval: 0.1,
			VolumeHeadroom:   10,
			ApplyToLinked:    true,
			Backup:           true,
		},
	}
}

const (
	RadiusSpeedThreshold = "speed_threshold"
	RadiusSegmentSpeed   = "segment_speed"
)
