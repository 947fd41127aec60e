package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/mattjoyce/stimforge/internal/motion"
	"github.com/mattjoyce/stimforge/internal/transform"
)

// RangeValidationError reports a parameter outside its allowed range or a
// malformed control curve. It is raised before any channel is produced.
type RangeValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *RangeValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Reason, e.Value)
}

type bound struct {
	field  string
	value  float64
	lo, hi float64
}

// Validate checks every parameter range and curve. It returns the first
// violation as a *RangeValidationError.
func Validate(cfg *Config) error {
	g, s, ab, f, v, p := cfg.General, cfg.Speed, cfg.AlphaBeta, cfg.Frequency, cfg.Volume, cfg.Pulse

	bounds := []bound{
		{"general.rest_level", g.RestLevel, 0, 1},
		{"general.speed_window_size", g.SpeedWindowSize, 1, 30},
		{"general.accel_window_size", g.AccelWindowSize, 1, 10},
		{"speed.interpolation_interval", s.InterpolationInterval, 0.01, 1},
		{"alpha_beta_generation.points_per_second", ab.PointsPerSecond, 1, 100},
		{"alpha_beta_generation.min_distance_from_center", ab.MinDistanceFromCenter, 0.1, 0.9},
		{"alpha_beta_generation.speed_threshold_percent", ab.SpeedThresholdPercent, 0, 100},
		{"alpha_beta_generation.speed_at_edge_hz", ab.SpeedAtEdgeHz, 0.01, 100},
		{"frequency.pulse_freq_min", f.PulseFreqMin, 0, 1},
		{"frequency.pulse_freq_max", f.PulseFreqMax, 0, 1},
		{"frequency.frequency_ramp_combine_ratio", f.FrequencyRampCombineRatio, 1, 10},
		{"frequency.pulse_frequency_combine_ratio", f.PulseFrequencyCombineRatio, 1, 10},
		{"volume.volume_ramp_combine_ratio", v.VolumeRampCombineRatio, 10, 40},
		{"volume.prostate_volume_multiplier", v.ProstateVolumeMultiplier, 1, 3},
		{"volume.prostate_rest_level", v.ProstateRestLevel, 0, 1},
		{"volume.ramp_percent_per_hour", v.RampPercentPerHour, 0, 40},
		{"volume.ramp_risen_value", v.RampRisenValue, 0, 1},
		{"volume.stereostim_volume_min", v.StereostimVolumeMin, 0, 1},
		{"volume.stereostim_volume_max", v.StereostimVolumeMax, 0, 1},
		{"pulse.pulse_width_min", p.PulseWidthMin, 0, 1},
		{"pulse.pulse_width_max", p.PulseWidthMax, 0, 1},
		{"pulse.pulse_width_combine_ratio", p.PulseWidthCombineRatio, 1, 10},
		{"pulse.beta_mirror_threshold", p.BetaMirrorThreshold, 0, 0.5},
		{"pulse.pulse_rise_min", p.PulseRiseMin, 0, 1},
		{"pulse.pulse_rise_max", p.PulseRiseMax, 0, 1},
		{"pulse.pulse_rise_combine_ratio", p.PulseRiseCombineRatio, 1, 10},
		{"events.volume_headroom", cfg.Events.VolumeHeadroom, 0, 20},
	}
	for _, b := range bounds {
		if math.IsNaN(b.value) || b.value < b.lo || b.value > b.hi {
			return &RangeValidationError{
				Field:  b.field,
				Value:  b.value,
				Reason: fmt.Sprintf("must be within [%g, %g]", b.lo, b.hi),
			}
		}
	}

	pairs := []struct {
		minField, maxField string
		min, max           float64
	}{
		{"frequency.pulse_freq_min", "frequency.pulse_freq_max", f.PulseFreqMin, f.PulseFreqMax},
		{"volume.stereostim_volume_min", "volume.stereostim_volume_max", v.StereostimVolumeMin, v.StereostimVolumeMax},
		{"pulse.pulse_width_min", "pulse.pulse_width_max", p.PulseWidthMin, p.PulseWidthMax},
		{"pulse.pulse_rise_min", "pulse.pulse_rise_max", p.PulseRiseMin, p.PulseRiseMax},
	}
	for _, pr := range pairs {
		if pr.min >= pr.max {
			return &RangeValidationError{
				Field:  pr.minField,
				Value:  pr.min,
				Reason: fmt.Sprintf("must be less than %s (%g)", pr.maxField, pr.max),
			}
		}
	}

	if cfg.Events.ResampleInterval <= 0 {
		return &RangeValidationError{Field: "events.resample_interval", Value: cfg.Events.ResampleInterval, Reason: "must be positive"}
	}

	if _, err := transform.ParseSpeedMethod(s.NormalizationMethod); err != nil {
		return &RangeValidationError{Field: "speed.normalization_method", Value: s.NormalizationMethod, Reason: "must be max or rms"}
	}
	if _, _, err := motion.Arc(ab.Arc).Angles(); err != nil {
		return &RangeValidationError{Field: "alpha_beta_generation.arc", Value: ab.Arc, Reason: "must be semicircle, wide_arc or narrow_arc"}
	}
	switch ab.RadiusPolicy {
	case RadiusSpeedThreshold, RadiusSegmentSpeed:
	default:
		return &RangeValidationError{Field: "alpha_beta_generation.radius_policy", Value: ab.RadiusPolicy, Reason: "must be speed_threshold or segment_speed"}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &RangeValidationError{Field: "log.level", Value: cfg.Log.Level, Reason: "must be one of debug, info, warn, error"}
	}

	pa := cfg.PositionalAxes
	if pa.Mode != ModeMotionAxis && pa.Mode != ModeLegacy {
		return &RangeValidationError{Field: "positional_axes.mode", Value: pa.Mode, Reason: "must be motion_axis or legacy"}
	}
	for _, name := range motion.Axes {
		axis, _ := pa.Axis(name)
		if !axis.Enabled {
			continue
		}
		if err := axis.Curve.Validate(); err != nil {
			return &RangeValidationError{
				Field:  "positional_axes." + name + ".curve",
				Value:  axis.Curve.Points,
				Reason: err.Error(),
			}
		}
	}
	return nil
}
