package transform

import (
	"fmt"
	"math"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

// SpeedMethod selects how rates inside one window are aggregated.
type SpeedMethod string

const (
	// SpeedMax averages the window and normalizes by the global maximum.
	SpeedMax SpeedMethod = "max"
	// SpeedRMS takes the root mean square of the window and normalizes by the
	// global maximum.
	SpeedRMS SpeedMethod = "rms"
)

// ParseSpeedMethod accepts "max" or "rms".
func ParseSpeedMethod(s string) (SpeedMethod, error) {
	switch SpeedMethod(s) {
	case SpeedMax, SpeedRMS:
		return SpeedMethod(s), nil
	case "":
		return SpeedMax, nil
	}
	return "", fmt.Errorf("unknown speed normalization method %q", s)
}

// Speed derives the windowed rate of change of s. The window of
// windowSeconds is centered on each grid point; the result is normalized so
// the fastest window reads 1.
func Speed(s funscript.Signal, windowSeconds float64, method SpeedMethod) (funscript.Signal, error) {
	if windowSeconds <= 0 {
		return funscript.Signal{}, fmt.Errorf("speed: window must be positive, got %v", windowSeconds)
	}
	if s.Interval <= 0 {
		return funscript.Signal{}, fmt.Errorf("speed: signal interval must be positive")
	}
	n := s.Len()
	if n == 0 {
		return funscript.Signal{}, fmt.Errorf("speed: empty signal")
	}

	// rates[i] is the rate entering sample i; rates[0] has no predecessor.
	rates := make([]float64, n)
	for i := 1; i < n; i++ {
		rates[i] = math.Abs(s.Values[i]-s.Values[i-1]) / s.Interval
	}

	half := int(math.Round(windowSeconds / 2 / s.Interval))
	raw := make([]float64, n)
	peak := 0.0
	for i := range raw {
		lo := max(i-half, 1)
		hi := min(i+half, n-1)
		if lo > hi {
			continue
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			if method == SpeedRMS {
				sum += rates[j] * rates[j]
			} else {
				sum += rates[j]
			}
		}
		agg := sum / float64(hi-lo+1)
		if method == SpeedRMS {
			agg = math.Sqrt(agg)
		}
		raw[i] = agg
		peak = math.Max(peak, agg)
	}

	out := make([]float64, n)
	if peak > 0 {
		for i, v := range raw {
			out[i] = funscript.Clamp01(v / peak)
		}
	}
	return s.WithValues(out), nil
}

// Accel is Speed applied to a speed signal.
func Accel(speed funscript.Signal, windowSeconds float64, method SpeedMethod) (funscript.Signal, error) {
	return Speed(speed, windowSeconds, method)
}
