// Package transform holds the pure numeric operations applied to resampled
// signals. Every operation returns a new signal with values clamped to [0,1].
package transform

import (
	"github.com/mattjoyce/stimforge/internal/funscript"
)

// Invert computes y' = 1 - y.
func Invert(s funscript.Signal) funscript.Signal {
	return apply(s, func(v float64) float64 { return 1 - v })
}

// Map rescales the observed [min,max] of s onto [newMin,newMax]. A flat
// signal maps to the midpoint of the new range.
func Map(s funscript.Signal, newMin, newMax float64) funscript.Signal {
	return MapFrom(s, s.Min(), s.Max(), newMin, newMax)
}

// MapFrom rescales [curMin,curMax] onto [newMin,newMax].
func MapFrom(s funscript.Signal, curMin, curMax, newMin, newMax float64) funscript.Signal {
	if curMax == curMin {
		mid := (newMin + newMax) / 2
		return apply(s, func(float64) float64 { return mid })
	}
	scale := (newMax - newMin) / (curMax - curMin)
	return apply(s, func(v float64) float64 {
		return (v-curMin)*scale + newMin
	})
}

// Limit clamps every value to [lo,hi].
func Limit(s funscript.Signal, lo, hi float64) funscript.Signal {
	return apply(s, func(v float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	})
}

// Normalize shifts the whole signal so its maximum reaches 1.
func Normalize(s funscript.Signal) funscript.Signal {
	shift := 1 - s.Max()
	if shift == 0 {
		return apply(s, func(v float64) float64 { return v })
	}
	return apply(s, func(v float64) float64 { return v + shift })
}

// MirrorUp reflects values below threshold upward: y < t ? 2t - y : y.
func MirrorUp(s funscript.Signal, threshold float64) funscript.Signal {
	return apply(s, func(v float64) float64 {
		if v < threshold {
			return 2*threshold - v
		}
		return v
	})
}

func apply(s funscript.Signal, fn func(float64) float64) funscript.Signal {
	out := make([]float64, len(s.Values))
	for i, v := range s.Values {
		out[i] = funscript.Clamp01(fn(v))
	}
	return s.WithValues(out)
}
