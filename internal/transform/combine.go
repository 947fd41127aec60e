package transform

import (
	"fmt"
	"math"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

type combineKind int

const (
	combineBlend combineKind = iota
	combineRestLevel
	combinePreserveZero
)

// CombineMode selects how exact zeros in either input are treated. Exactly
// one mode applies per call.
type CombineMode struct {
	kind combineKind
	rest float64
}

// Blend applies the weighted blend with no zero handling.
func Blend() CombineMode { return CombineMode{kind: combineBlend} }

// RestLevel substitutes r for any input term that is exactly 0 before
// blending.
func RestLevel(r float64) CombineMode { return CombineMode{kind: combineRestLevel, rest: r} }

// PreserveZero forces the output to 0 wherever either input is exactly 0.
func PreserveZero() CombineMode { return CombineMode{kind: combinePreserveZero} }

func (m CombineMode) String() string {
	switch m.kind {
	case combineRestLevel:
		return fmt.Sprintf("rest_level=%g", m.rest)
	case combinePreserveZero:
		return "preserve_zero"
	default:
		return "blend"
	}
}

// Combine blends A and B as (A*(ratio-1) + B) / ratio. Both inputs are
// interpolated onto a common grid spanning both signals at the finer of the
// two intervals. The zero test runs on the interpolated inputs, before any
// clamping of the output.
func Combine(a, b funscript.Signal, ratio float64, mode CombineMode) (funscript.Signal, error) {
	if a.Len() == 0 || b.Len() == 0 {
		return funscript.Signal{}, fmt.Errorf("combine: both inputs must be non-empty")
	}
	if ratio < 1 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return funscript.Signal{}, fmt.Errorf("combine: ratio must be >= 1, got %v", ratio)
	}

	start := math.Min(a.Start, b.Start)
	end := math.Max(a.End(), b.End())
	interval := math.Min(a.Interval, b.Interval)
	if interval <= 0 {
		interval = math.Max(a.Interval, b.Interval)
	}
	if interval <= 0 {
		interval = funscript.DefaultInterval
	}
	count := int(math.Floor((end-start)/interval+1e-9)) + 1

	values := make([]float64, count)
	for i := range values {
		t := start + float64(i)*interval
		va, vb := a.At(t), b.At(t)
		values[i] = funscript.Clamp01(combineValue(va, vb, ratio, mode))
	}
	return funscript.NewSignal(start, interval, values), nil
}

func combineValue(va, vb, ratio float64, mode CombineMode) float64 {
	switch mode.kind {
	case combineRestLevel:
		if va == 0 {
			va = mode.rest
		}
		if vb == 0 {
			vb = mode.rest
		}
	case combinePreserveZero:
		if va == 0 || vb == 0 {
			return 0
		}
	}
	return (va*(ratio-1) + vb) / ratio
}
