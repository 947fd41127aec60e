package transform

import (
	"fmt"
	"math"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

// MinRampActions is the fewest source actions ramp synthesis accepts.
const MinRampActions = 4

// InsufficientDataError reports a generator that needs more source actions
// than were supplied.
type InsufficientDataError struct {
	Op   string
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: need at least %d actions, have %d", e.Op, e.Need, e.Have)
}

// RampOptions shape the volume envelope.
type RampOptions struct {
	// RisenValue is the level reached at the second source action.
	RisenValue float64
	// PercentPerHour is how far the closing level falls below the peak for
	// every hour of source duration.
	PercentPerHour float64
	Interval       float64
}

// DefaultRampOptions matches the stock volume configuration.
func DefaultRampOptions() RampOptions {
	return RampOptions{RisenValue: 0.8, PercentPerHour: 15, Interval: funscript.DefaultInterval}
}

// Ramp builds a four-point envelope from the source timing: silent at the
// first action, RisenValue at the second, full level at the second-to-last
// and a decayed closing level at the last. The result is resampled onto the
// configured grid.
func Ramp(script *funscript.Script, opts RampOptions) (funscript.Signal, error) {
	if script == nil || len(script.Actions) < MinRampActions {
		have := 0
		if script != nil {
			have = len(script.Actions)
		}
		return funscript.Signal{}, &InsufficientDataError{Op: "ramp", Need: MinRampActions, Have: have}
	}
	if opts.Interval <= 0 {
		opts.Interval = funscript.DefaultInterval
	}

	acts := script.Actions
	n := len(acts)
	first, last := acts[0].At, acts[n-1].At
	hours := float64(last-first) / 3_600_000
	decayed := funscript.Clamp01(1 - opts.PercentPerHour/100*hours)

	times := []int64{first, acts[1].At, acts[n-2].At, last}
	levels := []float64{0, funscript.Clamp01(opts.RisenValue), 1, decayed}

	start := float64(first) / 1000
	end := float64(last) / 1000
	count := int(math.Floor((end-start)/opts.Interval+1e-9)) + 1
	values := make([]float64, count)
	seg := 0
	for i := range values {
		t := start + float64(i)*opts.Interval
		for seg < len(times)-2 && float64(times[seg+1])/1000 < t {
			seg++
		}
		values[i] = lerpPoints(times, levels, seg, t)
	}
	return funscript.NewSignal(start, opts.Interval, values), nil
}

func lerpPoints(times []int64, levels []float64, seg int, t float64) float64 {
	ta, tb := float64(times[seg])/1000, float64(times[seg+1])/1000
	va, vb := levels[seg], levels[seg+1]
	switch {
	case t <= ta:
		return va
	case t >= tb || tb == ta:
		return vb
	}
	return va + (vb-va)*(t-ta)/(tb-ta)
}
