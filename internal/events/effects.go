package events

import (
	"fmt"
	"math"
	"sort"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

// Waveform is a bipolar unit waveform shape.
type Waveform string

const (
	WaveSin      Waveform = "sin"
	WaveSquare   Waveform = "square"
	WaveTriangle Waveform = "triangle"
	WaveSawtooth Waveform = "sawtooth"
)

// ParseWaveform accepts a waveform name; "sine" is taken as sin.
func ParseWaveform(s string) (Waveform, error) {
	switch Waveform(s) {
	case WaveSin, "sine":
		return WaveSin, nil
	case WaveSquare, WaveTriangle, WaveSawtooth:
		return Waveform(s), nil
	}
	return "", fmt.Errorf("unknown waveform %q (want sin, square, triangle or sawtooth)", s)
}

// At returns w(t) in [-1,1] for t seconds into the window.
func (w Waveform) At(t, freq, phaseDeg, duty float64) float64 {
	if w == WaveSin {
		return math.Sin(2*math.Pi*freq*t + phaseDeg*math.Pi/180)
	}
	cycles := freq*t + phaseDeg/360
	u := cycles - math.Floor(cycles)
	switch w {
	case WaveSquare:
		if u < duty {
			return 1
		}
		return -1
	case WaveTriangle:
		if u < 0.5 {
			return -1 + 4*u
		}
		return 3 - 4*u
	default:
		return -1 + 2*u
	}
}

// envelope is the fade multiplier at rel ms into a window whose last sample
// sits at last ms.
func (e Effect) envelope(rel, last float64) float64 {
	gain := 1.0
	if e.RampInMS > 0 && last > 0 {
		gain *= clamp01(rel / math.Min(e.RampInMS, last))
	}
	if e.RampOutMS > 0 && last > 0 {
		gain *= clamp01((last - rel) / math.Min(e.RampOutMS, last))
	}
	return gain
}

// value computes the edited sample for an original value in [0,1].
func (e Effect) value(scale AxisScale, rel, last, original float64) float64 {
	var generated float64
	switch e.Operation {
	case OpModulation:
		w := e.Waveform.At(rel/1000, e.Frequency, e.Phase, e.DutyCycle)
		generated = scale.Normalize(e.Offset) + scale.Normalize(e.Amplitude)*w
	case OpLinearChange:
		frac := 0.0
		if last > 0 {
			frac = rel / last
		}
		from, to := scale.Normalize(e.StartValue), scale.Normalize(e.EndValue)
		generated = from + (to-from)*frac
	}
	generated *= e.envelope(rel, last)
	if e.Mode == ModeOverwrite {
		return clamp01(generated)
	}
	return clamp01(original + generated)
}

// aliases reports whether freq sits near a whole multiple of the sample rate,
// where every sample lands at the same phase.
func aliases(freq, intervalSec float64) bool {
	if freq <= 0 || intervalSec <= 0 {
		return false
	}
	ratio := freq * intervalSec
	return ratio >= 0.95 && math.Abs(ratio-math.Round(ratio)) < 0.05
}

func clamp01(v float64) float64 {
	return funscript.Clamp01(v)
}

// Channel is one channel file held in memory while events are applied.
type Channel struct {
	Role   string
	Path   string
	Script *funscript.Script
	Dirty  bool
}

// valueAt linearly interpolates the channel at t ms, holding the end values
// outside the action range.
func valueAt(actions []funscript.Action, t float64) float64 {
	n := len(actions)
	if n == 0 {
		return 0
	}
	if t <= float64(actions[0].At) {
		return float64(actions[0].Pos) / 100
	}
	if t >= float64(actions[n-1].At) {
		return float64(actions[n-1].Pos) / 100
	}
	i := sort.Search(n, func(i int) bool { return float64(actions[i].At) >= t })
	a, b := actions[i-1], actions[i]
	if b.At == a.At {
		return float64(b.Pos) / 100
	}
	frac := (t - float64(a.At)) / float64(b.At-a.At)
	return (float64(a.Pos) + frac*float64(b.Pos-a.Pos)) / 100
}

// Apply splices e into the channel and returns the number of samples it
// wrote. The window [start, start+duration) is re-sampled every intervalMS
// within the channel's covered range; actions outside it are kept as they
// are and an anchor holding the original value is placed at the window end.
// A zero duration edits only the first action at or after the start.
func (c *Channel) Apply(e Effect, scale AxisScale, intervalMS float64) int {
	actions := c.Script.Actions
	if len(actions) == 0 {
		return 0
	}

	if e.Duration == 0 {
		at := int64(math.Round(e.StartMS))
		i := sort.Search(len(actions), func(i int) bool { return actions[i].At >= at })
		if i == len(actions) {
			return 0
		}
		original := float64(actions[i].Pos) / 100
		actions[i].Pos = funscript.ValueToPos(e.value(scale, 0, 0, original))
		c.Dirty = true
		return 1
	}

	start, end := e.StartMS, e.StartMS+e.Duration
	first, last := float64(actions[0].At), float64(actions[len(actions)-1].At)
	k := 0
	if start < first {
		k = int(math.Ceil((first - start) / intervalMS))
	}
	var grid []float64
	for ; ; k++ {
		t := start + float64(k)*intervalMS
		if t >= end || t > last {
			break
		}
		if t >= first {
			grid = append(grid, t)
		}
	}
	if len(grid) == 0 {
		return 0
	}

	lastRel := grid[len(grid)-1] - start
	spliced := make([]funscript.Action, 0, len(actions)+len(grid)+1)
	endMS := int64(math.Round(end))
	anchor := end <= last
	for _, a := range actions {
		if float64(a.At) < start || float64(a.At) >= end {
			spliced = append(spliced, a)
			if a.At == endMS {
				anchor = false
			}
		}
	}
	if anchor {
		spliced = append(spliced, funscript.Action{At: endMS, Pos: funscript.ValueToPos(valueAt(actions, end))})
	}
	for _, t := range grid {
		v := e.value(scale, t-start, lastRel, valueAt(actions, t))
		spliced = append(spliced, funscript.Action{At: int64(math.Round(t)), Pos: funscript.ValueToPos(v)})
	}

	sort.SliceStable(spliced, func(i, j int) bool { return spliced[i].At < spliced[j].At })
	out := spliced[:0]
	for _, a := range spliced {
		if len(out) > 0 && out[len(out)-1].At == a.At {
			out[len(out)-1] = a
			continue
		}
		out = append(out, a)
	}
	c.Script.Actions = out
	c.Dirty = true
	return len(grid)
}

// ApplyHeadroom shifts the channel down so its peak is at most limit.
// It returns the applied shift.
func (c *Channel) ApplyHeadroom(limit float64) float64 {
	peak := 0
	for _, a := range c.Script.Actions {
		peak = max(peak, a.Pos)
	}
	shift := float64(peak)/100 - limit
	if shift <= 0 {
		return 0
	}
	for i, a := range c.Script.Actions {
		c.Script.Actions[i].Pos = funscript.ValueToPos(float64(a.Pos)/100 - shift)
	}
	c.Dirty = true
	return shift
}
