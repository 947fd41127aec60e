package events

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

// flat returns a channel holding pos every step ms over [0, until].
func flat(pos int, step, until int64) *Channel {
	var actions []funscript.Action
	for at := int64(0); at <= until; at += step {
		actions = append(actions, funscript.Action{At: at, Pos: pos})
	}
	return &Channel{Role: "volume", Script: &funscript.Script{Actions: actions}}
}

func posAt(t *testing.T, c *Channel, at int64) int {
	t.Helper()
	for _, a := range c.Script.Actions {
		if a.At == at {
			return a.Pos
		}
	}
	t.Fatalf("no action at %dms", at)
	return 0
}

func TestWaveforms(t *testing.T) {
	assert.InDelta(t, 1, WaveSin.At(0.25, 1, 0, 0.5), 1e-12)
	assert.InDelta(t, 0, WaveSin.At(0, 1, 0, 0.5), 1e-12)
	assert.InDelta(t, 1, WaveSin.At(0, 1, 90, 0.5), 1e-12)

	assert.Equal(t, 1.0, WaveSquare.At(0.25, 1, 0, 0.5))
	assert.Equal(t, -1.0, WaveSquare.At(0.75, 1, 0, 0.5))
	assert.Equal(t, 1.0, WaveSquare.At(0.75, 1, 0, 0.8))

	assert.InDelta(t, -1, WaveTriangle.At(0, 1, 0, 0.5), 1e-12)
	assert.InDelta(t, 0, WaveTriangle.At(0.25, 1, 0, 0.5), 1e-12)
	assert.InDelta(t, 1, WaveTriangle.At(0.5, 1, 0, 0.5), 1e-12)
	assert.InDelta(t, 0, WaveTriangle.At(0.75, 1, 0, 0.5), 1e-12)

	assert.InDelta(t, -1, WaveSawtooth.At(0, 2, 0, 0.5), 1e-12)
	assert.InDelta(t, 0, WaveSawtooth.At(0.25, 2, 0, 0.5), 1e-12)

	for _, w := range []Waveform{WaveSin, WaveSquare, WaveTriangle, WaveSawtooth} {
		for i := 0; i < 200; i++ {
			v := w.At(float64(i)*0.013, 3.7, 33, 0.3)
			assert.True(t, v >= -1 && v <= 1, "%s out of range: %v", w, v)
		}
	}

	got, err := ParseWaveform("sine")
	require.NoError(t, err)
	assert.Equal(t, WaveSin, got)
}

func TestApplyModulationStaysInBand(t *testing.T) {
	ch := flat(50, 100, 3000)
	effect := Effect{
		Operation: OpModulation,
		Axis:      "volume",
		StartMS:   1000,
		Duration:  1000,
		Mode:      ModeAdditive,
		Waveform:  WaveSin,
		Frequency: 1,
		Amplitude: 0.1,
	}
	n := ch.Apply(effect, AxisScale{Max: 1}, 100)
	assert.Equal(t, 10, n)
	assert.True(t, ch.Dirty)

	lo, hi := 1.0, 0.0
	for _, a := range ch.Script.Actions {
		v := float64(a.Pos) / 100
		if a.At < 1000 || a.At >= 2000 {
			assert.Equal(t, 50, a.Pos, "action at %d is outside the window", a.At)
			continue
		}
		assert.True(t, v >= 0.4 && v <= 0.6, "value %v at %d", v, a.At)
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	assert.Greater(t, hi, 0.59)
	assert.Less(t, lo, 0.41)
	assert.Len(t, ch.Script.Actions, 31)
}

func TestApplyLinearOverwrite(t *testing.T) {
	ch := flat(50, 100, 2000)
	effect := Effect{
		Operation:  OpLinearChange,
		StartMS:    0,
		Duration:   1000,
		Mode:       ModeOverwrite,
		StartValue: 0.2,
		EndValue:   0.8,
	}
	ch.Apply(effect, AxisScale{Max: 1}, 100)
	assert.Equal(t, 20, posAt(t, ch, 0))
	assert.Equal(t, 80, posAt(t, ch, 900))
	assert.Equal(t, 50, posAt(t, ch, 1000))
}

func TestApplyNormalizesUnits(t *testing.T) {
	ch := flat(50, 100, 2000)
	effect := Effect{
		Operation:  OpLinearChange,
		Duration:   500,
		Mode:       ModeOverwrite,
		StartValue: 100,
		EndValue:   100,
	}
	ch.Apply(effect, AxisScale{Max: 200, Unit: "Hz"}, 100)
	assert.Equal(t, 50, posAt(t, ch, 0))

	effect.StartValue, effect.EndValue = 150, 150
	ch.Apply(effect, AxisScale{Max: 200, Unit: "Hz"}, 100)
	assert.Equal(t, 75, posAt(t, ch, 200))
}

func TestApplyEnvelope(t *testing.T) {
	ch := flat(0, 100, 2000)
	effect := Effect{
		Operation:  OpLinearChange,
		Duration:   1000,
		Mode:       ModeOverwrite,
		StartValue: 1,
		EndValue:   1,
		RampInMS:   500,
		RampOutMS:  200,
	}
	ch.Apply(effect, AxisScale{Max: 1}, 100)
	assert.Equal(t, 0, posAt(t, ch, 0))
	assert.Equal(t, 40, posAt(t, ch, 200))
	assert.Equal(t, 100, posAt(t, ch, 500))
	assert.Equal(t, 100, posAt(t, ch, 700))
	assert.Equal(t, 50, posAt(t, ch, 800))
	assert.Equal(t, 0, posAt(t, ch, 900))
}

func TestApplyAddsEndAnchor(t *testing.T) {
	ch := &Channel{Script: &funscript.Script{Actions: []funscript.Action{
		{At: 0, Pos: 0},
		{At: 10000, Pos: 100},
	}}}
	effect := Effect{
		Operation:  OpLinearChange,
		StartMS:    2000,
		Duration:   1000,
		Mode:       ModeOverwrite,
		StartValue: 0.5,
		EndValue:   0.5,
	}
	n := ch.Apply(effect, AxisScale{Max: 1}, 100)
	assert.Equal(t, 10, n)
	require.Len(t, ch.Script.Actions, 13)
	assert.Equal(t, 50, posAt(t, ch, 2000))
	assert.Equal(t, 50, posAt(t, ch, 2900))
	assert.Equal(t, 30, posAt(t, ch, 3000), "anchor holds the original value")
	assert.Equal(t, 100, posAt(t, ch, 10000))
}

func TestApplyWindowBeyondChannel(t *testing.T) {
	ch := flat(50, 100, 2000)
	effect := Effect{
		Operation:  OpLinearChange,
		StartMS:    1000,
		Duration:   1e12,
		Mode:       ModeOverwrite,
		StartValue: 1,
		EndValue:   1,
	}
	assert.Equal(t, 11, ch.Apply(effect, AxisScale{Max: 1}, 100))
	assert.Equal(t, 50, posAt(t, ch, 900))
	assert.Equal(t, 100, posAt(t, ch, 2000))
	require.Len(t, ch.Script.Actions, 21)

	ch = flat(50, 100, 2000)
	effect.StartMS, effect.Duration = -1e9, 2e9
	assert.Equal(t, 21, ch.Apply(effect, AxisScale{Max: 1}, 100))
	assert.Equal(t, 100, posAt(t, ch, 0))
}

func TestApplyZeroDuration(t *testing.T) {
	ch := flat(50, 100, 2000)
	effect := Effect{
		Operation:  OpLinearChange,
		StartMS:    1050,
		Mode:       ModeOverwrite,
		StartValue: 1,
	}
	assert.Equal(t, 1, ch.Apply(effect, AxisScale{Max: 1}, 100))
	assert.Equal(t, 50, posAt(t, ch, 1000))
	assert.Equal(t, 100, posAt(t, ch, 1100))
	assert.Equal(t, 50, posAt(t, ch, 1200))
	assert.Len(t, ch.Script.Actions, 21)
}

func TestApplyOutsideRange(t *testing.T) {
	ch := flat(50, 100, 1000)
	effect := Effect{Operation: OpLinearChange, StartMS: 5000, Duration: 1000, Mode: ModeOverwrite, StartValue: 1}
	assert.Zero(t, ch.Apply(effect, AxisScale{Max: 1}, 100))
	assert.False(t, ch.Dirty)

	effect.Duration = 0
	assert.Zero(t, ch.Apply(effect, AxisScale{Max: 1}, 100))
	assert.False(t, ch.Dirty)
}

func TestApplyHeadroom(t *testing.T) {
	ch := &Channel{Script: &funscript.Script{Actions: []funscript.Action{
		{At: 0, Pos: 100},
		{At: 100, Pos: 50},
		{At: 200, Pos: 5},
	}}}
	shift := ch.ApplyHeadroom(0.9)
	assert.InDelta(t, 0.1, shift, 1e-9)
	assert.Equal(t, []int{90, 40, 0}, []int{ch.Script.Actions[0].Pos, ch.Script.Actions[1].Pos, ch.Script.Actions[2].Pos})

	ch.Dirty = false
	assert.Zero(t, ch.ApplyHeadroom(0.9))
	assert.False(t, ch.Dirty)
}

func TestAliasing(t *testing.T) {
	assert.True(t, aliases(10, 0.1))
	assert.True(t, aliases(19.8, 0.1))
	assert.False(t, aliases(3, 0.1))
	assert.False(t, aliases(0, 0.1))
}
