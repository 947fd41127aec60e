package funscript

import (
	"fmt"
	"math"
)

// Signal is a uniform-grid series: sample i sits at Start + i*Interval
// seconds and holds a value in [0,1]. The grid spacing cannot vary within one
// signal because times are never stored per sample.
type Signal struct {
	Start    float64
	Interval float64
	Values   []float64
}

// NewSignal builds a signal from explicit grid parameters.
func NewSignal(start, interval float64, values []float64) Signal {
	return Signal{Start: start, Interval: interval, Values: values}
}

// Len returns the sample count.
func (s Signal) Len() int { return len(s.Values) }

// Time returns the time of sample i in seconds.
func (s Signal) Time(i int) float64 { return s.Start + float64(i)*s.Interval }

// End returns the time of the last sample.
func (s Signal) End() float64 {
	if len(s.Values) == 0 {
		return s.Start
	}
	return s.Time(len(s.Values) - 1)
}

// At interpolates the value at t; times outside the grid clamp to the
// nearest endpoint.
func (s Signal) At(t float64) float64 {
	n := len(s.Values)
	if n == 0 {
		return 0
	}
	if n == 1 || t <= s.Start {
		return s.Values[0]
	}
	if t >= s.End() {
		return s.Values[n-1]
	}
	f := (t - s.Start) / s.Interval
	i := int(math.Floor(f))
	if i >= n-1 {
		return s.Values[n-1]
	}
	frac := f - float64(i)
	return s.Values[i] + (s.Values[i+1]-s.Values[i])*frac
}

// Min returns the smallest value, or 0 for an empty signal.
func (s Signal) Min() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	m := s.Values[0]
	for _, v := range s.Values[1:] {
		m = math.Min(m, v)
	}
	return m
}

// Max returns the largest value, or 0 for an empty signal.
func (s Signal) Max() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	m := s.Values[0]
	for _, v := range s.Values[1:] {
		m = math.Max(m, v)
	}
	return m
}

// WithValues returns a signal on the same grid carrying values.
func (s Signal) WithValues(values []float64) Signal {
	return Signal{Start: s.Start, Interval: s.Interval, Values: values}
}

// Resample interpolates actions onto a uniform grid of interval seconds
// spanning the first to the last action.
func Resample(actions []Action, interval float64) (Signal, error) {
	if len(actions) == 0 {
		return Signal{}, &MalformedInputError{Reason: "cannot resample an empty action list"}
	}
	if interval <= 0 || math.IsNaN(interval) {
		return Signal{}, fmt.Errorf("resample interval must be positive, got %v", interval)
	}

	start := float64(actions[0].At) / 1000
	end := float64(actions[len(actions)-1].At) / 1000
	count := int(math.Floor((end-start)/interval+1e-9)) + 1

	values := make([]float64, count)
	seg := 0
	for i := range values {
		t := start + float64(i)*interval
		for seg < len(actions)-2 && float64(actions[seg+1].At)/1000 < t {
			seg++
		}
		values[i] = interpolateActions(actions, seg, t)
	}
	return Signal{Start: start, Interval: interval, Values: values}, nil
}

func interpolateActions(actions []Action, seg int, t float64) float64 {
	if len(actions) == 1 {
		return float64(actions[0].Pos) / 100
	}
	a, b := actions[seg], actions[seg+1]
	ta, tb := float64(a.At)/1000, float64(b.At)/1000
	pa, pb := float64(a.Pos)/100, float64(b.Pos)/100
	switch {
	case t <= ta:
		return pa
	case t >= tb:
		return pb
	case tb == ta:
		return pb
	}
	return pa + (pb-pa)*(t-ta)/(tb-ta)
}

// ToScript converts a signal back to an action list, one action per grid
// point. Values are clamped to [0,1] and rounded to the nearest integer
// position.
func ToScript(s Signal) *Script {
	out := &Script{Actions: make([]Action, 0, len(s.Values))}
	for i, v := range s.Values {
		out.Actions = append(out.Actions, Action{
			At:  int64(math.Round(s.Time(i) * 1000)),
			Pos: ValueToPos(v),
		})
	}
	return out
}

// ValueToPos converts a [0,1] value to a clamped integer position.
func ValueToPos(v float64) int {
	return ClampPos(int(math.Round(Clamp01(v) * 100)))
}

// Clamp01 bounds v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
