// Package motion converts a single stroke timeline into positional-axis
// channels: a radial alpha/beta pair or curve-shaped motion axes.
package motion

import (
	"fmt"
	"math"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

// Arc names a fixed (start, end) angle family in degrees.
type Arc string

const (
	ArcSemicircle Arc = "semicircle"
	ArcWide       Arc = "wide_arc"
	ArcNarrow     Arc = "narrow_arc"
)

// Angles returns the start and end angle of the family in degrees.
func (a Arc) Angles() (start, end float64, err error) {
	switch a {
	case ArcSemicircle, "":
		return 180, 0, nil
	case ArcWide:
		return 270, 0, nil
	case ArcNarrow:
		return 90, 0, nil
	}
	return 0, 0, fmt.Errorf("unknown arc %q", a)
}

// RadiusPolicy yields the speed ratio in [0,1] for one generated sample.
// p0/p1 are the segment's end positions in [0,1], t0/t1 its times in seconds
// and t the sample time.
type RadiusPolicy interface {
	Ratio(t0, t1, p0, p1, t float64) float64
}

// SegmentSpeed derives the ratio from the segment's own position delta:
// |p1-p0| / (t1-t0) / EdgeHz.
type SegmentSpeed struct {
	EdgeHz float64
}

func (s SegmentSpeed) Ratio(t0, t1, p0, p1, _ float64) float64 {
	if t1 <= t0 || s.EdgeHz <= 0 {
		return 1
	}
	return math.Abs(p1-p0) / (t1 - t0) / s.EdgeHz
}

// SpeedThreshold looks up the nearest sample of a previously computed speed
// channel. Speeds at or above ThresholdPercent give a full radius; below it
// the ratio falls off linearly.
type SpeedThreshold struct {
	Speed            funscript.Signal
	ThresholdPercent float64
}

func (s SpeedThreshold) Ratio(_, _, _, _, t float64) float64 {
	speed := nearest(s.Speed, t) * 100
	if speed >= s.ThresholdPercent || s.ThresholdPercent <= 0 {
		return 1
	}
	return speed / s.ThresholdPercent
}

func nearest(sig funscript.Signal, t float64) float64 {
	n := sig.Len()
	if n == 0 {
		return 0
	}
	if sig.Interval <= 0 {
		return sig.Values[0]
	}
	i := int(math.Round((t - sig.Start) / sig.Interval))
	return sig.Values[max(0, min(i, n-1))]
}

// RadialOptions configure radial synthesis.
type RadialOptions struct {
	Arc             Arc
	PointsPerSecond float64
	MinDistance     float64
	Policy          RadiusPolicy
}

// Radial synthesizes the alpha (x) and beta (y) channels. Every source
// segment is swept along the arc with N = PointsPerSecond*(t1-t0) samples
// (at least one, segment end excluded); the final source action closes the
// path.
func Radial(src *funscript.Script, opts RadialOptions) (alpha, beta *funscript.Script, err error) {
	if src == nil || len(src.Actions) == 0 {
		return nil, nil, &funscript.MalformedInputError{Reason: "radial synthesis needs at least one action"}
	}
	startDeg, endDeg, err := opts.Arc.Angles()
	if err != nil {
		return nil, nil, err
	}
	if opts.PointsPerSecond <= 0 {
		return nil, nil, fmt.Errorf("points per second must be positive, got %v", opts.PointsPerSecond)
	}
	policy := opts.Policy
	if policy == nil {
		policy = SegmentSpeed{}
	}

	alpha = &funscript.Script{}
	beta = &funscript.Script{}
	emit := func(t, p, ratio float64) {
		scale := opts.MinDistance + (1-opts.MinDistance)*funscript.Clamp01(ratio)
		radius := 0.5 * scale
		angle := (startDeg + (endDeg-startDeg)*p) * math.Pi / 180
		at := int64(math.Round(t * 1000))
		alpha.Actions = append(alpha.Actions, funscript.Action{At: at, Pos: funscript.ValueToPos(0.5 + radius*math.Cos(angle))})
		beta.Actions = append(beta.Actions, funscript.Action{At: at, Pos: funscript.ValueToPos(0.5 + radius*math.Sin(angle))})
	}

	acts := src.Actions
	for i := 0; i < len(acts)-1; i++ {
		t0, t1 := float64(acts[i].At)/1000, float64(acts[i+1].At)/1000
		if t1 == t0 {
			continue
		}
		p0, p1 := float64(acts[i].Pos)/100, float64(acts[i+1].Pos)/100
		n := max(1, int(opts.PointsPerSecond*(t1-t0)))
		for k := 0; k < n; k++ {
			frac := float64(k) / float64(n)
			t := t0 + (t1-t0)*frac
			emit(t, p0+(p1-p0)*frac, policy.Ratio(t0, t1, p0, p1, t))
		}
	}

	last := acts[len(acts)-1]
	tl := float64(last.At) / 1000
	pl := float64(last.Pos) / 100
	ratio := 1.0
	if len(acts) > 1 {
		prev := acts[len(acts)-2]
		ratio = policy.Ratio(float64(prev.At)/1000, tl, float64(prev.Pos)/100, pl, tl)
	}
	emit(tl, pl, ratio)
	return alpha, beta, nil
}
