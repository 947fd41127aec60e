package motion

import (
	"fmt"
	"math"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

// CurvePoint maps one input position to one output position, both on the
// 0-100 scale.
type CurvePoint struct {
	In  float64 `yaml:"in" json:"in"`
	Out float64 `yaml:"out" json:"out"`
}

// Curve is a piecewise-linear response curve.
type Curve struct {
	Name   string       `yaml:"name,omitempty" json:"name,omitempty"`
	Points []CurvePoint `yaml:"points" json:"points"`
}

// Validate checks that the curve has at least two points with every
// coordinate in [0,100], inputs strictly increasing from 0 to 100.
func (c Curve) Validate() error {
	if len(c.Points) < 2 {
		return fmt.Errorf("curve needs at least 2 points, has %d", len(c.Points))
	}
	for i, p := range c.Points {
		if !inPosRange(p.In) || !inPosRange(p.Out) {
			return fmt.Errorf("point %d (%g,%g) outside [0,100]", i, p.In, p.Out)
		}
		if i > 0 && p.In <= c.Points[i-1].In {
			return fmt.Errorf("point %d input %g not greater than %g", i, p.In, c.Points[i-1].In)
		}
	}
	if first := c.Points[0].In; first != 0 {
		return fmt.Errorf("first point input must be 0, got %g", first)
	}
	if last := c.Points[len(c.Points)-1].In; last != 100 {
		return fmt.Errorf("last point input must be 100, got %g", last)
	}
	return nil
}

func inPosRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// Map evaluates a validated curve at in, clamping in to [0,100].
func (c Curve) Map(in float64) float64 {
	pts := c.Points
	if len(pts) == 0 {
		return in
	}
	in = math.Max(0, math.Min(100, in))
	if in <= pts[0].In {
		return pts[0].Out
	}
	for i := 0; i < len(pts)-1; i++ {
		a, b := pts[i], pts[i+1]
		if in >= a.In && in <= b.In {
			return a.Out + (in-a.In)/(b.In-a.In)*(b.Out-a.Out)
		}
	}
	return pts[len(pts)-1].Out
}

// ApplyCurve maps every source action through the curve, keeping timestamps.
func ApplyCurve(src *funscript.Script, c Curve) *funscript.Script {
	out := &funscript.Script{Actions: make([]funscript.Action, len(src.Actions))}
	for i, a := range src.Actions {
		mapped := c.Map(float64(a.Pos))
		out.Actions[i] = funscript.Action{At: a.At, Pos: funscript.ClampPos(int(math.Round(mapped)))}
	}
	return out
}

// DefaultCurves returns the stock response curves for the four motion axes.
func DefaultCurves() map[string]Curve {
	return map[string]Curve{
		"e1": {Name: "Linear", Points: []CurvePoint{{0, 0}, {100, 100}}},
		"e2": {Name: "Ease In", Points: []CurvePoint{{0, 0}, {50, 20}, {100, 100}}},
		"e3": {Name: "Ease Out", Points: []CurvePoint{{0, 0}, {50, 80}, {100, 100}}},
		"e4": {Name: "Bell Curve", Points: []CurvePoint{{0, 0}, {25, 30}, {50, 100}, {75, 30}, {100, 0}}},
	}
}

// Axes lists the motion axis roles in generation order.
var Axes = []string{"e1", "e2", "e3", "e4"}
