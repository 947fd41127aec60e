package pipeline

import (
	"context"
	"fmt"

	"github.com/mattjoyce/stimforge/internal/config"
	"github.com/mattjoyce/stimforge/internal/funscript"
	"github.com/mattjoyce/stimforge/internal/motion"
	"github.com/mattjoyce/stimforge/internal/transform"
)

// signalFunc transforms resampled inputs, given in declared order.
type signalFunc func(sigs []funscript.Signal) (funscript.Signal, error)

func signalNode(role string, class Class, inputs []string, desc string, fn signalFunc) Node {
	return Node{
		Role:      role,
		Class:     class,
		Inputs:    inputs,
		Transform: desc,
		Produce: func(ctx context.Context, in *Inputs) (*funscript.Script, error) {
			sigs := make([]funscript.Signal, len(inputs))
			for i, role := range inputs {
				sig, err := in.Signal(role)
				if err != nil {
					return nil, err
				}
				sigs[i] = sig
			}
			out, err := fn(sigs)
			if err != nil {
				return nil, err
			}
			return funscript.ToScript(out), nil
		},
	}
}

func invertNode(role, input string, class Class) Node {
	return signalNode(role, class, []string{input}, "invert", func(s []funscript.Signal) (funscript.Signal, error) {
		return transform.Invert(s[0]), nil
	})
}

func combineNode(role string, class Class, a, b string, ratio float64, mode transform.CombineMode) Node {
	desc := fmt.Sprintf("combine(ratio=%g,%s)", ratio, mode)
	return signalNode(role, class, []string{a, b}, desc, func(s []funscript.Signal) (funscript.Signal, error) {
		return transform.Combine(s[0], s[1], ratio, mode)
	})
}

// Catalog builds the channel nodes for cfg.
func Catalog(cfg *config.Config) ([]Node, error) {
	method, err := transform.ParseSpeedMethod(cfg.Speed.NormalizationMethod)
	if err != nil {
		return nil, err
	}
	g, f, v, p := cfg.General, cfg.Frequency, cfg.Volume, cfg.Pulse

	speedWindow, accelWindow := g.SpeedWindowSize, g.AccelWindowSize
	nodes := []Node{
		withOverride(signalNode("speed", ClassIntermediary, []string{Primary},
			fmt.Sprintf("speed(window=%gs,method=%s)", speedWindow, method),
			func(s []funscript.Signal) (funscript.Signal, error) {
				return transform.Speed(s[0], speedWindow, method)
			})),
		signalNode("accel", ClassAlternative, []string{"speed"},
			fmt.Sprintf("accel(window=%gs,method=%s)", accelWindow, method),
			func(s []funscript.Signal) (funscript.Signal, error) {
				return transform.Accel(s[0], accelWindow, method)
			}),
		rampNode(cfg),
		invertNode("speed_inverted", "speed", ClassIntermediary),
		invertNode("ramp_inverted", "ramp", ClassIntermediary),
	}
	nodes = append(nodes, radialNodes(cfg)...)

	nodes = append(nodes,
		signalNode("pulse_frequency-alphabased", ClassIntermediary, []string{"alpha"},
			fmt.Sprintf("map(%g,%g)", f.PulseFreqMin, f.PulseFreqMax),
			func(s []funscript.Signal) (funscript.Signal, error) {
				return transform.Map(s[0], f.PulseFreqMin, f.PulseFreqMax), nil
			}),
		combineNode("pulse_frequency", ClassFinal, "speed", "pulse_frequency-alphabased", f.PulseFrequencyCombineRatio, transform.Blend()),
		invertNode("alpha-prostate", "alpha", ClassFinal),
		combineNode("frequency", ClassFinal, "ramp", "speed", f.FrequencyRampCombineRatio, transform.Blend()),
		volumeNode(cfg),
		combineNode("volume-prostate", ClassFinal, "ramp", "speed",
			v.VolumeRampCombineRatio*v.ProstateVolumeMultiplier, transform.RestLevel(v.ProstateRestLevel)),
		signalNode("volume-stereostim", ClassFinal, []string{"volume"},
			fmt.Sprintf("map(%g,%g)", v.StereostimVolumeMin, v.StereostimVolumeMax),
			func(s []funscript.Signal) (funscript.Signal, error) {
				return transform.Map(s[0], v.StereostimVolumeMin, v.StereostimVolumeMax), nil
			}),
		signalNode("beta-mirror-up", ClassIntermediary, []string{"beta"},
			fmt.Sprintf("mirror_up(%g)", p.BetaMirrorThreshold),
			func(s []funscript.Signal) (funscript.Signal, error) {
				return transform.MirrorUp(s[0], p.BetaMirrorThreshold), nil
			}),
		pulseRiseNode(cfg),
		signalNode("pulse_width-alpha", ClassIntermediary, []string{"alpha"},
			fmt.Sprintf("limit(invert,%g,%g)", p.PulseWidthMin, p.PulseWidthMax),
			func(s []funscript.Signal) (funscript.Signal, error) {
				return transform.Limit(transform.Invert(s[0]), p.PulseWidthMin, p.PulseWidthMax), nil
			}),
		combineNode("pulse_width", ClassFinal, "speed", "pulse_width-alpha", p.PulseWidthCombineRatio, transform.Blend()),
	)

	adv := cfg.Advanced
	if adv.EnablePulseFrequencyInversion {
		nodes = append(nodes, delivered(invertNode("pulse_frequency_inverted", "pulse_frequency", ClassAlternative)))
	}
	if adv.EnableVolumeInversion {
		nodes = append(nodes, delivered(invertNode("volume_inverted", "volume", ClassAlternative)))
	}
	if adv.EnableFrequencyInversion {
		nodes = append(nodes, delivered(invertNode("frequency_inverted", "frequency", ClassAlternative)))
	}

	if cfg.PositionalAxes.MotionAxisMode() {
		for _, axis := range motion.Axes {
			ac, _ := cfg.PositionalAxes.Axis(axis)
			if ac.Enabled {
				nodes = append(nodes, curveNode(axis, ac.Curve))
			}
		}
	}
	return nodes, nil
}

func withOverride(n Node) Node {
	n.Overridable = true
	return n
}

func delivered(n Node) Node {
	n.Deliver = true
	return n
}

func rampNode(cfg *config.Config) Node {
	opts := transform.RampOptions{
		RisenValue:     cfg.Volume.RampRisenValue,
		PercentPerHour: cfg.Volume.RampPercentPerHour,
		Interval:       cfg.Speed.InterpolationInterval,
	}
	return Node{
		Role:        "ramp",
		Class:       ClassIntermediary,
		Inputs:      []string{Primary},
		Transform:   fmt.Sprintf("ramp(risen=%g,decay=%g%%/h)", opts.RisenValue, opts.PercentPerHour),
		Overridable: true,
		Produce: func(ctx context.Context, in *Inputs) (*funscript.Script, error) {
			src, err := in.Script(Primary)
			if err != nil {
				return nil, err
			}
			sig, err := transform.Ramp(src, opts)
			if err != nil {
				return nil, err
			}
			return funscript.ToScript(sig), nil
		},
	}
}

func volumeNode(cfg *config.Config) Node {
	ratio, rest, normalize := cfg.Volume.VolumeRampCombineRatio, cfg.General.RestLevel, cfg.Options.NormalizeVolume
	desc := fmt.Sprintf("combine(ratio=%g,%s)", ratio, transform.RestLevel(rest))
	if normalize {
		desc += "+normalize"
	}
	return signalNode("volume", ClassFinal, []string{"ramp", "speed"}, desc, func(s []funscript.Signal) (funscript.Signal, error) {
		out, err := transform.Combine(s[0], s[1], ratio, transform.RestLevel(rest))
		if err != nil {
			return funscript.Signal{}, err
		}
		if normalize {
			out = transform.Normalize(out)
		}
		return out, nil
	})
}

func pulseRiseNode(cfg *config.Config) Node {
	p := cfg.Pulse
	r := p.PulseRiseCombineRatio
	desc := fmt.Sprintf("combine(ratio=%g)x2+map(%g,%g)", r, p.PulseRiseMin, p.PulseRiseMax)
	inputs := []string{"beta-mirror-up", "speed_inverted", "ramp_inverted"}
	return signalNode("pulse_rise_time", ClassFinal, inputs, desc, func(s []funscript.Signal) (funscript.Signal, error) {
		first, err := transform.Combine(s[0], s[1], r, transform.Blend())
		if err != nil {
			return funscript.Signal{}, err
		}
		second, err := transform.Combine(s[2], first, r, transform.Blend())
		if err != nil {
			return funscript.Signal{}, err
		}
		return transform.Map(second, p.PulseRiseMin, p.PulseRiseMax), nil
	})
}

func radialNodes(cfg *config.Config) []Node {
	ab := cfg.AlphaBeta
	inputs := []string{Primary}
	if ab.RadiusPolicy == config.RadiusSpeedThreshold {
		inputs = append(inputs, "speed")
	}
	desc := fmt.Sprintf("radial(arc=%s,pps=%g,min=%g,policy=%s)", ab.Arc, ab.PointsPerSecond, ab.MinDistanceFromCenter, ab.RadiusPolicy)

	type pair struct{ alpha, beta *funscript.Script }
	generate := func(in *Inputs) (pair, error) {
		src, err := in.Script(Primary)
		if err != nil {
			return pair{}, err
		}
		opts := motion.RadialOptions{
			Arc:             motion.Arc(ab.Arc),
			PointsPerSecond: ab.PointsPerSecond,
			MinDistance:     ab.MinDistanceFromCenter,
			Policy:          motion.SegmentSpeed{EdgeHz: ab.SpeedAtEdgeHz},
		}
		if ab.RadiusPolicy == config.RadiusSpeedThreshold {
			speed, err := in.Signal("speed")
			if err != nil {
				return pair{}, err
			}
			opts.Policy = motion.SpeedThreshold{Speed: speed, ThresholdPercent: ab.SpeedThresholdPercent}
		}
		alpha, beta, err := motion.Radial(src, opts)
		return pair{alpha, beta}, err
	}
	// alpha and beta come from one synthesis per run.
	synth := func(in *Inputs) (pair, error) {
		v, err := in.Shared("radial", func() (any, error) { return generate(in) })
		if err != nil {
			return pair{}, err
		}
		return v.(pair), nil
	}

	return []Node{
		{
			Role: "alpha", Class: ClassFinal, Inputs: inputs, Transform: desc + ".x", Overridable: true,
			Produce: func(ctx context.Context, in *Inputs) (*funscript.Script, error) {
				p, err := synth(in)
				return p.alpha, err
			},
		},
		{
			Role: "beta", Class: ClassFinal, Inputs: inputs, Transform: desc + ".y", Overridable: true,
			Produce: func(ctx context.Context, in *Inputs) (*funscript.Script, error) {
				p, err := synth(in)
				return p.beta, err
			},
		},
	}
}

func curveNode(axis string, c motion.Curve) Node {
	name := c.Name
	if name == "" {
		name = "custom"
	}
	return Node{
		Role:        axis,
		Class:       ClassFinal,
		Inputs:      []string{Primary},
		Transform:   fmt.Sprintf("curve(%s,%d points)", name, len(c.Points)),
		Overridable: true,
		Produce: func(ctx context.Context, in *Inputs) (*funscript.Script, error) {
			src, err := in.Script(Primary)
			if err != nil {
				return nil, err
			}
			return motion.ApplyCurve(src, c), nil
		},
	}
}
