package events

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TimelineSuffixes are the accepted event file name endings.
var TimelineSuffixes = []string{".events.yml", ".events.yaml"}

// Event is one placement of a defined event on the timeline.
type Event struct {
	TimeMS int64          `yaml:"-"`
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params,omitempty"`
}

// UnmarshalYAML accepts the placement time as either time_ms or time.
func (e *Event) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		TimeMS *float64       `yaml:"time_ms"`
		Time   *float64       `yaml:"time"`
		Name   string         `yaml:"name"`
		Params map[string]any `yaml:"params"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	t := raw.TimeMS
	if t == nil {
		t = raw.Time
	}
	if t == nil {
		return fmt.Errorf("line %d: event %q is missing time_ms", node.Line, raw.Name)
	}
	if *t < 0 {
		return fmt.Errorf("line %d: event %q has negative time %v", node.Line, raw.Name, *t)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return fmt.Errorf("line %d: event name is required", node.Line)
	}
	e.TimeMS = int64(*t)
	e.Name = raw.Name
	e.Params = raw.Params
	return nil
}

// Timeline is the parsed event file for one media base name.
type Timeline struct {
	Events []Event `yaml:"events"`
}

// LoadTimeline reads an event file.
func LoadTimeline(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	tl, err := ParseTimeline(data)
	if err != nil {
		return nil, fmt.Errorf("event file %s: %w", filepath.Base(path), err)
	}
	return tl, nil
}

// ParseTimeline decodes an event file and orders events by time. Events at
// the same time keep file order.
func ParseTimeline(data []byte) (*Timeline, error) {
	var tl Timeline
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&tl); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if tl.Events == nil {
		return nil, fmt.Errorf("missing top-level 'events' list")
	}
	sort.SliceStable(tl.Events, func(i, j int) bool { return tl.Events[i].TimeMS < tl.Events[j].TimeMS })
	return &tl, nil
}

// BaseName derives the media base name from an event file path.
func BaseName(eventsPath string) (string, error) {
	name := filepath.Base(eventsPath)
	for _, suffix := range TimelineSuffixes {
		if base, ok := strings.CutSuffix(name, suffix); ok && base != "" {
			return base, nil
		}
	}
	return "", fmt.Errorf("event file %q must be named {base}%s", name, TimelineSuffixes[0])
}

// Mode is how a generated effect combines with the original values.
type Mode string

const (
	ModeAdditive  Mode = "additive"
	ModeOverwrite Mode = "overwrite"
)

// Effect is one fully resolved operation on one axis.
type Effect struct {
	Event     string
	Operation string
	Axis      string
	StartMS   float64
	Duration  float64 // ms
	Mode      Mode
	RampInMS  float64
	RampOutMS float64

	// apply_modulation
	Waveform  Waveform
	Frequency float64 // Hz
	Amplitude float64
	Offset    float64
	Phase     float64 // degrees
	DutyCycle float64

	// apply_linear_change
	StartValue float64
	EndValue   float64
}

// Resolve turns the timeline into effects, merging each placement's params
// over the definition defaults and evaluating every expression. Nothing is
// applied if any event fails to resolve.
func (d *Definitions) Resolve(tl *Timeline) ([]Effect, error) {
	var out []Effect
	for _, ev := range tl.Events {
		def, ok := d.Events[ev.Name]
		if !ok {
			return nil, &DefinitionError{Event: ev.Name, Reason: fmt.Sprintf("at %dms is not defined", ev.TimeMS)}
		}
		table, err := newParamTable(def.DefaultParams, ev.Params)
		if err != nil {
			return nil, &DefinitionError{Event: ev.Name, Reason: err.Error()}
		}
		for i := range def.Steps {
			effect, err := table.resolveStep(&def.Steps[i])
			if err != nil {
				return nil, &DefinitionError{Event: ev.Name, Step: i + 1, Reason: err.Error()}
			}
			effect.Event = ev.Name
			effect.StartMS += float64(ev.TimeMS)
			out = append(out, effect)
		}
	}
	return out, nil
}

// paramTable is the merged parameter set of one placement.
type paramTable struct {
	nums  map[string]float64
	words map[string]string
}

func newParamTable(defaults, overrides map[string]any) (paramTable, error) {
	t := paramTable{nums: map[string]float64{}, words: map[string]string{}}
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	for k, v := range merged {
		switch x := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				t.nums[k] = f
			} else {
				t.words[k] = x
			}
		case bool:
			t.words[k] = strconv.FormatBool(x)
		default:
			f, ok := toFloat(v)
			if !ok {
				return t, fmt.Errorf("parameter %q has unsupported value %v", k, v)
			}
			t.nums[k] = f
		}
	}
	return t, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

func (t paramTable) number(step *Step, key string, v any) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	if expr, ok := step.exprs[key]; ok {
		return expr.Eval(t.nums)
	}
	return 0, fmt.Errorf("%s must be a number, got %v", key, v)
}

func (t paramTable) word(step *Step, key string, v any, fallback string) (string, error) {
	if v == nil {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %v", key, v)
	}
	if ref, ok := wordRef(s); ok {
		w, ok := t.words[ref]
		if !ok {
			return "", fmt.Errorf("%s references $%s, which is not a word parameter", key, ref)
		}
		return strings.ToLower(strings.TrimSpace(w)), nil
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

func (t paramTable) resolveStep(step *Step) (Effect, error) {
	p := step.Params
	num := func(key string, fallback float64) (float64, error) {
		v, ok := p[key]
		if !ok {
			return fallback, nil
		}
		return t.number(step, key, v)
	}

	axis, err := t.word(step, "axis", step.Axis, "")
	if err != nil {
		return Effect{}, err
	}
	e := Effect{Operation: step.Operation, Axis: axis}
	if step.StartOffset != nil {
		if e.StartMS, err = t.number(step, "start_offset", step.StartOffset); err != nil {
			return Effect{}, err
		}
	}
	if e.Duration, err = t.number(step, "duration_ms", p["duration_ms"]); err != nil {
		return Effect{}, err
	}
	if e.Duration < 0 {
		return Effect{}, fmt.Errorf("duration_ms must not be negative, got %v", e.Duration)
	}
	mode, err := t.word(step, "mode", p["mode"], string(ModeAdditive))
	if err != nil {
		return Effect{}, err
	}
	e.Mode = Mode(mode)
	if e.Mode != ModeAdditive && e.Mode != ModeOverwrite {
		return Effect{}, fmt.Errorf("unknown mode %q", mode)
	}
	if e.RampInMS, err = num("ramp_in_ms", 0); err != nil {
		return Effect{}, err
	}
	if e.RampOutMS, err = num("ramp_out_ms", 0); err != nil {
		return Effect{}, err
	}
	if e.RampInMS < 0 || e.RampOutMS < 0 {
		return Effect{}, fmt.Errorf("ramp durations must not be negative")
	}

	switch step.Operation {
	case OpModulation:
		wave, err := t.word(step, "waveform", p["waveform"], "")
		if err != nil {
			return Effect{}, err
		}
		if e.Waveform, err = ParseWaveform(wave); err != nil {
			return Effect{}, err
		}
		if e.Frequency, err = t.number(step, "frequency", p["frequency"]); err != nil {
			return Effect{}, err
		}
		if e.Frequency < 0 {
			return Effect{}, fmt.Errorf("frequency must not be negative, got %v", e.Frequency)
		}
		if e.Amplitude, err = t.number(step, "amplitude", p["amplitude"]); err != nil {
			return Effect{}, err
		}
		if e.Offset, err = num("offset", 0); err != nil {
			return Effect{}, err
		}
		if e.Phase, err = num("phase", 0); err != nil {
			return Effect{}, err
		}
		if e.DutyCycle, err = num("duty_cycle", 0.5); err != nil {
			return Effect{}, err
		}
		if e.DutyCycle < 0 || e.DutyCycle > 1 {
			return Effect{}, fmt.Errorf("duty_cycle must be within [0,1], got %v", e.DutyCycle)
		}
	case OpLinearChange:
		if e.StartValue, err = t.number(step, "start_value", p["start_value"]); err != nil {
			return Effect{}, err
		}
		if e.EndValue, err = num("end_value", e.StartValue); err != nil {
			return Effect{}, err
		}
	}
	return e, nil
}
