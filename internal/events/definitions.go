// Package events applies scheduled effects (modulations and linear changes)
// to existing channel files.
package events

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operation names accepted in definitions. The long forms are canonical.
const (
	OpModulation   = "apply_modulation"
	OpLinearChange = "apply_linear_change"
)

var operationAliases = map[string]string{
	OpModulation:    OpModulation,
	"modulation":    OpModulation,
	OpLinearChange:  OpLinearChange,
	"linear_change": OpLinearChange,
}

var requiredParams = map[string][]string{
	OpModulation:   {"duration_ms", "waveform", "frequency", "amplitude"},
	OpLinearChange: {"duration_ms", "start_value"},
}

// paramAliases maps alternate spellings onto the canonical key.
var paramAliases = map[string]string{
	"frequency_hz": "frequency",
	"phase_deg":    "phase",
}

// AxisScale declares how raw event values map onto an axis' 0-1 range.
type AxisScale struct {
	Max  float64 `yaml:"max"`
	Unit string  `yaml:"unit,omitempty"`
}

// DefaultNormalization is used when a definitions file has none.
func DefaultNormalization() map[string]AxisScale {
	return map[string]AxisScale{
		"pulse_frequency": {Max: 200, Unit: "Hz"},
		"pulse_width":     {Max: 100, Unit: "%"},
		"frequency":       {Max: 360},
		"volume":          {Max: 1},
	}
}

// Step is one operation of an event definition.
type Step struct {
	Operation   string         `yaml:"operation"`
	Axis        string         `yaml:"axis"`
	StartOffset any            `yaml:"start_offset"`
	Params      map[string]any `yaml:"params"`

	exprs map[string]*Expr
}

// Definition is a named, parameterized list of steps.
type Definition struct {
	DefaultParams map[string]any `yaml:"default_params"`
	Steps         []Step         `yaml:"steps"`
}

// Definitions is the parsed event-definition document.
type Definitions struct {
	Events        map[string]*Definition `yaml:"definitions"`
	Normalization map[string]AxisScale   `yaml:"normalization"`
}

// DefinitionError reports an invalid definition or event reference.
type DefinitionError struct {
	Event  string
	Step   int // 1-based; 0 when the error is not tied to a step
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("event %q step %d: %s", e.Event, e.Step, e.Reason)
	}
	return fmt.Sprintf("event %q: %s", e.Event, e.Reason)
}

// LoadDefinitions reads a definitions file. An empty path yields no
// definitions and the default normalization table.
func LoadDefinitions(path string) (*Definitions, error) {
	if path == "" {
		return &Definitions{Events: map[string]*Definition{}, Normalization: DefaultNormalization()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event definitions: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("event definitions %s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions decodes and statically validates a definitions document:
// operations and axes are checked, required parameters must be present and
// every expression must parse and reference only declared default_params.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if defs.Events == nil {
		return nil, fmt.Errorf("missing top-level 'definitions' key")
	}
	if len(defs.Normalization) == 0 {
		defs.Normalization = DefaultNormalization()
	}
	for axis, scale := range defs.Normalization {
		if scale.Max <= 0 {
			return nil, fmt.Errorf("normalization.%s.max must be positive, got %v", axis, scale.Max)
		}
	}

	for _, name := range defs.Names() {
		def := defs.Events[name]
		if def == nil {
			return nil, &DefinitionError{Event: name, Reason: "definition is empty"}
		}
		if err := def.compile(name); err != nil {
			return nil, err
		}
	}
	return &defs, nil
}

// Names returns the defined event names, sorted.
func (d *Definitions) Names() []string {
	out := make([]string, 0, len(d.Events))
	for name := range d.Events {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Scale returns the normalization for axis: an exact entry, else the entry
// for the part before the first '-', else identity.
func (d *Definitions) Scale(axis string) AxisScale {
	if s, ok := d.Normalization[axis]; ok {
		return s
	}
	if base, _, found := strings.Cut(axis, "-"); found {
		if s, ok := d.Normalization[base]; ok {
			return s
		}
	}
	return AxisScale{Max: 1}
}

// Normalize maps a raw value onto the 0-1 range of s. Values at or below 1
// on a large scale are taken as already normalized.
func (s AxisScale) Normalize(v float64) float64 {
	if s.Max == 1 || s.Max <= 0 {
		return v
	}
	if s.Max > 1 && v <= 1 {
		return v
	}
	return v / s.Max
}

func (def *Definition) compile(name string) error {
	if len(def.Steps) == 0 {
		return &DefinitionError{Event: name, Reason: "no steps"}
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		fail := func(format string, args ...any) error {
			return &DefinitionError{Event: name, Step: i + 1, Reason: fmt.Sprintf(format, args...)}
		}

		op, ok := operationAliases[strings.TrimSpace(step.Operation)]
		if !ok {
			return fail("unknown operation %q", step.Operation)
		}
		step.Operation = op
		if strings.TrimSpace(step.Axis) == "" {
			return fail("axis is required")
		}

		params := make(map[string]any, len(step.Params))
		for key, v := range step.Params {
			if canon, ok := paramAliases[key]; ok {
				key = canon
			}
			params[key] = v
		}
		step.Params = params
		for _, key := range requiredParams[op] {
			if _, ok := params[key]; !ok {
				return fail("missing required parameter %q", key)
			}
		}

		step.exprs = make(map[string]*Expr)
		check := func(key string, v any) error {
			s, ok := v.(string)
			if !ok || !isExpression(s) {
				return nil
			}
			expr, err := Compile(s)
			if err != nil {
				return fail("%s: %v", key, err)
			}
			for _, ref := range expr.Refs() {
				if _, declared := def.DefaultParams[ref]; !declared {
					return fail("%s references $%s, which is not in default_params", key, ref)
				}
			}
			step.exprs[key] = expr
			return nil
		}
		for key, v := range params {
			if err := check(key, v); err != nil {
				return err
			}
		}
		if err := check("start_offset", step.StartOffset); err != nil {
			return err
		}
		if ref, ok := wordRef(step.Axis); ok {
			if _, declared := def.DefaultParams[ref]; !declared {
				return fail("axis references $%s, which is not in default_params", ref)
			}
		}
	}
	return nil
}

// wordRef recognizes a bare "$name" used for a non-numeric parameter.
func wordRef(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "$") || len(s) < 2 {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return "", false
		}
	}
	return s[1:], true
}
