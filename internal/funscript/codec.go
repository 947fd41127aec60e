package funscript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// Decode parses a funscript document from r. source names the document in
// errors.
func Decode(r io.Reader, source string) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return Parse(data, source)
}

// Parse validates and converts raw JSON into a Script. Positions are rounded
// and clamped to [0,100]; actions are stably sorted by time.
func Parse(data []byte, source string) (*Script, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MalformedInputError{Source: source, Reason: "empty document"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &MalformedInputError{Source: source, Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	rawActions, ok := top["actions"]
	if !ok {
		return nil, &MalformedInputError{Source: source, Reason: "missing required field: actions"}
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(rawActions, &items); err != nil {
		return nil, &MalformedInputError{Source: source, Reason: "actions must be an array of objects"}
	}
	if len(items) == 0 {
		return nil, &MalformedInputError{Source: source, Reason: "actions is empty"}
	}

	script := &Script{Actions: make([]Action, 0, len(items))}
	for i, item := range items {
		at, err := numberField(item, "at")
		if err != nil {
			return nil, &MalformedInputError{Source: source, Reason: fmt.Sprintf("actions[%d]: %v", i, err)}
		}
		if at < 0 {
			return nil, &MalformedInputError{Source: source, Reason: fmt.Sprintf("actions[%d]: at must be non-negative, got %v", i, at)}
		}
		pos, err := numberField(item, "pos")
		if err != nil {
			return nil, &MalformedInputError{Source: source, Reason: fmt.Sprintf("actions[%d]: %v", i, err)}
		}
		script.Actions = append(script.Actions, Action{
			At:  int64(math.Round(at)),
			Pos: ClampPos(int(math.Round(pos))),
		})
	}

	sort.SliceStable(script.Actions, func(i, j int) bool {
		return script.Actions[i].At < script.Actions[j].At
	})

	for k, v := range top {
		if k == "actions" {
			continue
		}
		if script.Metadata == nil {
			script.Metadata = make(map[string]json.RawMessage)
		}
		script.Metadata[k] = v
	}
	return script, nil
}

func numberField(item map[string]json.RawMessage, name string) (float64, error) {
	raw, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("field %q is not numeric", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("field %q is not finite", name)
	}
	return v, nil
}

// Encode writes the canonical JSON form of s to w.
func Encode(w io.Writer, s *Script) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write funscript: %w", err)
	}
	return nil
}

// Marshal renders s deterministically: metadata keys sorted, actions last.
func Marshal(s *Script) ([]byte, error) {
	keys := make([]string, 0, len(s.Metadata))
	for k := range s.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata key: %w", err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(s.Metadata[k])
		buf.WriteByte(',')
	}
	actions := s.Actions
	if actions == nil {
		actions = []Action{}
	}
	body, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("marshal actions: %w", err)
	}
	buf.WriteString(`"actions":`)
	buf.Write(body)
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// Load reads and parses the file at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read funscript %s: %w", path, err)
	}
	return Parse(data, path)
}

// Save writes s to path via a temp file and rename so readers never observe
// a partial document.
func Save(path string, s *Script) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// ClampPos bounds a persisted position to [0,100].
func ClampPos(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
