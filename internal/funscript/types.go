package funscript

import (
	"encoding/json"
	"fmt"
)

// DefaultInterval is the resampling grid spacing in seconds.
const DefaultInterval = 0.1

// Action is one persisted sample: milliseconds and a 0-100 position.
type Action struct {
	At  int64 `json:"at"`
	Pos int   `json:"pos"`
}

// Script is a parsed funscript document. Metadata carries any top-level keys
// other than "actions" so a rewrite does not drop them.
type Script struct {
	Actions  []Action                   `json:"actions"`
	Metadata map[string]json.RawMessage `json:"-"`
}

// Duration returns the span between the first and last action.
func (s *Script) Duration() int64 {
	if len(s.Actions) == 0 {
		return 0
	}
	return s.Actions[len(s.Actions)-1].At - s.Actions[0].At
}

// Clone returns a deep copy.
func (s *Script) Clone() *Script {
	out := &Script{Actions: append([]Action(nil), s.Actions...)}
	if s.Metadata != nil {
		out.Metadata = make(map[string]json.RawMessage, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// MalformedInputError reports a document that is not a usable action list.
type MalformedInputError struct {
	Source string
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("malformed funscript: %s", e.Reason)
	}
	return fmt.Sprintf("malformed funscript %s: %s", e.Source, e.Reason)
}
