package pipeline

import (
	"errors"
	"fmt"
)

// ErrMissingAuxiliary marks an overridable role with no user-supplied file.
// It is never returned from a run; generation proceeds normally.
var ErrMissingAuxiliary = errors.New("auxiliary file not present")

// NodeError reports which channel and transform failed.
type NodeError struct {
	Role      string
	Transform string
	Err       error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("channel %s (%s) failed: %v", e.Role, e.Transform, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// WriteFailure is a filesystem error while persisting a channel.
type WriteFailure struct {
	Role string
	Path string
	Err  error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write %s to %s: %v", e.Role, e.Path, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }
