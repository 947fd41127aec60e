package pipeline

import (
	"fmt"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

// Inputs resolves a node's declared inputs to their files on disk and loads
// them through the run's store.
type Inputs struct {
	Interval float64
	store    *funscript.Store
	paths    map[string]string
	shared   map[string]any
}

func newInputs(store *funscript.Store, interval float64, paths map[string]string) *Inputs {
	return &Inputs{Interval: interval, store: store, paths: paths, shared: make(map[string]any)}
}

// Shared returns the value built under key earlier in this run, calling build
// on first use. Failed builds are not kept.
func (in *Inputs) Shared(key string, build func() (any, error)) (any, error) {
	if v, ok := in.shared[key]; ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	in.shared[key] = v
	return v, nil
}

// Path returns the file currently backing role.
func (in *Inputs) Path(role string) (string, error) {
	path, ok := in.paths[role]
	if !ok {
		return "", fmt.Errorf("input %q has not been produced", role)
	}
	return path, nil
}

// Script loads role as an action list.
func (in *Inputs) Script(role string) (*funscript.Script, error) {
	path, err := in.Path(role)
	if err != nil {
		return nil, err
	}
	return in.store.GetOrLoad(path)
}

// Signal loads role resampled at the run's interval.
func (in *Inputs) Signal(role string) (funscript.Signal, error) {
	path, err := in.Path(role)
	if err != nil {
		return funscript.Signal{}, err
	}
	return in.store.LoadSignal(path, in.Interval)
}
