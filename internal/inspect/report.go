// Package inspect renders provenance reports from the run ledger.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mattjoyce/stimforge/internal/funscript"
	"github.com/mattjoyce/stimforge/internal/pipeline"
	"github.com/mattjoyce/stimforge/internal/runlog"
)

// Ledger is the read side of the run ledger.
type Ledger interface {
	GetRun(ctx context.Context, id string) (*runlog.Run, error)
	Channels(ctx context.Context, runID string) ([]pipeline.ChannelRecord, error)
	LastWriter(ctx context.Context, path string) (*runlog.Run, *pipeline.ChannelRecord, error)
}

// File states compare the recorded fingerprint with the file on disk.
const (
	StateFresh    = "fresh"
	StateModified = "modified"
	StateMissing  = "missing"
	StateUnknown  = "-"
)

// Report is the structured JSON representation of a provenance report.
type Report struct {
	RunID             string     `json:"run_id"`
	Source            string     `json:"source"`
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	SourceFingerprint string     `json:"source_fingerprint,omitempty"`
	ConfigFingerprint string     `json:"config_fingerprint,omitempty"`
	GraphFingerprint  string     `json:"graph_fingerprint,omitempty"`
	Target            string     `json:"target,omitempty"`
	Steps             []Step     `json:"steps"`
}

// Step is one channel in the report.
type Step struct {
	Hop         int      `json:"hop"`
	Role        string   `json:"role"`
	Class       string   `json:"class"`
	Transform   string   `json:"transform"`
	Outcome     string   `json:"outcome"`
	Inputs      []string `json:"inputs,omitempty"`
	Path        string   `json:"path"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	State       string   `json:"state"`
	Error       string   `json:"error,omitempty"`
}

// ForRun reports every channel of a run, or only role and its ancestors
// when role is set. graph supplies inputs and may be nil.
func ForRun(ctx context.Context, ledger Ledger, graph *pipeline.Graph, runID, role string) (*Report, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	run, err := ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	channels, err := ledger.Channels(ctx, runID)
	if err != nil {
		return nil, err
	}
	return build(run, channels, graph, role)
}

// ForFile reports the run that last wrote path and the channels it was
// derived from.
func ForFile(ctx context.Context, ledger Ledger, graph *pipeline.Graph, path string) (*Report, error) {
	run, rec, err := ledger.LastWriter(ctx, path)
	if err != nil {
		return nil, err
	}
	channels, err := ledger.Channels(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return build(run, channels, graph, rec.Role)
}

func build(run *runlog.Run, channels []pipeline.ChannelRecord, graph *pipeline.Graph, target string) (*Report, error) {
	report := &Report{
		RunID:             run.ID,
		Source:            run.Source,
		Status:            string(run.Status),
		Error:             run.Error,
		StartedAt:         run.StartedAt,
		FinishedAt:        run.FinishedAt,
		SourceFingerprint: run.SourceFingerprint,
		ConfigFingerprint: run.ConfigFingerprint,
		GraphFingerprint:  run.GraphFingerprint,
		Target:            target,
		Steps:             make([]Step, 0, len(channels)),
	}

	byRole := make(map[string]pipeline.ChannelRecord, len(channels))
	for _, rec := range channels {
		byRole[rec.Role] = rec
	}

	order := make([]string, 0, len(channels))
	if target == "" {
		for _, rec := range channels {
			order = append(order, rec.Role)
		}
	} else {
		if _, ok := byRole[target]; !ok {
			return nil, fmt.Errorf("run %s has no channel %q", run.ID, target)
		}
		order = lineage(graph, target, byRole)
	}

	for i, role := range order {
		rec := byRole[role]
		step := Step{
			Hop:         i + 1,
			Role:        rec.Role,
			Class:       string(rec.Class),
			Transform:   rec.Transform,
			Outcome:     string(rec.Outcome),
			Path:        rec.Path,
			Fingerprint: rec.Fingerprint,
			State:       fileState(rec),
			Error:       rec.Error,
		}
		if graph != nil {
			step.Inputs = graph.Nodes[role].Inputs
		}
		report.Steps = append(report.Steps, step)
	}
	return report, nil
}

// lineage returns target and its recorded ancestors, producers first.
func lineage(graph *pipeline.Graph, target string, recorded map[string]pipeline.ChannelRecord) []string {
	if graph == nil {
		return []string{target}
	}
	want := map[string]bool{target: true}
	stack := []string{target}
	for len(stack) > 0 {
		role := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, in := range graph.Nodes[role].Inputs {
			if in == pipeline.Primary || want[in] {
				continue
			}
			want[in] = true
			stack = append(stack, in)
		}
	}

	var out []string
	for _, role := range graph.Order {
		if _, ok := recorded[role]; ok && want[role] {
			out = append(out, role)
		}
	}
	return out
}

func fileState(rec pipeline.ChannelRecord) string {
	if rec.Fingerprint == "" {
		return StateUnknown
	}
	current, err := funscript.FingerprintFile(rec.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return StateMissing
	}
	if err != nil {
		return StateUnknown
	}
	if current != rec.Fingerprint {
		return StateModified
	}
	return StateFresh
}

// Render formats a report for the terminal.
func Render(report *Report) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Provenance Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Source      : %s\n", report.Source)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       : %s\n", report.Error)
	}
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Source hash : %s\n", renderUnset(report.SourceFingerprint, "<none>"))
	fmt.Fprintf(&out, "Config hash : %s\n", renderUnset(report.ConfigFingerprint, "<none>"))
	fmt.Fprintf(&out, "Graph hash  : %s\n", renderUnset(report.GraphFingerprint, "<none>"))
	if report.Target != "" {
		fmt.Fprintf(&out, "Target      : %s\n", report.Target)
	}
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s (%s) %s\n", step.Hop, step.Role, step.Class, step.Outcome)
		fmt.Fprintf(&out, "    transform : %s\n", step.Transform)
		if len(step.Inputs) > 0 {
			fmt.Fprintf(&out, "    inputs    : %s\n", strings.Join(step.Inputs, ", "))
		}
		fmt.Fprintf(&out, "    path      : %s\n", step.Path)
		fmt.Fprintf(&out, "    file      : %s\n", step.State)
		if step.Error != "" {
			fmt.Fprintf(&out, "    error     : %s\n", step.Error)
		}
		fmt.Fprintf(&out, "\n")
	}
	return strings.TrimRight(out.String(), "\n") + "\n"
}

// RenderJSON returns the machine-readable report.
func RenderJSON(report *Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
