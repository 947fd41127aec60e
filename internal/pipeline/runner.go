package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/stimforge/internal/config"
	"github.com/mattjoyce/stimforge/internal/funscript"
	"github.com/mattjoyce/stimforge/internal/lock"
	"github.com/mattjoyce/stimforge/internal/workspace"
)

// Outcome is what happened to one channel in a run.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeAuxiliary Outcome = "auxiliary"
	OutcomeFailed    Outcome = "failed"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// RunInfo identifies a run and the inputs that determine its outputs.
type RunInfo struct {
	ID                string
	Source            string
	SourceFingerprint string
	ConfigFingerprint string
	GraphFingerprint  string
	OutputDir         string
	TempDir           string
	StartedAt         time.Time
}

// ChannelRecord is the provenance of one channel file.
type ChannelRecord struct {
	RunID       string        `json:"run_id"`
	Role        string        `json:"role"`
	Class       Class         `json:"class"`
	Transform   string        `json:"transform"`
	Outcome     Outcome       `json:"outcome"`
	Path        string        `json:"path"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Result is returned by Run, also on failure.
type Result struct {
	Run      RunInfo
	Status   RunStatus
	Channels []ChannelRecord
	Cleanup  workspace.CleanupReport
}

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/stimforge/internal/pipeline Recorder

// Recorder persists run provenance.
type Recorder interface {
	StartRun(ctx context.Context, info RunInfo) error
	RecordChannel(ctx context.Context, rec ChannelRecord) error
	FinishRun(ctx context.Context, runID string, status RunStatus, errMsg string) error
}

// Runner executes the channel graph for source files.
type Runner struct {
	cfg      *config.Config
	graph    *Graph
	recorder Recorder
	logger   *slog.Logger
}

// NewRunner compiles the catalog for cfg. recorder may be nil.
func NewRunner(cfg *config.Config, recorder Recorder, logger *slog.Logger) (*Runner, error) {
	nodes, err := Catalog(cfg)
	if err != nil {
		return nil, err
	}
	return NewRunnerWithNodes(cfg, nodes, recorder, logger)
}

// NewRunnerWithNodes runs an explicit node set instead of the catalog.
func NewRunnerWithNodes(cfg *config.Config, nodes []Node, recorder Recorder, logger *slog.Logger) (*Runner, error) {
	graph, err := Compile(nodes)
	if err != nil {
		return nil, fmt.Errorf("compile channel graph: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		graph:    graph,
		recorder: recorder,
		logger:   logger.With("component", "pipeline"),
	}, nil
}

// Graph returns the compiled channel graph.
func (r *Runner) Graph() *Graph {
	return r.graph
}

// Run produces every channel of source. Nodes run in graph order; the first
// failure aborts the run and leaves already written files in place.
// Cancellation is observed between nodes.
func (r *Runner) Run(ctx context.Context, source string) (*Result, error) {
	ns, err := workspace.New(source, r.cfg.Output.Dir, r.cfg.Output.TempDir)
	if err != nil {
		return nil, err
	}

	store := funscript.NewStore()
	if _, err := store.GetOrLoad(ns.Source()); err != nil {
		return nil, err
	}

	info := RunInfo{
		ID:               uuid.New().String(),
		Source:           ns.Source(),
		GraphFingerprint: r.graph.Fingerprint,
		OutputDir:        ns.OutputDir,
		TempDir:          ns.TempDir,
		StartedAt:        time.Now().UTC(),
	}
	info.SourceFingerprint, _ = store.FingerprintOf(ns.Source())
	if fp, err := config.Fingerprint(r.cfg); err == nil {
		info.ConfigFingerprint = fp
	}
	logger := r.logger.With("run_id", info.ID, "source", info.Source)

	if err := ns.Prepare(ctx); err != nil {
		return nil, err
	}
	pidLock, err := lock.Acquire(ns.LockPath())
	if err != nil {
		return nil, err
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := pidLock.Release(); err != nil {
			logger.Warn("failed to release lock", "path", pidLock.Path(), "error", err)
		}
	}
	defer release()

	res := &Result{Run: info, Status: StatusRunning}
	r.startRun(ctx, logger, info)
	logger.Info("run started", "channels", len(r.graph.Order), "graph", r.graph.Fingerprint)

	paths := map[string]string{Primary: ns.Source()}
	in := newInputs(store, r.cfg.Speed.InterpolationInterval, paths)

	for _, role := range r.graph.Order {
		if err := ctx.Err(); err != nil {
			res.Status = StatusCancelled
			r.finishRun(ctx, logger, info.ID, res.Status, err.Error())
			logger.Warn("run cancelled", "next_channel", role)
			return res, err
		}

		node := r.graph.Nodes[role]
		rec, err := r.runNode(ctx, logger, ns, in, node)
		rec.RunID = info.ID
		res.Channels = append(res.Channels, rec)
		r.recordChannel(ctx, logger, rec)
		if err != nil {
			res.Status = StatusFailed
			r.finishRun(ctx, logger, info.ID, res.Status, err.Error())
			logger.Error("run failed", "channel", role, "error", err)
			return res, err
		}
		paths[role] = rec.Path
	}

	release()
	if r.cfg.Options.DeleteIntermediaryFiles {
		report, err := ns.Cleanup(ctx)
		if err != nil {
			logger.Warn("failed to clean working directory", "dir", ns.TempDir, "error", err)
		}
		res.Cleanup = report
	}

	res.Status = StatusSucceeded
	r.finishRun(ctx, logger, info.ID, res.Status, "")
	hits, loads := store.Stats()
	logger.Info("run finished", "channels", len(res.Channels), "cache_hits", hits, "cache_loads", loads, "removed_files", res.Cleanup.RemovedFiles)
	return res, nil
}

// Destination is where role is written for ns.
func (r *Runner) Destination(ns *workspace.Namespace, node Node) string {
	if node.Class == ClassFinal || (node.Class == ClassAlternative && node.Deliver) {
		return ns.OutputPath(node.Role)
	}
	return ns.TempPath(node.Role)
}

func (r *Runner) runNode(ctx context.Context, logger *slog.Logger, ns *workspace.Namespace, in *Inputs, node Node) (ChannelRecord, error) {
	started := time.Now()
	dest := r.Destination(ns, node)
	rec := ChannelRecord{Role: node.Role, Class: node.Class, Transform: node.Transform, Path: dest}
	chLogger := logger.With("channel", node.Role)

	finish := func(outcome Outcome, err error) (ChannelRecord, error) {
		rec.Outcome = outcome
		rec.Duration = time.Since(started)
		if err != nil {
			rec.Error = err.Error()
			return rec, err
		}
		if fp, ferr := funscript.FingerprintFile(dest); ferr == nil {
			rec.Fingerprint = fp
		}
		return rec, nil
	}

	if node.Overridable {
		if workspace.Exists(ns.AuxiliaryPath(node.Role)) {
			if err := ns.CopyAuxiliary(ctx, node.Role, dest); err != nil {
				return finish(OutcomeFailed, &NodeError{Role: node.Role, Transform: "auxiliary", Err: err})
			}
			rec.Transform = "auxiliary"
			chLogger.Info("using auxiliary file", "path", ns.AuxiliaryPath(node.Role))
			return finish(OutcomeAuxiliary, nil)
		}
		chLogger.Debug("generating channel", "reason", ErrMissingAuxiliary.Error())
	}

	if !r.cfg.Options.OverwriteExistingFiles && workspace.Exists(dest) {
		chLogger.Warn("channel file exists, skipping; it may be stale relative to current parameters", "path", dest)
		return finish(OutcomeSkipped, nil)
	}

	script, err := node.Produce(ctx, in)
	if err != nil {
		return finish(OutcomeFailed, &NodeError{Role: node.Role, Transform: node.Transform, Err: err})
	}
	if err := funscript.Save(dest, script); err != nil {
		werr := &WriteFailure{Role: node.Role, Path: dest, Err: err}
		return finish(OutcomeFailed, &NodeError{Role: node.Role, Transform: node.Transform, Err: werr})
	}
	chLogger.Debug("channel generated", "path", dest, "actions", len(script.Actions))
	return finish(OutcomeGenerated, nil)
}

func (r *Runner) startRun(ctx context.Context, logger *slog.Logger, info RunInfo) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.StartRun(ctx, info); err != nil {
		logger.Warn("failed to record run start", "error", err)
	}
}

func (r *Runner) recordChannel(ctx context.Context, logger *slog.Logger, rec ChannelRecord) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordChannel(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record channel", "channel", rec.Role, "error", err)
	}
}

func (r *Runner) finishRun(ctx context.Context, logger *slog.Logger, runID string, status RunStatus, errMsg string) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.FinishRun(context.WithoutCancel(ctx), runID, status, errMsg); err != nil {
		logger.Warn("failed to record run finish", "status", status, "error", err)
	}
}

// IsCancelled reports whether err ended a run through cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
