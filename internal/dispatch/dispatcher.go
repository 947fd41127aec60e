package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/stimforge/internal/pipeline"
	"github.com/mattjoyce/stimforge/internal/queue"
)

// pollInterval is the fallback wake-up when no enqueue signal arrives.
const pollInterval = time.Second

// Executor runs the channel graph for one source file.
type Executor interface {
	Run(ctx context.Context, source string) (*pipeline.Result, error)
}

// Notifier receives a job snapshot after every status change.
type Notifier func(job *queue.Job)

// Dispatcher dequeues jobs and executes them one at a time.
type Dispatcher struct {
	queue  *queue.Queue
	exec   Executor
	notify Notifier
	logger *slog.Logger
}

// New creates a new Dispatcher. notify may be nil.
func New(q *queue.Queue, exec Executor, notify Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:  q,
		exec:   exec,
		notify: notify,
		logger: logger.With("component", "dispatch"),
	}
}

// Start runs the dispatch loop until ctx is cancelled. A run in progress at
// shutdown is cancelled at its next channel boundary.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started")
	defer d.logger.Info("dispatch loop stopped")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.queue.Ready():
		case <-ticker.C:
		}
	}
}

// drain executes queued jobs until the queue is empty or ctx ends.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		job, jobCtx, ok := d.queue.Dequeue(ctx)
		if !ok {
			return
		}
		d.executeJob(jobCtx, job)
	}
}

func (d *Dispatcher) executeJob(ctx context.Context, job *queue.Job) {
	jobLogger := d.logger.With("job_id", job.ID, "source", job.Source)
	jobLogger.Info("executing job")
	d.publish(job)

	started := time.Now()
	res, runErr := d.exec.Run(ctx, job.Source)
	done, err := d.queue.Complete(job.ID, res, runErr)
	if err != nil {
		jobLogger.Error("failed to complete job", "error", err)
		return
	}

	attrs := []any{"status", done.Status, "run_id", done.RunID, "duration_ms", time.Since(started).Milliseconds()}
	switch done.Status {
	case queue.StatusSucceeded:
		jobLogger.Info("job finished", attrs...)
	case queue.StatusCancelled:
		jobLogger.Warn("job cancelled", attrs...)
	default:
		jobLogger.Error("job failed", append(attrs, "error", done.Error)...)
	}
	d.publish(done)
}

func (d *Dispatcher) publish(job *queue.Job) {
	if d.notify != nil {
		d.notify(job)
	}
}
