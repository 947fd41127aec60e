package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/stimforge/internal/pipeline"
	"github.com/mattjoyce/stimforge/internal/queue"
)

type fakeExecutor struct {
	mu      sync.Mutex
	sources []string
	run     func(ctx context.Context, source string) (*pipeline.Result, error)
}

func (f *fakeExecutor) Run(ctx context.Context, source string) (*pipeline.Result, error) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()
	return f.run(ctx, source)
}

func (f *fakeExecutor) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []queue.Status
}

func (n *recordingNotifier) notify(job *queue.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, job.Status)
}

func (n *recordingNotifier) seen() []queue.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]queue.Status(nil), n.statuses...)
}

func startDispatcher(t *testing.T, q *queue.Queue, exec Executor, notify Notifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(q, exec, notify, nil).Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
}

func waitStatus(t *testing.T, q *queue.Queue, id string, want queue.Status) *queue.Job {
	t.Helper()
	var job *queue.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = q.Get(id)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestDispatcherRunsJobsInOrder(t *testing.T) {
	q := queue.New(0)
	exec := &fakeExecutor{run: func(ctx context.Context, source string) (*pipeline.Result, error) {
		if source == "bad.funscript" {
			return nil, errors.New("malformed funscript bad.funscript: no actions")
		}
		return &pipeline.Result{Run: pipeline.RunInfo{ID: "run-" + source}, Status: pipeline.StatusSucceeded}, nil
	}}
	notes := &recordingNotifier{}
	startDispatcher(t, q, exec, notes.notify)

	good, err := q.Enqueue("good.funscript")
	require.NoError(t, err)
	bad, err := q.Enqueue("bad.funscript")
	require.NoError(t, err)

	done := waitStatus(t, q, good.ID, queue.StatusSucceeded)
	assert.Equal(t, "run-good.funscript", done.RunID)
	failed := waitStatus(t, q, bad.ID, queue.StatusFailed)
	assert.Contains(t, failed.Error, "malformed")

	assert.Equal(t, []string{"good.funscript", "bad.funscript"}, exec.seen())
	require.Eventually(t, func() bool { return len(notes.seen()) == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []queue.Status{
		queue.StatusRunning, queue.StatusSucceeded,
		queue.StatusRunning, queue.StatusFailed,
	}, notes.seen())
}

func TestDispatcherCancelsRunningJob(t *testing.T) {
	q := queue.New(0)
	started := make(chan struct{})
	exec := &fakeExecutor{run: func(ctx context.Context, source string) (*pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return &pipeline.Result{Run: pipeline.RunInfo{ID: "run-1"}, Status: pipeline.StatusCancelled}, ctx.Err()
	}}
	startDispatcher(t, q, exec, nil)

	job, err := q.Enqueue("slow.funscript")
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	_, err = q.Cancel(job.ID)
	require.NoError(t, err)
	done := waitStatus(t, q, job.ID, queue.StatusCancelled)
	assert.Equal(t, "run-1", done.RunID)
	assert.True(t, done.CancelRequested)
}
