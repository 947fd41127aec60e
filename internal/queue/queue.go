// Package queue holds requested pipeline runs and executes them one at a
// time on a background worker.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/stimforge/internal/pipeline"
)

// DefaultCapacity bounds the number of queued, not yet running, jobs.
const DefaultCapacity = 16

type Queue struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	pending  []string
	capacity int
	ready    chan struct{}
	now      func() time.Time
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		jobs:     make(map[string]*Job),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue adds a run for source and returns a snapshot of the new job.
func (q *Queue) Enqueue(source string) (*Job, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("source is empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.capacity {
		return nil, ErrQueueFull
	}
	job := &Job{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    StatusQueued,
		CreatedAt: q.now(),
	}
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return job.clone(), nil
}

// Ready is signalled after Enqueue.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Dequeue claims the oldest queued job and marks it running. The returned
// context is cancelled by Cancel. ok is false if nothing is queued.
func (q *Queue) Dequeue(parent context.Context) (job *Job, ctx context.Context, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		j := q.jobs[id]
		if j == nil || j.Status != StatusQueued {
			continue
		}
		ctx, cancel := context.WithCancel(parent)
		now := q.now()
		j.Status = StatusRunning
		j.StartedAt = &now
		j.cancel = cancel
		return j.clone(), ctx, true
	}
	return nil, nil, false
}

// Complete records the outcome of a running job.
func (q *Queue) Complete(id string, res *pipeline.Result, runErr error) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.Status != StatusRunning {
		return nil, fmt.Errorf("complete job %s: status is %s", id, j.Status)
	}
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}

	now := q.now()
	j.CompletedAt = &now
	if res != nil {
		j.RunID = res.Run.ID
		j.Channels = res.Channels
	}
	switch {
	case runErr == nil:
		j.Status = StatusSucceeded
	case pipeline.IsCancelled(runErr):
		j.Status = StatusCancelled
		j.Error = runErr.Error()
	default:
		j.Status = StatusFailed
		j.Error = runErr.Error()
	}
	return j.clone(), nil
}

// Cancel stops a job. A queued job is cancelled at once; a running job is
// asked to stop and finishes at its next channel boundary.
func (q *Queue) Cancel(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch {
	case j.Status.Terminal():
		return j.clone(), ErrJobFinished
	case j.Status == StatusQueued:
		now := q.now()
		j.Status = StatusCancelled
		j.CompletedAt = &now
		j.Error = "cancelled before start"
	case j.Status == StatusRunning && j.cancel != nil:
		j.CancelRequested = true
		j.cancel()
	}
	return j.clone(), nil
}

// Get returns a snapshot of job id.
func (q *Queue) Get(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.clone(), nil
}

// Depth is the number of jobs waiting to run.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, id := range q.pending {
		if q.jobs[id].Status == StatusQueued {
			n++
		}
	}
	return n
}
