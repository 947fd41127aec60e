package queue

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/stimforge/internal/pipeline"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is one requested pipeline run for a source file.
type Job struct {
	ID          string                   `json:"id"`
	Source      string                   `json:"source"`
	Status      Status                   `json:"status"`
	RunID       string                   `json:"run_id,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Channels    []pipeline.ChannelRecord `json:"channels,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`

	// CancelRequested is set while a running job winds down after Cancel.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	cancel context.CancelFunc
}

func (j *Job) clone() *Job {
	out := *j
	out.Channels = append([]pipeline.ChannelRecord(nil), j.Channels...)
	out.cancel = nil
	return &out
}

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
	ErrQueueFull   = errors.New("run queue is full")
)
