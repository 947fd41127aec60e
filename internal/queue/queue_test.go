package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/mattjoyce/stimforge/internal/pipeline"
)

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()

	q := New(0)
	j1, err := q.Enqueue("/media/a.funscript")
	if err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	j2, err := q.Enqueue("/media/b.funscript")
	if err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	if j1.Status != StatusQueued || j1.ID == j2.ID {
		t.Fatalf("unexpected jobs: %#v %#v", j1, j2)
	}
	if got := q.Depth(); got != 2 {
		t.Fatalf("Depth() = %d, want 2", got)
	}

	got1, _, ok := q.Dequeue(context.Background())
	if !ok || got1.ID != j1.ID || got1.Status != StatusRunning || got1.StartedAt == nil {
		t.Fatalf("unexpected job1: %#v", got1)
	}
	got2, _, ok := q.Dequeue(context.Background())
	if !ok || got2.ID != j2.ID {
		t.Fatalf("unexpected job2: %#v", got2)
	}
	if got3, _, ok := q.Dequeue(context.Background()); ok {
		t.Fatalf("expected empty queue, got %#v", got3)
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1)
	if _, err := q.Enqueue("a.funscript"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue("b.funscript"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue err = %v, want ErrQueueFull", err)
	}
	if _, err := q.Enqueue("  "); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestQueueCancelQueuedJob(t *testing.T) {
	t.Parallel()

	q := New(0)
	job, _ := q.Enqueue("a.funscript")
	next, _ := q.Enqueue("b.funscript")

	cancelled, err := q.Cancel(job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("unexpected cancelled job: %#v", cancelled)
	}
	if got := q.Depth(); got != 1 {
		t.Fatalf("Depth() = %d, want 1", got)
	}

	got, _, ok := q.Dequeue(context.Background())
	if !ok || got.ID != next.ID {
		t.Fatalf("Dequeue returned %#v, want the second job", got)
	}
	if _, err := q.Cancel(job.ID); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("second Cancel err = %v, want ErrJobFinished", err)
	}
}

func TestQueueCancelRunningJob(t *testing.T) {
	t.Parallel()

	q := New(0)
	job, _ := q.Enqueue("a.funscript")
	_, ctx, ok := q.Dequeue(context.Background())
	if !ok {
		t.Fatal("Dequeue: queue empty")
	}

	snap, err := q.Cancel(job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if snap.Status != StatusRunning || !snap.CancelRequested {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("job context was not cancelled")
	}

	res := &pipeline.Result{Run: pipeline.RunInfo{ID: "run-1"}}
	done, err := q.Complete(job.ID, res, ctx.Err())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCancelled || done.RunID != "run-1" || done.Error == "" {
		t.Fatalf("unexpected completed job: %#v", done)
	}
}

func TestQueueCompleteOutcomes(t *testing.T) {
	t.Parallel()

	q := New(0)
	ok1, _ := q.Enqueue("a.funscript")
	bad, _ := q.Enqueue("b.funscript")
	q.Dequeue(context.Background())
	q.Dequeue(context.Background())

	res := &pipeline.Result{
		Run:      pipeline.RunInfo{ID: "run-a"},
		Channels: []pipeline.ChannelRecord{{Role: "speed", Outcome: pipeline.OutcomeGenerated}},
	}
	done, err := q.Complete(ok1.ID, res, nil)
	if err != nil {
		t.Fatalf("Complete ok: %v", err)
	}
	if done.Status != StatusSucceeded || len(done.Channels) != 1 || done.CompletedAt == nil {
		t.Fatalf("unexpected succeeded job: %#v", done)
	}

	failed, err := q.Complete(bad.ID, nil, errors.New("channel ramp (ramp) failed: boom"))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if failed.Status != StatusFailed || failed.Error != "channel ramp (ramp) failed: boom" {
		t.Fatalf("unexpected failed job: %#v", failed)
	}

	if _, err := q.Complete(bad.ID, nil, nil); err == nil {
		t.Fatal("expected error completing a finished job")
	}
	if _, err := q.Get("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Get err = %v, want ErrJobNotFound", err)
	}
	if _, err := q.Cancel("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Cancel err = %v, want ErrJobNotFound", err)
	}
}

func TestQueueSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	q := New(0)
	job, _ := q.Enqueue("a.funscript")
	job.Status = StatusFailed

	got, err := q.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Fatalf("stored job was mutated through a snapshot: %#v", got)
	}
}
