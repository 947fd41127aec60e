package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/stimforge/internal/pipeline"
	"github.com/mattjoyce/stimforge/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func startRun(t *testing.T, s *Store, id, source string, at time.Time) {
	t.Helper()
	err := s.StartRun(context.Background(), pipeline.RunInfo{
		ID:                id,
		Source:            source,
		SourceFingerprint: "blake3:src",
		GraphFingerprint:  "blake3:graph",
		OutputDir:         "/out",
		TempDir:           "/tmp/work",
		StartedAt:         at,
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	startRun(t, s, "run-1", "/media/clip.funscript", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != pipeline.StatusRunning || run.FinishedAt != nil {
		t.Fatalf("unexpected fresh run: %+v", run)
	}

	recs := []pipeline.ChannelRecord{
		{RunID: "run-1", Role: "speed", Class: pipeline.ClassIntermediary, Transform: "speed", Outcome: pipeline.OutcomeGenerated, Path: "/tmp/work/clip.speed.funscript", Fingerprint: "blake3:a", Duration: 12 * time.Millisecond},
		{RunID: "run-1", Role: "ramp", Class: pipeline.ClassIntermediary, Transform: "ramp", Outcome: pipeline.OutcomeFailed, Path: "/tmp/work/clip.ramp.funscript", Error: "too short"},
	}
	for _, rec := range recs {
		if err := s.RecordChannel(ctx, rec); err != nil {
			t.Fatalf("RecordChannel: %v", err)
		}
	}
	if err := s.FinishRun(ctx, "run-1", pipeline.StatusFailed, "too short"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != pipeline.StatusFailed || run.Error != "too short" || run.FinishedAt == nil {
		t.Fatalf("unexpected finished run: %+v", run)
	}
	if run.GraphFingerprint != "blake3:graph" {
		t.Fatalf("graph fingerprint = %q", run.GraphFingerprint)
	}

	got, err := s.Channels(ctx, "run-1")
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(got))
	}
	if got[0].Role != "speed" || got[0].Duration != 12*time.Millisecond || got[0].Fingerprint != "blake3:a" {
		t.Fatalf("unexpected first channel: %+v", got[0])
	}
	if got[1].Outcome != pipeline.OutcomeFailed || got[1].Error != "too short" {
		t.Fatalf("unexpected second channel: %+v", got[1])
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.FinishRun(context.Background(), "missing", pipeline.StatusSucceeded, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FinishRun: expected ErrNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	startRun(t, s, "a", "/m/one.funscript", base)
	startRun(t, s, "b", "/m/two.funscript", base.Add(time.Minute))
	startRun(t, s, "c", "/m/one.funscript", base.Add(2*time.Minute))

	all, err := s.ListRuns(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("unexpected order: %v, %v, %v", all[0].ID, all[1].ID, all[2].ID)
	}

	one, err := s.ListRuns(context.Background(), "/m/one.funscript", 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(one) != 1 || one[0].ID != "c" {
		t.Fatalf("expected latest run for source, got %+v", one)
	}
}

func TestLastWriter(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	path := "/out/clip.volume.funscript"

	tick := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	startRun(t, s, "first", "/m/clip.funscript", tick)
	if err := s.RecordChannel(ctx, pipeline.ChannelRecord{RunID: "first", Role: "volume", Class: pipeline.ClassFinal, Transform: "v1", Outcome: pipeline.OutcomeGenerated, Path: path}); err != nil {
		t.Fatal(err)
	}
	startRun(t, s, "second", "/m/clip.funscript", tick)
	if err := s.RecordChannel(ctx, pipeline.ChannelRecord{RunID: "second", Role: "volume", Class: pipeline.ClassFinal, Transform: "v2", Outcome: pipeline.OutcomeSkipped, Path: path}); err != nil {
		t.Fatal(err)
	}

	run, rec, err := s.LastWriter(ctx, path)
	if err != nil {
		t.Fatalf("LastWriter: %v", err)
	}
	if run.ID != "first" || rec.Transform != "v1" {
		t.Fatalf("skipped run must not count as writer: run=%s rec=%+v", run.ID, rec)
	}

	if _, _, err := s.LastWriter(ctx, "/out/other.funscript"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneCascades(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now.Add(-48 * time.Hour) }
	startRun(t, s, "old", "/m/clip.funscript", now.Add(-48*time.Hour))
	if err := s.RecordChannel(ctx, pipeline.ChannelRecord{RunID: "old", Role: "speed", Class: pipeline.ClassIntermediary, Transform: "speed", Outcome: pipeline.OutcomeGenerated, Path: "/x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, "old", pipeline.StatusSucceeded, ""); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return now }
	startRun(t, s, "live", "/m/clip.funscript", now)

	removed, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d", removed)
	}
	chans, err := s.Channels(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if len(chans) != 0 {
		t.Fatalf("channel rows should cascade, got %d", len(chans))
	}
	if _, err := s.GetRun(ctx, "live"); err != nil {
		t.Fatalf("unfinished run should survive: %v", err)
	}
}
