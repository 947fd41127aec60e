// Package runlog records pipeline runs and per-channel provenance in the
// SQLite ledger.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/stimforge/internal/pipeline"
)

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Run is a ledger row.
type Run struct {
	ID                string             `json:"id"`
	Source            string             `json:"source"`
	SourceFingerprint string             `json:"source_fingerprint,omitempty"`
	ConfigFingerprint string             `json:"config_fingerprint,omitempty"`
	GraphFingerprint  string             `json:"graph_fingerprint,omitempty"`
	OutputDir         string             `json:"output_dir"`
	TempDir           string             `json:"temp_dir"`
	Status            pipeline.RunStatus `json:"status"`
	Error             string             `json:"error,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
	FinishedAt        *time.Time         `json:"finished_at,omitempty"`
}

// Store implements pipeline.Recorder over a ledger database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ pipeline.Recorder = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) StartRun(ctx context.Context, info pipeline.RunInfo) error {
	if info.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	started := info.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(id, source, source_fingerprint, config_fingerprint, graph_fingerprint, output_dir, temp_dir, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, info.ID, info.Source, info.SourceFingerprint, info.ConfigFingerprint, info.GraphFingerprint,
		info.OutputDir, info.TempDir, string(pipeline.StatusRunning), formatTime(started))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordChannel upserts the channel row; a role recorded twice in one run
// keeps the latest outcome.
func (s *Store) RecordChannel(ctx context.Context, rec pipeline.ChannelRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO channel_log(run_id, role, class, transform, outcome, path, fingerprint, error, duration_ms, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, role) DO UPDATE SET
  class = excluded.class,
  transform = excluded.transform,
  outcome = excluded.outcome,
  path = excluded.path,
  fingerprint = excluded.fingerprint,
  error = excluded.error,
  duration_ms = excluded.duration_ms,
  recorded_at = excluded.recorded_at;
`, rec.RunID, rec.Role, string(rec.Class), rec.Transform, string(rec.Outcome), rec.Path,
		nullable(rec.Fingerprint), nullable(rec.Error), rec.Duration.Milliseconds(), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("record channel %s: %w", rec.Role, err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, last_error = ?, finished_at = ? WHERE id = ?;
`, string(status), nullable(errMsg), formatTime(s.now()), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, source, source_fingerprint, config_fingerprint, graph_fingerprint, output_dir, temp_dir, status, last_error, started_at, finished_at`

// GetRun returns one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?;`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns the newest runs first. An empty source lists all.
func (s *Store) ListRuns(ctx context.Context, source string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Channels returns the provenance rows of a run ordered by recording time.
func (s *Store) Channels(ctx context.Context, runID string) ([]pipeline.ChannelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, role, class, transform, outcome, path, fingerprint, error, duration_ms
FROM channel_log WHERE run_id = ? ORDER BY recorded_at, rowid;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []pipeline.ChannelRecord
	for rows.Next() {
		var (
			rec             pipeline.ChannelRecord
			class, outcome  string
			fingerprint, ce sql.NullString
			durationMS      int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Role, &class, &rec.Transform, &outcome, &rec.Path, &fingerprint, &ce, &durationMS); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		rec.Class = pipeline.Class(class)
		rec.Outcome = pipeline.Outcome(outcome)
		rec.Fingerprint = fingerprint.String
		rec.Error = ce.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastWriter finds the most recent run that generated the file at path.
func (s *Store) LastWriter(ctx context.Context, path string) (*Run, *pipeline.ChannelRecord, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `
SELECT run_id FROM channel_log
WHERE path = ? AND outcome IN ('generated', 'auxiliary')
ORDER BY recorded_at DESC LIMIT 1;
`, path).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find writer: %w", err)
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	channels, err := s.Channels(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	for i := range channels {
		if channels[i].Path == path {
			return run, &channels[i], nil
		}
	}
	return run, nil, fmt.Errorf("%s: %w", path, ErrNotFound)
}

// Prune deletes finished runs older than retention. Channel rows cascade.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := formatTime(s.now().Add(-retention))
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                   Run
		status, started       string
		srcFP, cfgFP, graphFP sql.NullString
		lastErr, finished     sql.NullString
	)
	err := row.Scan(&run.ID, &run.Source, &srcFP, &cfgFP, &graphFP, &run.OutputDir, &run.TempDir, &status, &lastErr, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.SourceFingerprint = srcFP.String
	run.ConfigFingerprint = cfgFP.String
	run.GraphFingerprint = graphFP.String
	run.Status = pipeline.RunStatus(status)
	run.Error = lastErr.String
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
