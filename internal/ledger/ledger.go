// File: internal/ledger/ledger.go
// Brief: SQLite-backed release ledger (run history + idempotency records).

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"

	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"

	_ "modernc.org/sqlite"
)

const DefaultRelPath = ".semrel/ledger.sqlite"

// Source is reported by Lookup hits.
const Source = "ledger"

type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Run is one row of the run history.
type Run struct {
	RunID     string
	Branch    string
	Channel   string
	Owner     string
	Status    string
	Version   string
	Tag       string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Release is a version recorded as published on a channel.
type Release struct {
	Channel     string
	Version     string
	Tag         string
	RunID       string
	Notes       string
	NotesDigest digest.Digest
	Artifacts   map[string]string
	CreatedAt   time.Time
}

// Open opens (or creates) the ledger at root/relPath. A read-only open fails
// when the file does not exist.
func Open(root, relPath string, readOnly bool) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	relPath = strings.TrimSpace(relPath)
	if relPath == "" {
		relPath = DefaultRelPath
	}
	path := relPath
	if !filepath.IsAbs(path) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(absRoot, relPath)
	}
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CheckpointPortable folds the WAL back into the main file so the ledger can be copied as one file.
func (s *Store) CheckpointPortable(ctx context.Context) error {
	if s == nil || s.db == nil || s.readOnly {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS semrel_runs (
  run_id TEXT PRIMARY KEY,
  branch TEXT NOT NULL,
  channel TEXT NOT NULL,
  owner TEXT NOT NULL,
  status TEXT NOT NULL,
  version TEXT NOT NULL,
  tag TEXT NOT NULL,
  error TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS semrel_steps (
  run_id TEXT NOT NULL,
  step TEXT NOT NULL,
  position INTEGER NOT NULL,
  status TEXT NOT NULL,
  artifact_ref TEXT NOT NULL,
  error TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  PRIMARY KEY (run_id, step),
  FOREIGN KEY (run_id) REFERENCES semrel_runs(run_id) ON DELETE CASCADE
);`,
		`
CREATE TABLE IF NOT EXISTS semrel_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  ts_ns INTEGER NOT NULL,
  type TEXT NOT NULL,
  phase TEXT NOT NULL,
  step TEXT NOT NULL,
  message TEXT NOT NULL,
  error_message TEXT NOT NULL,
  FOREIGN KEY (run_id) REFERENCES semrel_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_semrel_events_run_id_id ON semrel_events(run_id, id);`,
		`
CREATE TABLE IF NOT EXISTS semrel_releases (
  channel TEXT NOT NULL,
  version TEXT NOT NULL,
  tag TEXT NOT NULL,
  run_id TEXT NOT NULL,
  notes TEXT NOT NULL,
  notes_digest TEXT NOT NULL,
  artifacts_json TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  PRIMARY KEY (channel, version)
);`,
		`CREATE INDEX IF NOT EXISTS idx_semrel_releases_channel_created ON semrel_releases(channel, created_at_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateRun inserts the row of a run that has just started.
func (s *Store) CreateRun(ctx context.Context, runID, branch, channel, owner string) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO semrel_runs (run_id, branch, channel, owner, status, version, tag, error, created_at_ns, updated_at_ns)
VALUES (?, ?, ?, ?, ?, '', '', '', ?, ?)
`, runID, branch, channel, owner, "running", now, now)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev pipeline.Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	ts := ev.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO semrel_events (run_id, ts_ns, type, phase, step, message, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, ev.RunID, ts.UnixNano(), string(ev.Type), ev.Phase, strings.TrimSpace(ev.Step), strings.TrimSpace(ev.Message), strings.TrimSpace(ev.Error))
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE semrel_runs SET updated_at_ns = ? WHERE run_id = ?`, time.Now().UTC().UnixNano(), ev.RunID)
	return nil
}

// Observer persists pipeline events. Write failures are logged, never returned to the pipeline.
func (s *Store) Observer(ctx context.Context, log logr.Logger) pipeline.Observer {
	return pipeline.ObserverFunc(func(ev pipeline.Event) {
		if err := s.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
			log.Info("ledger: append event failed", "type", string(ev.Type), "error", err.Error())
		}
	})
}

// FinishRun stores the terminal status and the per-step results of a run.
func (s *Store) FinishRun(ctx context.Context, out release.Outcome) error {
	if s == nil || s.db == nil {
		return nil
	}
	errMsg := ""
	if out.Err != nil {
		errMsg = strings.TrimSpace(out.Err.Error())
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
UPDATE semrel_runs SET status = ?, version = ?, tag = ?, error = ?, updated_at_ns = ? WHERE run_id = ?
`, string(out.Status), out.Version, out.Tag, errMsg, time.Now().UTC().UnixNano(), out.RunID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	for i, r := range out.Steps {
		_, err := tx.ExecContext(ctx, `
INSERT INTO semrel_steps (run_id, step, position, status, artifact_ref, error, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, step) DO UPDATE SET
  position = excluded.position, status = excluded.status, artifact_ref = excluded.artifact_ref,
  error = excluded.error, duration_ms = excluded.duration_ms
`, out.RunID, r.Step, i, string(r.Status), r.ArtifactRef, r.Detail(), r.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("finish run: step %s: %w", r.Step, err)
		}
	}
	return tx.Commit()
}

// RecordRelease marks rc.NextVersion as published on rc.Channel.
func (s *Store) RecordRelease(ctx context.Context, rc *release.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	artifacts := rc.Artifacts
	if artifacts == nil {
		artifacts = map[string]string{}
	}
	raw, err := json.Marshal(artifacts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO semrel_releases (channel, version, tag, run_id, notes, notes_digest, artifacts_json, created_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, rc.Channel.Name, rc.NextVersion.String(), rc.Tag, rc.RunID, rc.Notes, digest.FromString(rc.Notes).String(), string(raw), time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("record release %s@%s: %w", rc.Channel.Name, rc.NextVersion.String(), err)
	}
	return nil
}

const releaseColumns = `channel, version, tag, run_id, notes, notes_digest, artifacts_json, created_at_ns`

// LookupRelease returns the recorded release, or nil when channel never published version.
func (s *Store) LookupRelease(ctx context.Context, channel, version string) (*Release, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM semrel_releases WHERE channel = ? AND version = ?`, channel, version)
	return scanRelease(row)
}

// LatestRelease returns the most recently recorded release of channel, or nil.
func (s *Store) LatestRelease(ctx context.Context, channel string) (*Release, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM semrel_releases WHERE channel = ? ORDER BY created_at_ns DESC LIMIT 1`, channel)
	return scanRelease(row)
}

func scanRelease(row *sql.Row) (*Release, error) {
	var (
		r         Release
		notesDig  string
		artifacts string
		createdNS int64
	)
	err := row.Scan(&r.Channel, &r.Version, &r.Tag, &r.RunID, &r.Notes, &notesDig, &artifacts, &createdNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := digest.Parse(notesDig)
	if err != nil {
		return nil, fmt.Errorf("release %s@%s: %w", r.Channel, r.Version, err)
	}
	r.NotesDigest = d
	r.Artifacts = map[string]string{}
	if strings.TrimSpace(artifacts) != "" {
		if err := json.Unmarshal([]byte(artifacts), &r.Artifacts); err != nil {
			return nil, fmt.Errorf("release %s@%s artifacts: %w", r.Channel, r.Version, err)
		}
	}
	r.CreatedAt = time.Unix(0, createdNS).UTC()
	return &r, nil
}

// Lookup implements pipeline.ExistenceChecker. Notes are returned only when they drifted.
func (s *Store) Lookup(ctx context.Context, rc *release.Context) (*pipeline.Existing, error) {
	rel, err := s.LookupRelease(ctx, rc.Channel.Name, rc.NextVersion.String())
	if err != nil || rel == nil {
		return nil, err
	}
	existing := &pipeline.Existing{Source: Source, Ref: rel.Tag}
	if rel.NotesDigest != digest.FromString(rc.Notes) {
		existing.Notes = rel.Notes
	}
	return existing, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, branch, channel, owner, status, version, tag, error, created_at_ns, updated_at_ns
FROM semrel_runs
ORDER BY created_at_ns DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r                  Run
			createdNS, updated int64
		)
		if err := rows.Scan(&r.RunID, &r.Branch, &r.Channel, &r.Owner, &r.Status, &r.Version, &r.Tag, &r.Error, &createdNS, &updated); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, createdNS).UTC()
		r.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Steps returns the recorded step results of runID in pipeline order.
func (s *Store) Steps(ctx context.Context, runID string) ([]release.StepResult, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT step, status, artifact_ref, error, duration_ms FROM semrel_steps WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []release.StepResult
	for rows.Next() {
		var (
			r          release.StepResult
			status, e  string
			durationMS int64
		)
		if err := rows.Scan(&r.Step, &status, &r.ArtifactRef, &e, &durationMS); err != nil {
			return nil, err
		}
		r.Status = release.StepStatus(status)
		if e != "" {
			r.Err = errors.New(e)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the persisted events of runID in insertion order.
func (s *Store) Events(ctx context.Context, runID string) ([]pipeline.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ts_ns, type, phase, step, message, error_message FROM semrel_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.Event
	for rows.Next() {
		var (
			ev  pipeline.Event
			ts  int64
			typ string
		)
		if err := rows.Scan(&ts, &typ, &ev.Phase, &ev.Step, &ev.Message, &ev.Error); err != nil {
			return nil, err
		}
		ev.RunID = runID
		ev.TS = time.Unix(0, ts).UTC()
		ev.Type = pipeline.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}
