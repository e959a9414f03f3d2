package core

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aliharslan0/pyrevanced/pkg/api"
)

// Store is a SQLite-backed history of patch runs.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunRecord is one row of run history.
type RunRecord struct {
	ID         string
	App        string
	Version    string
	Status     api.RunStatus
	Output     string
	Error      string
	Included   int
	Excluded   int
	StartedAt  time.Time
	FinishedAt time.Time
	Fetches    []api.FetchResult
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// StartRun inserts a running entry and returns its id.
func (s *Store) StartRun(ctx context.Context, app api.App) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, app, status, started_at) VALUES (?, ?, ?, ?)`,
		id, app.Token(), string(api.RunRunning), time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// SetVersion stores the app version resolved from the catalog.
func (s *Store) SetVersion(ctx context.Context, id, version string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET version = ? WHERE id = ?`, version, id)
	return err
}

func (s *Store) RecordFetch(ctx context.Context, id string, res api.FetchResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fetches (run_id, name, elapsed_ms, bytes) VALUES (?, ?, ?, ?)`,
		id, res.Name, res.Elapsed.Milliseconds(), res.Bytes)
	if err != nil {
		return fmt.Errorf("insert fetch: %w", err)
	}
	return nil
}

// FinishRun marks a run succeeded or failed.
func (s *Store) FinishRun(ctx context.Context, id, output string, sel api.PatchSelection, runErr error) error {
	status, msg := api.RunSucceeded, ""
	if runErr != nil {
		status, msg = api.RunFailed, runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, output = ?, error = ?, included = ?, excluded = ?, finished_at = ? WHERE id = ?`,
		string(status), output, msg, len(sel.Included), len(sel.Excluded), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, app, version, status, output, error, included, excluded, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var status string
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.App, &r.Version, &status, &r.Output, &r.Error,
			&r.Included, &r.Excluded, &started, &finished); err != nil {
			return nil, err
		}
		r.Status = api.RunStatus(status)
		r.StartedAt = time.UnixMilli(started)
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Fetches, err = s.fetches(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) fetches(ctx context.Context, id string) ([]api.FetchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, elapsed_ms, bytes FROM fetches WHERE run_id = ? ORDER BY elapsed_ms, name`, id)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()
	var out []api.FetchResult
	for rows.Next() {
		var f api.FetchResult
		var ms int64
		if err := rows.Scan(&f.Name, &ms, &f.Bytes); err != nil {
			return nil, err
		}
		f.Elapsed = time.Duration(ms) * time.Millisecond
		out = append(out, f)
	}
	return out, rows.Err()
}
