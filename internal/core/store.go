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

	"github.com/3cpo-dev/calprov/pkg/api"
)

// Store is the SQLite-backed run journal.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
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

// stampLayout is fixed width so journal timestamps sort as text.
const stampLayout = "2006-01-02T15:04:05.000000000Z"

var clock = time.Now

func now() string { return clock().UTC().Format(stampLayout) }

// BeginRun records a new run and returns its id.
func (s *Store) BeginRun(ctx context.Context, appDir string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, app_dir, state, started_at) VALUES (?, ?, ?, ?)`,
		id, appDir, string(api.StateRuntimeUnresolved), now())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordStep appends a state transition to the run.
func (s *Store) RecordStep(ctx context.Context, runID string, state api.State, detail string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO step_events (run_id, state, detail, at) VALUES (?, ?, ?, ?)`,
		runID, string(state), detail, now()); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, string(state), runID); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit()
}

// FinishRun stores the final outcome.
func (s *Store) FinishRun(ctx context.Context, sum api.RunSummary, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, asset = ?, runtime_path = ?, tool_path = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(sum.State), string(sum.Asset), sum.RuntimePath, sum.ToolPath, msg, now(), sum.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]api.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, app_dir, state, asset, runtime_path, tool_path, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []api.RunSummary
	for rows.Next() {
		var r api.RunSummary
		var state, asset string
		if err := rows.Scan(&r.ID, &r.AppDir, &state, &asset, &r.RuntimePath, &r.ToolPath, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.State = api.State(state)
		r.Asset = api.AssetState(asset)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Steps returns the recorded transitions of one run in order.
func (s *Store) Steps(ctx context.Context, runID string) ([]api.StepEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, detail, at FROM step_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()
	var out []api.StepEvent
	for rows.Next() {
		var e api.StepEvent
		var state string
		if err := rows.Scan(&state, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		e.State = api.State(state)
		out = append(out, e)
	}
	return out, rows.Err()
}
