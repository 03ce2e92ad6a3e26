package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"wireframe/internal/runner"
)

// PostgresStore keeps one row per run plus one row per stage result.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS wireframe_runs (
  run_id TEXT PRIMARY KEY,
  mission_id TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at TIMESTAMP WITH TIME ZONE NOT NULL,
  finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
  result JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wireframe_runs_mission_id ON wireframe_runs (mission_id);

CREATE TABLE IF NOT EXISTS wireframe_stage_results (
  run_id TEXT NOT NULL REFERENCES wireframe_runs (run_id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  stage TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  failures JSONB NOT NULL DEFAULT '[]',
  produced JSONB NOT NULL DEFAULT '[]',
  UNIQUE (run_id, position)
);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Save(ctx context.Context, run runner.RunResult) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	id := normalizeID(run.RunID)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO wireframe_runs (run_id, mission_id, status, started_at, finished_at, result)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id)
DO UPDATE SET mission_id=EXCLUDED.mission_id,
  status=EXCLUDED.status,
  started_at=EXCLUDED.started_at,
  finished_at=EXCLUDED.finished_at,
  result=EXCLUDED.result`,
		id, run.MissionID, string(run.Status), run.StartedAt, run.FinishedAt, string(doc))
	if err != nil {
		return fmt.Errorf("save run %s: %w", id, err)
	}
	for i, st := range run.Stages {
		failures, err := json.Marshal(nonNil(st.Failures))
		if err != nil {
			return err
		}
		produced, err := json.Marshal(nonNil(st.Produced))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO wireframe_stage_results (run_id, position, stage, status, error, failures, produced)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (run_id, position)
DO UPDATE SET stage=EXCLUDED.stage,
  status=EXCLUDED.status,
  error=EXCLUDED.error,
  failures=EXCLUDED.failures,
  produced=EXCLUDED.produced`,
			id, i, st.Stage, string(st.Status), st.Error, string(failures), string(produced))
		if err != nil {
			return fmt.Errorf("save stage %s of run %s: %w", st.Stage, id, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, runID string) (runner.RunResult, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return runner.RunResult{}, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM wireframe_runs WHERE run_id = $1`, normalizeID(runID)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return runner.RunResult{}, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return runner.RunResult{}, err
	}
	var run runner.RunResult
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return runner.RunResult{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, nil
}

func (s *PostgresStore) ListByMission(ctx context.Context, missionID string) ([]runner.RunResult, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT result FROM wireframe_runs
WHERE mission_id = $1 ORDER BY started_at DESC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []runner.RunResult
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var run runner.RunResult
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
