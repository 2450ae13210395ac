package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const runColumns = "id, source, started_at, ended_at, status, inserted, updated, promoted, demoted, forced_checks, error"

// CreateImportRun creates a new import run record
func (s *Store) CreateImportRun(ctx context.Context, run *ImportRun) error {
	id, err := s.insertID(ctx, `
		INSERT INTO import_runs (source, started_at, status, inserted, updated, promoted, demoted, forced_checks, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Source, utc(run.StartedAt), string(run.Status), run.Inserted, run.Updated,
		run.Promoted, run.Demoted, run.ForcedChecks, run.Error)
	if err != nil {
		return fmt.Errorf("create import run: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateImportRun updates an import run
func (s *Store) UpdateImportRun(ctx context.Context, run *ImportRun) error {
	_, err := s.exec(ctx, `
		UPDATE import_runs SET ended_at = ?, status = ?, inserted = ?, updated = ?, promoted = ?,
			demoted = ?, forced_checks = ?, error = ?
		WHERE id = ?
	`, utcPtr(run.EndedAt), string(run.Status), run.Inserted, run.Updated, run.Promoted,
		run.Demoted, run.ForcedChecks, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("update import run %d: %w", run.ID, err)
	}
	return nil
}

// GetImportRun retrieves a specific import run by ID
func (s *Store) GetImportRun(ctx context.Context, id int64) (*ImportRun, error) {
	var run ImportRun
	err := sqlx.GetContext(ctx, s.q, &run, s.rebind("SELECT "+runColumns+" FROM import_runs WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("import run %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get import run %d: %w", id, err)
	}
	return &run, nil
}

// ListImportRuns retrieves the most recent runs first.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	var runs []*ImportRun
	err := sqlx.SelectContext(ctx, s.q, &runs,
		s.rebind("SELECT "+runColumns+" FROM import_runs ORDER BY started_at DESC, id DESC LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return runs, nil
}

// MarkStaleRunsAsFailed marks all "running" import runs as failed.
// This is called on startup to clean up runs that were interrupted by a restart.
func (s *Store) MarkStaleRunsAsFailed(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, `
		UPDATE import_runs
		SET status = ?, error = 'Process restarted during import', ended_at = ?
		WHERE status = ?
	`, string(RunStatusFailed), utc(now), string(RunStatusRunning))
}
