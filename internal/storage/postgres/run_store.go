package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore implements crawler.RunStore on a crawl_runs table.
type RunStore struct {
	pool queryExecCloser
	now  func() time.Time
}

// NewRunStoreWithPool constructs a RunStore from an existing pool.
func NewRunStoreWithPool(pool queryExecCloser) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the crawl_runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT        NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT        NOT NULL DEFAULT '',
	parameters   JSONB       NOT NULL,
	summary      JSONB
)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure crawl_runs table: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.Run) error {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	const query = `
		INSERT INTO crawl_runs (id, status, submitted_at, parameters)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, string(run.Status), run.Submitted, params); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRunStatus records a status transition and optional summary.
func (s *RunStore) UpdateRunStatus(
	ctx context.Context,
	runID string,
	status crawler.RunStatus,
	errText string,
	summary *crawler.Summary,
) error {
	var summaryJSON []byte
	if summary != nil {
		encoded, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summaryJSON = encoded
	}
	now := s.now()
	var started, finished *time.Time
	if status == crawler.RunStatusRunning {
		started = &now
	}
	switch status {
	case crawler.RunStatusSucceeded, crawler.RunStatusFailed, crawler.RunStatusCanceled:
		finished = &now
	}
	const query = `
		UPDATE crawl_runs
		SET status = $1,
			error_text = $2,
			summary = COALESCE($3, summary),
			started_at = COALESCE(started_at, $4),
			finished_at = COALESCE($5, finished_at)
		WHERE id = $6;
	`
	res, err := s.pool.Exec(ctx, query, string(status), errText, summaryJSON, started, finished, runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	return nil
}

// UpdateRunProgress stores a partial summary while the run is still running.
func (s *RunStore) UpdateRunProgress(ctx context.Context, runID string, summary crawler.Summary) error {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	const query = `
		UPDATE crawl_runs
		SET summary = $1
		WHERE id = $2 AND status = 'running';
	`
	if _, err := s.pool.Exec(ctx, query, encoded, runID); err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	const query = `
		SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, summary
		FROM crawl_runs
		WHERE id = $1;
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Run{}, fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
		}
		return crawler.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(ctx context.Context) ([]crawler.Run, error) {
	const query = `
		SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, summary
		FROM crawl_runs
		ORDER BY submitted_at DESC
		LIMIT 100;
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []crawler.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (crawler.Run, error) {
	var (
		run         crawler.Run
		status      string
		paramsJSON  []byte
		summaryJSON []byte
	)
	if err := row.Scan(
		&run.ID,
		&status,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&paramsJSON,
		&summaryJSON,
	); err != nil {
		return crawler.Run{}, err
	}
	run.Status = crawler.RunStatus(status)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &run.Parameters); err != nil {
			return crawler.Run{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		var summary crawler.Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return crawler.Run{}, fmt.Errorf("decode summary: %w", err)
		}
		run.Summary = &summary
	}
	return run, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	s.pool.Close()
}
