package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/ckanwatch/checker/internal/probe"
)

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

// Run is one check cycle.
type Run struct {
	ID                   string `json:"id"`
	StartedAt            int64  `json:"started_at"`
	FinishedAt           int64  `json:"finished_at,omitempty"`
	Status               string `json:"status"`
	Datasets             int    `json:"datasets"`
	Distributions        int    `json:"distributions"`
	DatasetsCreated      int    `json:"datasets_created"`
	DistributionsCreated int    `json:"distributions_created"`
	DatapointGrowth      int    `json:"datapoint_growth"`
	ProbeErrors          int    `json:"probe_errors"`
	NotifyFailures       int    `json:"notify_failures"`
	Error                string `json:"error,omitempty"`
}

// CreateRun inserts a run in the running state.
func (s *Store) CreateRun(ctx context.Context, id string, startedAt int64) error {
	_, err := s.exec(ctx, `INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`, id, startedAt, RunRunning)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// FinishRun records the final state of r.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	res, err := s.exec(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, datasets = ?, distributions = ?,
			datasets_created = ?, distributions_created = ?, datapoint_growth = ?,
			probe_errors = ?, notify_failures = ?, error = ?
		WHERE id = ?`,
		r.FinishedAt, r.Status, r.Datasets, r.Distributions,
		r.DatasetsCreated, r.DistributionsCreated, r.DatapointGrowth,
		r.ProbeErrors, r.NotifyFailures, r.Error, r.ID)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: finish run %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, started_at, COALESCE(finished_at, 0), status, datasets, distributions,
	datasets_created, distributions_created, datapoint_growth, probe_errors, notify_failures, error`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Datasets, &r.Distributions,
		&r.DatasetsCreated, &r.DistributionsCreated, &r.DatapointGrowth, &r.ProbeErrors,
		&r.NotifyFailures, &r.Error)
	return r, err
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	r, err := scanRun(s.DB.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveErrorReport stores the failed probes of a run.
func (s *Store) SaveErrorReport(ctx context.Context, runID string, results []probe.Result) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO probe_errors (run_id, resource_id, url, error, attempts)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare error report: %w", err)
		}
		defer stmt.Close()
		for _, r := range results {
			msg := ""
			if r.Error != nil {
				msg = *r.Error
			}
			if _, err := stmt.ExecContext(ctx, runID, r.ResourceID, r.URL, msg, r.Attempts); err != nil {
				return fmt.Errorf("store: save error report: %w", err)
			}
		}
		return nil
	})
}

// ErrorReport returns the failed probes of a run ordered by resource id.
func (s *Store) ErrorReport(ctx context.Context, runID string) ([]probe.Result, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT resource_id, url, error, attempts FROM probe_errors
		WHERE run_id = ? ORDER BY resource_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: error report: %w", err)
	}
	defer rows.Close()

	var out []probe.Result
	for rows.Next() {
		var r probe.Result
		var msg string
		if err := rows.Scan(&r.ResourceID, &r.URL, &msg, &r.Attempts); err != nil {
			return nil, fmt.Errorf("store: scan error report: %w", err)
		}
		r.Error = &msg
		out = append(out, r)
	}
	return out, rows.Err()
}
