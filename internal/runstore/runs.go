package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonathan/exportd/internal/types"
)

const runColumns = `id, platform_id, company, name, status, start_date, end_date,
	current_step, logs, export_path, export_size, url`

// Patch describes a partial run update. Nil fields are left unchanged. Logs are
// appended via AppendLog, never through Patch, so concurrent progress events
// cannot clobber each other.
type Patch struct {
	Status      *string
	EndDate     *time.Time
	CurrentStep *string
	ExportPath  *string
	ExportSize  *int64
	URL         *string
}

// Filters narrows List results.
type Filters struct {
	PlatformID string
	Status     string
	Limit      int
}

// Create inserts a new run record.
func (s *Store) Create(ctx context.Context, run *types.Run) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, platform_id, company, name, status, start_date, end_date,
		                   current_step, logs, export_path, export_size, url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PlatformID, run.Company, run.Name, run.Status, run.StartDate,
		run.EndDate, run.CurrentStep, run.Logs, run.ExportPath, run.ExportSize, run.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	s.notify(ChangeCreated, *run)
	return nil
}

// Get retrieves a run by id. Returns nil without error when absent.
func (s *Store) Get(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List retrieves runs, newest first, honoring the given filters.
func (s *Store) List(ctx context.Context, filters Filters) ([]types.Run, error) {
	if filters.Limit == 0 {
		filters.Limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}

	if filters.PlatformID != "" {
		query += " AND platform_id = ?"
		args = append(args, filters.PlatformID)
	}
	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, filters.Status)
	}

	query += " ORDER BY start_date DESC LIMIT ?"
	args = append(args, filters.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update applies patch to the run with the given id. Runs in a terminal status
// are final: the update is silently dropped and the stored run returned, so a
// late result arriving after a stop cannot resurrect the run.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*types.Run, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if types.IsTerminal(current.Status) {
		return current, nil
	}

	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.EndDate != nil {
		current.EndDate = patch.EndDate
	}
	if patch.CurrentStep != nil {
		current.CurrentStep = *patch.CurrentStep
	}
	if patch.ExportPath != nil {
		current.ExportPath = *patch.ExportPath
	}
	if patch.ExportSize != nil {
		current.ExportSize = *patch.ExportSize
	}
	if patch.URL != nil {
		current.URL = *patch.URL
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, end_date = ?, current_step = ?,
		        export_path = ?, export_size = ?, url = ?
		 WHERE id = ?`,
		current.Status, current.EndDate, current.CurrentStep,
		current.ExportPath, current.ExportSize, current.URL, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}

	s.notify(ChangeUpdated, *current)
	return current, nil
}

// AppendLog appends a line to the run's log transcript. Append semantics:
// prior lines are never replaced. Terminal runs keep their transcript as-is.
func (s *Store) AppendLog(ctx context.Context, id, line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("run not found: %s", id)
	}
	if types.IsTerminal(current.Status) {
		return nil
	}

	if current.Logs == "" {
		current.Logs = line
	} else {
		current.Logs += "\n" + line
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET logs = ? WHERE id = ?`, current.Logs, id); err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}

	s.notify(ChangeUpdated, *current)
	return nil
}

// Delete removes a run record.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("run not found: %s", id)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	s.notify(ChangeDeleted, *current)
	return nil
}

// ActiveRun returns the pending or running run for a platform, or nil. At most
// one run is active per platform at a time.
func (s *Store) ActiveRun(ctx context.Context, platformID string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE platform_id = ? AND status IN (?, ?)
		 ORDER BY start_date DESC LIMIT 1`,
		platformID, types.RunStatusPending, types.RunStatusRunning)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active run: %w", err)
	}
	return run, nil
}

// LastSuccess returns the most recent successful run for a platform, or nil.
func (s *Store) LastSuccess(ctx context.Context, platformID string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE platform_id = ? AND status = ?
		 ORDER BY end_date DESC LIMIT 1`,
		platformID, types.RunStatusSuccess)
	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last success: %w", err)
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.Run, error) {
	var run types.Run
	var endDate sql.NullTime
	err := row.Scan(&run.ID, &run.PlatformID, &run.Company, &run.Name, &run.Status,
		&run.StartDate, &endDate, &run.CurrentStep, &run.Logs,
		&run.ExportPath, &run.ExportSize, &run.URL)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		run.EndDate = &endDate.Time
	}
	return &run, nil
}
