package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/domain"
	"github.com/fewa2000/fabric-data-portal/internal/repo"
)

const runColumns = `run_id, created_at, triggered_by, input_file, workspace_id, pipeline_item_id,
	fabric_job_location_url, fabric_job_id, status, started_at, finished_at, error_message, kpis, app_version`

const insertRunQuery = `INSERT INTO pipeline_runs (
		run_id,
		created_at,
		triggered_by,
		input_file,
		workspace_id,
		pipeline_item_id,
		fabric_job_location_url,
		status,
		app_version
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

const selectRunByIDQuery = `SELECT ` + runColumns + ` FROM pipeline_runs WHERE run_id = $1`

const selectActiveRunQuery = `SELECT ` + runColumns + ` FROM pipeline_runs
	WHERE status IN ('SUBMITTED', 'QUEUED', 'RUNNING')
	ORDER BY created_at DESC
	LIMIT 1`

const selectLatestSucceededQuery = `SELECT ` + runColumns + ` FROM pipeline_runs
	WHERE status = 'SUCCEEDED'
	ORDER BY finished_at DESC
	LIMIT 1`

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		normalizeTime(run.CreatedAt),
		strings.TrimSpace(run.TriggeredBy),
		strings.TrimSpace(run.InputFile),
		nullIfEmpty(run.WorkspaceID),
		nullIfEmpty(run.PipelineItemID),
		nullIfEmpty(run.JobLocationURL),
		string(run.Status),
		nullIfEmpty(run.AppVersion),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrDuplicateRun
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, selectRunByIDQuery, id)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) GetActiveRun(ctx context.Context) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectActiveRunQuery)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) GetLatestSucceededRun(ctx context.Context) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectLatestSucceededQuery)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	args := make([]any, 0, 3)
	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// UpdateRunStatus applies a partial, forward-only status update. The backward
// check is pushed into the WHERE clause so a concurrent poller cannot move a
// run backward between a read and a write.
func (s *RunStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunState, update repo.RunStatusUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	if domain.NormalizeRunState(string(status)) == "" {
		return fmt.Errorf("unknown run state: %q", status)
	}
	if update.KPIs != nil && status != domain.RunStateSucceeded {
		return fmt.Errorf("kpis may only be set on the succeeded state")
	}
	allowed := domain.EarlierRunStates(status)
	if len(allowed) == 0 {
		return fmt.Errorf("unknown run state: %q", status)
	}

	now := time.Now().UTC()
	sets := []string{"status = $1"}
	args := []any{string(status)}

	if status == domain.RunStateRunning {
		args = append(args, now)
		sets = append(sets, fmt.Sprintf("started_at = $%d", len(args)))
	}
	if status.IsTerminal() {
		args = append(args, now)
		sets = append(sets, fmt.Sprintf("finished_at = $%d", len(args)))
	}
	if update.ErrorMessage != nil {
		args = append(args, *update.ErrorMessage)
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if update.FabricJobID != nil {
		args = append(args, *update.FabricJobID)
		sets = append(sets, fmt.Sprintf("fabric_job_id = $%d", len(args)))
	}
	if update.KPIs != nil {
		args = append(args, []byte(update.KPIs))
		sets = append(sets, fmt.Sprintf("kpis = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE pipeline_runs SET %s WHERE run_id = $%d",
		strings.Join(sets, ", "),
		len(args),
	)
	placeholders := make([]string, 0, len(allowed))
	for _, state := range allowed {
		args = append(args, string(state))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query += " AND status IN (" + strings.Join(placeholders, ",") + ")"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing run from a rejected transition.
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM pipeline_runs WHERE run_id = $1`, id).Scan(&current)
		if err != nil {
			return handleNotFound(err)
		}
		return fmt.Errorf("%w: %s -> %s", repo.ErrInvalidTransition, current, status)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run          domain.Run
		status       string
		workspaceID  sql.NullString
		pipelineID   sql.NullString
		locationURL  sql.NullString
		fabricJobID  sql.NullString
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
		errorMessage sql.NullString
		kpisJSON     []byte
		appVersion   sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.CreatedAt,
		&run.TriggeredBy,
		&run.InputFile,
		&workspaceID,
		&pipelineID,
		&locationURL,
		&fabricJobID,
		&status,
		&startedAt,
		&finishedAt,
		&errorMessage,
		&kpisJSON,
		&appVersion,
	); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunState(status)
	run.WorkspaceID = workspaceID.String
	run.PipelineItemID = pipelineID.String
	run.JobLocationURL = locationURL.String
	run.FabricJobID = fabricJobID.String
	run.ErrorMessage = errorMessage.String
	run.AppVersion = appVersion.String
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		run.StartedAt = &started
	}
	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		run.FinishedAt = &finished
	}
	if len(kpisJSON) > 0 {
		run.KPIs = json.RawMessage(kpisJSON)
	}
	return run, nil
}
