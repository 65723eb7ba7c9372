package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/virtshift/virtshift-api/internal/models"
)

type JobRepository interface {
	Create(ctx context.Context, job models.Job) (models.Job, error)
	Get(ctx context.Context, tenantID, jobID string) (models.Job, error)
	GetByID(ctx context.Context, jobID string) (models.Job, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]models.Job, error)

	// ClaimPending transitions pending -> running atomically so a job can be
	// dispatched at most once even when the submitter and the sweeper race.
	ClaimPending(ctx context.Context, jobID string) (models.Job, error)
	// UpdateRun persists progress and target results for a running job. It is
	// a no-op (0 rows) once the job left the running state, which is how an
	// advisory cancel surfaces to the executing goroutine.
	UpdateRun(ctx context.Context, jobID string, progress int, targets []models.TargetResult) (int64, error)
	// Cancel moves a pending or running job to cancelled. A pending job is
	// finalized in place; a running one is finalized by its executor at the
	// next target boundary.
	Cancel(ctx context.Context, tenantID, jobID, reason string) (models.Job, error)
	Finalize(ctx context.Context, jobID string, status models.JobStatus, jobErr string, targets []models.TargetResult) error

	ListPendingIDs(ctx context.Context, limit int) ([]string, error)
	// HasProducedResource reports whether any past target already claimed the
	// given produced resource id (local bookkeeping for VMID allocation).
	HasProducedResource(ctx context.Context, resourceID string) (bool, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, tenant_id, kind, status, progress, params, targets, error, started_at, completed_at, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (models.Job, error) {
	var (
		job         models.Job
		params      []byte
		targets     []byte
		jobErr      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.Kind,
		&job.Status,
		&job.Progress,
		&params,
		&targets,
		&jobErr,
		&startedAt,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return job, err
	}
	job.Params = json.RawMessage(params)
	if err := json.Unmarshal(targets, &job.Targets); err != nil {
		return job, fmt.Errorf("decode job targets: %w", err)
	}
	if jobErr.Valid {
		job.Error = &jobErr.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

func encodeTargets(targets []models.TargetResult) ([]byte, error) {
	if targets == nil {
		targets = []models.TargetResult{}
	}
	return json.Marshal(targets)
}

func (r *jobRepository) Create(ctx context.Context, job models.Job) (models.Job, error) {
	targets, err := encodeTargets(job.Targets)
	if err != nil {
		return job, err
	}
	params := job.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	query := `
		INSERT INTO panel.jobs (id, tenant_id, kind, status, progress, params, targets)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		job.ID,
		job.TenantID,
		job.Kind,
		job.Status,
		job.Progress,
		[]byte(params),
		targets,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	return job, err
}

func (r *jobRepository) Get(ctx context.Context, tenantID, jobID string) (models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM panel.jobs WHERE id = $1 AND tenant_id = $2`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, tenantID))
	if err == sql.ErrNoRows {
		return job, ErrNotFound
	}
	return job, err
}

func (r *jobRepository) GetByID(ctx context.Context, jobID string) (models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM panel.jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return job, ErrNotFound
	}
	return job, err
}

func (r *jobRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM panel.jobs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) ClaimPending(ctx context.Context, jobID string) (models.Job, error) {
	query := `
		UPDATE panel.jobs
		SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return job, ErrConflict
	}
	return job, err
}

func (r *jobRepository) UpdateRun(ctx context.Context, jobID string, progress int, targets []models.TargetResult) (int64, error) {
	encoded, err := encodeTargets(targets)
	if err != nil {
		return 0, err
	}
	query := `
		UPDATE panel.jobs
		SET progress = $2, targets = $3, updated_at = now()
		WHERE id = $1 AND status = 'running'
	`
	res, err := r.db.ExecContext(ctx, query, jobID, progress, encoded)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *jobRepository) Cancel(ctx context.Context, tenantID, jobID, reason string) (models.Job, error) {
	query := `
		UPDATE panel.jobs
		SET status = 'cancelled',
		    error = $3,
		    completed_at = CASE WHEN status = 'pending' THEN now() ELSE completed_at END,
		    progress = CASE WHEN status = 'pending' THEN 100 ELSE progress END,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status IN ('pending', 'running')
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, tenantID))
	if err == sql.ErrNoRows {
		// Distinguish an unknown job from one that is already terminal.
		if _, getErr := r.Get(ctx, tenantID, jobID); getErr != nil {
			return job, getErr
		}
		return job, ErrConflict
	}
	return job, err
}

func (r *jobRepository) Finalize(ctx context.Context, jobID string, status models.JobStatus, jobErr string, targets []models.TargetResult) error {
	encoded, err := encodeTargets(targets)
	if err != nil {
		return err
	}
	query := `
		UPDATE panel.jobs
		SET status = $2,
		    progress = 100,
		    targets = $3,
		    error = COALESCE(error, NULLIF($4, '')),
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status IN ('running', 'cancelled')
	`
	_, err = r.db.ExecContext(ctx, query, jobID, status, encoded, jobErr)
	return err
}

func (r *jobRepository) ListPendingIDs(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM panel.jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *jobRepository) HasProducedResource(ctx context.Context, resourceID string) (bool, error) {
	probe, err := json.Marshal([]map[string]string{{"produced_resource_id": resourceID}})
	if err != nil {
		return false, err
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM panel.jobs WHERE targets @> $1::jsonb)`
	if err := r.db.QueryRowContext(ctx, query, probe).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
