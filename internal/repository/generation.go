package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dreammotion/internal/model"
)

// GenerationRepo tracks submitted jobs. Status transitions are guarded in SQL
// so that duplicate or out-of-order webhook deliveries cannot move a job out
// of a terminal state.
type GenerationRepo struct {
	dbPool *pgxpool.Pool
}

func NewGenerationRepo(db *pgxpool.Pool) *GenerationRepo {
	return &GenerationRepo{dbPool: db}
}

func (r *GenerationRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	_, err := r.dbPool.Exec(ctx,
		`INSERT INTO generation_jobs (job_id, user_id, kind, model, duration_sec, status, cost)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.JobID, job.UserID, job.Kind, job.Model, job.DurationSec, job.Status, job.Cost)
	if err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

func (r *GenerationRepo) Get(ctx context.Context, jobID string) (*model.GenerationJob, error) {
	var job model.GenerationJob
	err := r.dbPool.QueryRow(ctx,
		`SELECT job_id, user_id, kind, model, duration_sec, status,
		        cost, COALESCE(output, ''), COALESCE(error, ''), refunded, created_at, updated_at
		 FROM generation_jobs WHERE job_id = $1`, jobID).Scan(
		&job.JobID, &job.UserID, &job.Kind, &job.Model, &job.DurationSec, &job.Status,
		&job.Cost, &job.Output, &job.Error, &job.Refunded, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation job: %w", err)
	}
	return &job, nil
}

// MarkProcessing moves a job from created to processing. Reports whether the
// transition happened; a false return means the job already progressed.
func (r *GenerationRepo) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.dbPool.Exec(ctx,
		`UPDATE generation_jobs SET status = $2, updated_at = now()
		 WHERE job_id = $1 AND status = $3`,
		jobID, model.StatusProcessing, model.StatusCreated)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkTerminal records the terminal state. The WHERE clause only matches
// non-terminal rows, so the first delivery wins and replays report false.
func (r *GenerationRepo) MarkTerminal(ctx context.Context, jobID string, status model.GenerationStatus, output, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	tag, err := r.dbPool.Exec(ctx,
		`UPDATE generation_jobs
		 SET status = $2, output = NULLIF($3, ''), error = NULLIF($4, ''), updated_at = now()
		 WHERE job_id = $1 AND status IN ($5, $6)`,
		jobID, status, output, errMsg, model.StatusCreated, model.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark terminal: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *GenerationRepo) MarkRefunded(ctx context.Context, jobID string) error {
	_, err := r.dbPool.Exec(ctx,
		`UPDATE generation_jobs SET refunded = TRUE, updated_at = now() WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}
	return nil
}

// ListStale returns non-terminal jobs created before the cutoff, for the
// reaper to fail and refund when the provider webhook never arrived.
func (r *GenerationRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*model.GenerationJob, error) {
	rows, err := r.dbPool.Query(ctx,
		`SELECT job_id, user_id, kind, model, duration_sec, status,
		        cost, COALESCE(output, ''), COALESCE(error, ''), refunded, created_at, updated_at
		 FROM generation_jobs
		 WHERE status IN ($1, $2) AND created_at < $3
		 ORDER BY created_at`,
		model.StatusCreated, model.StatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.GenerationJob
	for rows.Next() {
		var job model.GenerationJob
		if err := rows.Scan(
			&job.JobID, &job.UserID, &job.Kind, &job.Model, &job.DurationSec, &job.Status,
			&job.Cost, &job.Output, &job.Error, &job.Refunded, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
