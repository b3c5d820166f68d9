package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/common"
)

const pgJobsSchema = `
CREATE TABLE IF NOT EXISTS extract_jobs (
    id          UUID PRIMARY KEY,
    file_path   TEXT NOT NULL,
    status      TEXT NOT NULL,
    result      JSONB,
    error       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type pgJobRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPgJobRepository(pool *pgxpool.Pool, logger *slog.Logger) (JobRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := pool.Exec(context.Background(), pgJobsSchema); err != nil {
		return nil, fmt.Errorf("ensure jobs schema: %w", err)
	}
	return &pgJobRepository{pool: pool, logger: logger}, nil
}

func (r *pgJobRepository) Create(ctx context.Context, job Job) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO extract_jobs (id, file_path, status) VALUES ($1, $2, $3)`,
		job.ID, job.FilePath, string(job.Status),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *pgJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE extract_jobs SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(constants.JobStatusRunning),
	)
	return err
}

func (r *pgJobRepository) Finish(ctx context.Context, id uuid.UUID, status constants.JobStatus, result []byte, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE extract_jobs SET status = $2, result = $3, error = $4, updated_at = now() WHERE id = $1`,
		id, string(status), result, errMsg,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

func (r *pgJobRepository) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	var job Job
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, file_path, status, result, error, created_at, updated_at
		   FROM extract_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.FilePath, &status, &job.Result, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: job %s", common.ErrNotFound, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = constants.JobStatus(status)
	return job, nil
}

func (r *pgJobRepository) List(ctx context.Context) ([]Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, file_path, status, result, error, created_at, updated_at
		   FROM extract_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var status string
		if err := rows.Scan(&job.ID, &job.FilePath, &status, &job.Result, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Status = constants.JobStatus(status)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *pgJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM extract_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", common.ErrNotFound, id)
	}
	return nil
}
