package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/common"
)

const sqliteJobsSchema = `
CREATE TABLE IF NOT EXISTS extract_jobs (
    id          TEXT PRIMARY KEY,
    file_path   TEXT NOT NULL,
    status      TEXT NOT NULL,
    result      BLOB,
    error       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

type sqliteJobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) a SQLite job store. dsn ":memory:" gives an
// in-memory store for batch runs and tests.
func OpenSQLite(dsn string, logger *slog.Logger) (JobRepository, *sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteJobsSchema); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure jobs schema: %w", err)
	}
	return &sqliteJobRepository{db: db, logger: logger}, db, nil
}

func (r *sqliteJobRepository) Create(ctx context.Context, job Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO extract_jobs (id, file_path, status) VALUES (?, ?, ?)`,
		job.ID.String(), job.FilePath, string(job.Status),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *sqliteJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE extract_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(constants.JobStatusRunning), time.Now().UTC(), id.String(),
	)
	return err
}

func (r *sqliteJobRepository) Finish(ctx context.Context, id uuid.UUID, status constants.JobStatus, result []byte, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE extract_jobs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), result, errMsg, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

func (r *sqliteJobRepository) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	var job Job
	var rawID, status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, file_path, status, result, error, created_at, updated_at
		   FROM extract_jobs WHERE id = ?`, id.String(),
	).Scan(&rawID, &job.FilePath, &status, &job.Result, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: job %s", common.ErrNotFound, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	job.ID, err = uuid.Parse(rawID)
	if err != nil {
		return Job{}, fmt.Errorf("parse job id: %w", err)
	}
	job.Status = constants.JobStatus(status)
	return job, nil
}

func (r *sqliteJobRepository) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, file_path, status, result, error, created_at, updated_at
		   FROM extract_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var rawID, status string
		if err := rows.Scan(&rawID, &job.FilePath, &status, &job.Result, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.ID, err = uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse job id: %w", err)
		}
		job.Status = constants.JobStatus(status)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *sqliteJobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM extract_jobs WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s", common.ErrNotFound, id)
	}
	return nil
}
