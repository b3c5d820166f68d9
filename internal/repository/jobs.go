package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fatura-ai/invoice-extractor/constants"
)

// Job is one queued pipeline run and, once finished, its result record.
type Job struct {
	ID        uuid.UUID
	FilePath  string
	Status    constants.JobStatus
	Result    []byte // pipeline.Result JSON, set on completion
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobRepository stores pipeline jobs. Implementations: Postgres (pgx) and
// SQLite (modernc).
type JobRepository interface {
	Create(ctx context.Context, job Job) error
	MarkRunning(ctx context.Context, id uuid.UUID) error
	// Finish stores the result record and the terminal status.
	Finish(ctx context.Context, id uuid.UUID, status constants.JobStatus, result []byte, errMsg string) error
	Get(ctx context.Context, id uuid.UUID) (Job, error)
	// List returns all jobs ordered by creation time.
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
