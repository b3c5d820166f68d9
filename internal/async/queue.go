// Package async runs pipeline jobs on an in-process worker pool with
// backpressure and graceful shutdown.
package async

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/pipeline"
	"github.com/fatura-ai/invoice-extractor/internal/repository"
)

// Job is the smallest useful unit of queued work.
type Job struct {
	ID          uuid.UUID
	FilePath    string
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// ProcessorQueue feeds jobs through the pipeline processor and persists each
// result record.
type ProcessorQueue struct {
	proc    *pipeline.Processor
	jobs    repository.JobRepository
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc *pipeline.Processor, jobs repository.JobRepository, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		jobs:    jobs,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	if err := q.jobs.MarkRunning(ctx, job.ID); err != nil {
		q.logger.Error("failed to mark job running", "worker_id", workerID, "job_id", job.ID, "error", err)
	}

	result := q.proc.Process(ctx, job.FilePath)

	raw, err := json.Marshal(result)
	if err != nil {
		q.logger.Error("failed to encode result", "worker_id", workerID, "job_id", job.ID, "error", err)
		raw = nil
	}

	status := constants.JobStatusCompleted
	if result.Status == constants.ResultError {
		status = constants.JobStatusFailed
	}
	if err := q.jobs.Finish(ctx, job.ID, status, raw, result.Error); err != nil {
		q.logger.Error("failed to persist result", "worker_id", workerID, "job_id", job.ID, "error", err)
		return
	}

	if result.Status == constants.ResultError {
		q.logger.Error("processing failed", "worker_id", workerID, "job_id", job.ID, "error", result.Error)
	} else {
		q.logger.Info("processed job successfully", "worker_id", workerID, "job_id", job.ID)
	}
}

func (q *ProcessorQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.ID)
		return nil
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued job for processing", "job_id", job.ID, "path", job.FilePath)
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", job.ID)
		q.ch <- job
	}
	return nil
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
