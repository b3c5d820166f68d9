package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/common"
)

func openTestRepo(t *testing.T) JobRepository {
	t.Helper()
	repo, db, err := OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return repo
}

func TestSQLiteJobs_Lifecycle(t *testing.T) {
	// WHAT: Create, mark running, finish, and read back one job.
	// WHY: The worker drives exactly this sequence for every upload.
	repo := openTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	if err := repo.Create(ctx, Job{ID: id, FilePath: "/data/scan.png", Status: constants.JobStatusQueued}); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkRunning(ctx, id); err != nil {
		t.Fatal(err)
	}
	result := []byte(`{"status":"ok"}`)
	if err := repo.Finish(ctx, id, constants.JobStatusCompleted, result, ""); err != nil {
		t.Fatal(err)
	}

	job, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != constants.JobStatusCompleted {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if string(job.Result) != `{"status":"ok"}` {
		t.Errorf("result = %q", job.Result)
	}
	if job.FilePath != "/data/scan.png" {
		t.Errorf("file path = %q", job.FilePath)
	}
}

func TestSQLiteJobs_FailedJobKeepsError(t *testing.T) {
	// WHAT: A failed job stores its error message alongside the record.
	// WHY: The status endpoint surfaces the message to the caller.
	repo := openTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	if err := repo.Create(ctx, Job{ID: id, FilePath: "/data/bad.pdf", Status: constants.JobStatusQueued}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Finish(ctx, id, constants.JobStatusFailed, []byte(`{"status":"error"}`), "no text extracted"); err != nil {
		t.Fatal(err)
	}
	job, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != constants.JobStatusFailed || job.Error != "no text extracted" {
		t.Errorf("job = %+v, want failed with message", job)
	}
}

func TestSQLiteJobs_GetMissing(t *testing.T) {
	// WHAT: An unknown id is the not-found sentinel.
	// WHY: The HTTP layer maps it to a 404.
	repo := openTestRepo(t)
	_, err := repo.Get(context.Background(), uuid.New())
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteJobs_ListAndDelete(t *testing.T) {
	// WHAT: List returns every row; Delete removes one and flags repeats.
	// WHY: The export path lists jobs, DELETE /invoices drops them.
	repo := openTestRepo(t)
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := repo.Create(ctx, Job{ID: id, FilePath: "/data/x.png", Status: constants.JobStatusQueued}); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}

	if err := repo.Delete(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, ids[0]); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	jobs, err = repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != ids[1] {
		t.Errorf("jobs = %+v, want the surviving job", jobs)
	}
}
