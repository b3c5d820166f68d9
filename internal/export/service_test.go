package export

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/pipeline"
	"github.com/fatura-ai/invoice-extractor/internal/repository"
	"github.com/fatura-ai/invoice-extractor/internal/validate"
)

type fakeJobs struct {
	jobs []repository.Job
}

func (f *fakeJobs) Create(context.Context, repository.Job) error { return nil }

func (f *fakeJobs) MarkRunning(context.Context, uuid.UUID) error { return nil }

func (f *fakeJobs) Get(context.Context, uuid.UUID) (repository.Job, error) {
	return repository.Job{}, nil
}

func (f *fakeJobs) Delete(context.Context, uuid.UUID) error { return nil }

func (f *fakeJobs) Finish(context.Context, uuid.UUID, constants.JobStatus, []byte, string) error {
	return nil
}

func (f *fakeJobs) List(context.Context) ([]repository.Job, error) {
	return f.jobs, nil
}

func s(v string) *string { return &v }

func fp(v float64) *float64 { return &v }

func completedJob(t *testing.T, items []invoice.Item) repository.Job {
	t.Helper()
	result := pipeline.Result{
		Status: constants.ResultOK,
		Data: &invoice.Extraction{
			Header: invoice.Header{
				InvoiceNumber: s("2024-0042"),
				SupplierName:  s("Market AS"),
				TotalAmount:   fp(118),
				Currency:      s("TRY"),
			},
			Items: items,
		},
		Validations: &validate.Report{AllValid: true},
	}
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	return repository.Job{ID: uuid.New(), Status: constants.JobStatusCompleted, Result: raw}
}

func TestExportXLSX_RowPerItem(t *testing.T) {
	// WHAT: Each line item becomes one row; header fields repeat per row.
	// WHY: Spreadsheet consumers filter and sum on flat rows.
	job := completedJob(t, []invoice.Item{
		{ProductName: s("Bread"), Quantity: fp(2), UnitPrice: fp(25), TotalPrice: fp(50)},
		{ProductName: s("Milk"), Quantity: fp(5), UnitPrice: fp(10), TotalPrice: fp(50)},
	})
	svc := NewService(&fakeJobs{jobs: []repository.Job{job}}, nil)

	data, err := svc.ExportXLSX(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 items", len(rows))
	}
	if rows[0][0] != "Job ID" || rows[0][6] != "Item" {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[1][6] != "Bread" || rows[2][6] != "Milk" {
		t.Errorf("item cells = %q/%q", rows[1][6], rows[2][6])
	}
	if rows[1][3] != "Market AS" || rows[2][3] != "Market AS" {
		t.Errorf("supplier cells = %q/%q, want repeated", rows[1][3], rows[2][3])
	}
}

func TestExportXLSX_ItemlessInvoiceGetsOneRow(t *testing.T) {
	// WHAT: A completed extraction without items still exports its header.
	// WHY: Header-only invoices must not vanish from the workbook.
	job := completedJob(t, nil)
	svc := NewService(&fakeJobs{jobs: []repository.Job{job}}, nil)

	data, err := svc.ExportXLSX(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if rows[1][1] != "2024-0042" {
		t.Errorf("invoice number cell = %q", rows[1][1])
	}
}

func TestExportXLSX_SkipsUnfinishedJobs(t *testing.T) {
	// WHAT: Queued, running, and failed jobs are excluded.
	// WHY: Only completed results carry exportable data.
	done := completedJob(t, []invoice.Item{{ProductName: s("Bread")}})
	pendingID := uuid.New()
	svc := NewService(&fakeJobs{jobs: []repository.Job{
		{ID: pendingID, Status: constants.JobStatusQueued},
		{ID: uuid.New(), Status: constants.JobStatusFailed, Result: []byte(`{"status":"error"}`)},
		done,
	}}, nil)

	data, err := svc.ExportXLSX(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Invoices")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1 completed job", len(rows))
	}
	if rows[1][0] == pendingID.String() {
		t.Error("queued job leaked into the export")
	}
}
