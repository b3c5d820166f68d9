package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/pipeline"
	"github.com/fatura-ai/invoice-extractor/internal/repository"
)

// Service is a tiny façade over the job repository that produces XLSX bytes
// for completed extractions.
type Service struct {
	jobs   repository.JobRepository
	logger *slog.Logger
}

func NewService(jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// ExportXLSX returns a workbook with one row per extracted line item, header
// fields repeated per row. Jobs without a completed result are skipped.
func (s *Service) ExportXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Invoices"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Job ID",
		"Invoice Number",
		"Date",
		"Supplier",
		"Currency",
		"Invoice Total",
		"Item",
		"Quantity",
		"Unit Price",
		"Line Total",
		"All Valid",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	row := 2
	exported := 0
	for _, job := range jobs {
		if job.Status != constants.JobStatusCompleted || len(job.Result) == 0 {
			continue
		}
		var result pipeline.Result
		if err := json.Unmarshal(job.Result, &result); err != nil {
			s.logger.Warn("skipping job with unreadable result", "job_id", job.ID, "error", err)
			continue
		}
		if result.Data == nil {
			continue
		}

		allValid := result.Validations != nil && result.Validations.AllValid
		if len(result.Data.Items) == 0 {
			writeRow(f, sheet, row, job.ID.String(), result.Data.Header, invoice.Item{}, allValid)
			row++
		}
		for _, item := range result.Data.Items {
			writeRow(f, sheet, row, job.ID.String(), result.Data.Header, item, allValid)
			row++
		}
		exported++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("exported invoices",
		"jobs", exported,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, jobID string, h invoice.Header, item invoice.Item, allValid bool) {
	values := []any{
		jobID,
		deref(h.InvoiceNumber),
		deref(h.Date),
		deref(h.SupplierName),
		deref(h.Currency),
		derefF(h.TotalAmount),
		deref(item.ProductName),
		derefF(item.Quantity),
		derefF(item.UnitPrice),
		derefF(item.TotalPrice),
		allValid,
	}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefF(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
