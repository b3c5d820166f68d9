// Package pipeline coordinates the document extraction stages: OCR provider
// chain, quality gate, parallel extraction arbitration, and final validation,
// all wrapped in a per-run metrics context.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/arbiter"
	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/ocr"
	"github.com/fatura-ai/invoice-extractor/internal/quality"
	"github.com/fatura-ai/invoice-extractor/internal/validate"
)

// Result is the sole externally observable artifact of a pipeline run.
type Result struct {
	Status      constants.ResultStatus `json:"status"`
	Data        *invoice.Extraction    `json:"data,omitempty"`
	OCRText     string                 `json:"ocr_text,omitempty"`
	Validations *validate.Report       `json:"validations,omitempty"`
	Decision    *invoice.Decision      `json:"agent_decision,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metrics     Summary                `json:"pipeline_metrics"`
}

// Processor runs the full extraction pipeline for one document at a time.
// Stages execute strictly in sequence; concurrency lives inside the arbiter.
type Processor struct {
	chain   *ocr.Chain
	gate    *quality.Gate
	arbiter *arbiter.Arbiter
	taxRate float64
	logger  *slog.Logger
}

func NewProcessor(chain *ocr.Chain, gate *quality.Gate, arb *arbiter.Arbiter, taxRate float64, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if taxRate <= 0 {
		taxRate = validate.DefaultTaxRate
	}
	return &Processor{chain: chain, gate: gate, arbiter: arb, taxRate: taxRate, logger: logger}
}

// Process runs OCR, quality gating, arbitration, and validation over the
// file at path. Fatal stage failures produce an error-status result carrying
// the metrics collected so far; Process itself never returns an error.
func (p *Processor) Process(ctx context.Context, path string) Result {
	pipelineID := uuid.New().String()[:8]
	logger := p.logger.With("pipeline_id", pipelineID, "path", path)
	m := NewMetrics(pipelineID, logger)

	if _, err := os.Stat(path); err != nil {
		return errorResult(m, fmt.Errorf("%w: %s", common.ErrInputNotFound, path), "")
	}

	var ocrResult invoice.OCRResult
	err := m.Track("ocr", func(step *Step) error {
		var err error
		ocrResult, err = p.chain.ExtractWithFallback(ctx, path)
		if err != nil {
			return err
		}
		step.Provider = ocrResult.Provider
		step.Confidence = ocrResult.Confidence
		return nil
	})
	if err != nil {
		return errorResult(m, err, "")
	}

	if ocrResult.EmptyText() {
		return errorResult(m, common.ErrEmptyExtractedText, "")
	}

	_ = m.Track("quality", func(step *Step) error {
		assessment := p.gate.Assess(ctx, ocrResult)
		step.Confidence = assessment.Confidence
		if assessment.Quality == string(constants.QualityPoor) {
			logger.Warn("ocr quality poor, proceeding with extraction",
				"issues", assessment.Issues,
				"should_retry", assessment.ShouldRetry,
				"suggested_params", assessment.Params,
			)
		}
		return nil
	})

	var decision invoice.Decision
	err = m.Track("extraction", func(step *Step) error {
		var err error
		decision, err = p.arbiter.Decide(ctx, ocrResult.Text)
		if err != nil {
			return err
		}
		step.Confidence = decision.Confidence
		step.Provider = decision.SelectedSource
		return nil
	})
	if err != nil {
		return errorResult(m, err, ocrResult.Text)
	}

	var report validate.Report
	_ = m.Track("validation", func(step *Step) error {
		report = validate.Check(decision.Result, p.taxRate)
		return nil
	})

	return Result{
		Status:      constants.ResultOK,
		Data:        &decision.Result,
		OCRText:     ocrResult.Text,
		Validations: &report,
		Decision:    &decision,
		Metrics:     m.Summary(),
	}
}

func errorResult(m *Metrics, err error, ocrText string) Result {
	return Result{
		Status:  constants.ResultError,
		OCRText: ocrText,
		Error:   err.Error(),
		Metrics: m.Summary(),
	}
}
