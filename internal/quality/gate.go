// Package quality decides whether OCR text is usable before any structured
// extraction is attempted: cheap deterministic heuristics first, a
// model-assisted assessment only when those pass.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/llm"
	"github.com/fatura-ai/invoice-extractor/internal/resil"
)

const (
	minTextLength     = 50  // invoices are rarely shorter
	maxSpecialRatio   = 0.3 // non-alphanumeric/non-space share before text counts as garbled
	heuristicPoorConf = 0.3
)

// retryParams maps each issue code to engine parameter adjustments for a
// re-scan. Values are merged across issues, later issues winning on conflict.
var retryParams = map[string]map[string]any{
	constants.IssueEmptyText:        {"psm": 11, "dpi": 400},
	constants.IssueTextTooShort:     {"psm": 6},
	constants.IssueNoNumbers:        {"oem": 1},
	constants.IssueExcessiveSpecial: {"psm": 6, "dpi": 300},
	constants.IssueLowConfidence:    {"dpi": 400},
}

// genericRetryParams is used when no reported issue matches the table.
var genericRetryParams = map[string]any{"psm": 3}

// Gate assesses OCR output quality.
type Gate struct {
	assessor llm.Assessor
	logger   *slog.Logger
}

func NewGate(assessor llm.Assessor, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{assessor: assessor, logger: logger}
}

// Assess evaluates the OCR result. Heuristic failures short-circuit without
// a backend call; a backend failure degrades to a deterministic verdict
// derived from the OCR confidence.
func (g *Gate) Assess(ctx context.Context, ocr invoice.OCRResult) invoice.Assessment {
	text := ocr.Text
	if strings.TrimSpace(text) == "" {
		g.logger.Warn("empty ocr text, marking as poor quality")
		return invoice.Assessment{
			Quality:     string(constants.QualityPoor),
			Confidence:  0.0,
			Issues:      []string{constants.IssueEmptyText},
			ShouldRetry: true,
			Params:      DeriveRetryParams([]string{constants.IssueEmptyText}),
		}
	}

	issues := heuristicIssues(text)
	if len(issues) >= 2 {
		g.logger.Info("quick quality check failed", "issues", issues)
		return invoice.Assessment{
			Quality:     string(constants.QualityPoor),
			Confidence:  heuristicPoorConf,
			Issues:      issues,
			ShouldRetry: true,
			Params:      DeriveRetryParams(issues),
		}
	}

	assessment, _ := resil.Fallback(ctx, g.logger, nil,
		func(ctx context.Context) (invoice.Assessment, error) {
			a, err := g.assessor.AssessText(ctx, text)
			if err != nil {
				return invoice.Assessment{}, fmt.Errorf("%w: %v", common.ErrAssessmentFailed, err)
			}
			if a.ShouldRetry && len(a.Params) == 0 {
				a.Params = DeriveRetryParams(a.Issues)
			}
			g.logger.Info("ocr quality assessed",
				"quality", a.Quality, "confidence", a.Confidence)
			return a, nil
		},
		func(ctx context.Context) (invoice.Assessment, error) {
			// Deterministic verdict from OCR confidence alone.
			quality := constants.QualityPoor
			if ocr.Confidence > 0.7 {
				quality = constants.QualityGood
			}
			return invoice.Assessment{
				Quality:     string(quality),
				Confidence:  ocr.Confidence,
				Issues:      []string{constants.IssueAssessmentFailed},
				ShouldRetry: ocr.Confidence < 0.5,
			}, nil
		},
	)
	return assessment
}

// heuristicIssues flags cheap, deterministic quality problems.
func heuristicIssues(text string) []string {
	var issues []string

	hasDigit := false
	special, total := 0, 0
	for _, r := range text {
		total++
		if unicode.IsDigit(r) {
			hasDigit = true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	// Lengths are in runes, not bytes: Turkish invoices are full of
	// multi-byte characters.
	if total < minTextLength {
		issues = append(issues, constants.IssueTextTooShort)
	}
	if !hasDigit {
		issues = append(issues, constants.IssueNoNumbers)
	}
	if float64(special)/float64(total) > maxSpecialRatio {
		issues = append(issues, constants.IssueExcessiveSpecial)
	}
	return issues
}

// DeriveRetryParams unions the parameter sets of all reported issues; later
// issues win on key conflicts. Unmatched issue sets get a generic adjustment.
func DeriveRetryParams(issues []string) map[string]any {
	params := map[string]any{}
	for _, issue := range issues {
		for k, v := range retryParams[issue] {
			params[k] = v
		}
	}
	if len(params) == 0 {
		for k, v := range genericRetryParams {
			params[k] = v
		}
	}
	return params
}
