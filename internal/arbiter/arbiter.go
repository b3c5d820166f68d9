// Package arbiter fans OCR text out to every configured extraction backend
// concurrently, scores the candidates that come back, and reconciles them
// into a single decision.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/llm"
	"github.com/fatura-ai/invoice-extractor/internal/validate"
)

// scoreGapThreshold separates a clear winner from a near-tie that goes to
// the judge backend.
const scoreGapThreshold = 0.15

// Candidate is one backend's successful extraction.
type Candidate struct {
	Source string
	Result invoice.Extraction
}

type scored struct {
	Candidate
	score float32
}

// Arbiter coordinates the extraction backends and the judge.
type Arbiter struct {
	extractors []llm.Extractor
	judge      llm.Judge
	taxRate    float64
	logger     *slog.Logger
}

func New(extractors []llm.Extractor, judge llm.Judge, taxRate float64, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	if taxRate <= 0 {
		taxRate = validate.DefaultTaxRate
	}
	return &Arbiter{extractors: extractors, judge: judge, taxRate: taxRate, logger: logger}
}

// Decide runs every backend over the text and arbitrates among the results.
// It fails only when no backend produces a candidate.
func (a *Arbiter) Decide(ctx context.Context, ocrText string) (invoice.Decision, error) {
	if len(a.extractors) == 0 {
		return invoice.Decision{}, fmt.Errorf("%w: no extraction backends configured", common.ErrInvalidInput)
	}

	if len(a.extractors) == 1 {
		ext := a.extractors[0]
		result, err := ext.ExtractInvoice(ctx, ocrText)
		if err != nil {
			return invoice.Decision{}, fmt.Errorf("%w: %v", common.ErrAllBackendsFailed, err)
		}
		return invoice.Decision{
			SelectedSource: ext.Source(),
			Confidence:     a.Score(result),
			Reasoning:      "single extractor mode",
			Result:         result,
		}, nil
	}

	candidates := a.runAll(ctx, ocrText)
	if len(candidates) == 0 {
		return invoice.Decision{}, common.ErrAllBackendsFailed
	}
	if len(candidates) == 1 {
		only := candidates[0]
		return invoice.Decision{
			SelectedSource: only.Source,
			Confidence:     a.Score(only.Result),
			Reasoning:      "only one extraction succeeded",
			Result:         only.Result,
		}, nil
	}

	ranked := a.rank(candidates)
	gap := ranked[0].score - ranked[1].score
	if gap >= scoreGapThreshold {
		a.logger.Info("clear score difference, using heuristic selection",
			"best", ranked[0].Source, "gap", gap)
		return heuristicDecision(ranked), nil
	}

	a.logger.Info("scores are close, asking judge",
		"a", ranked[0].Source, "b", ranked[1].Source, "gap", gap)
	decision, err := a.judge.Judge(ctx, llm.JudgeRequest{
		SourceA: ranked[0].Source,
		ResultA: ranked[0].Result,
		SourceB: ranked[1].Source,
		ResultB: ranked[1].Result,
		OCRText: ocrText,
	})
	if err != nil {
		a.logger.Warn("judge failed, falling back to score-based selection",
			"error", fmt.Errorf("%w: %v", common.ErrJudgeFailed, err))
		return heuristicDecision(ranked), nil
	}
	// The decision must carry one of the two candidates verbatim. A judge
	// that names a source outside the pair, or splices fields from both
	// results, is overruled here.
	for _, cand := range ranked[:2] {
		if decision.SelectedSource == cand.Source {
			decision.Result = cand.Result
			return decision, nil
		}
	}
	a.logger.Warn("judge selected unknown source, falling back to score-based selection",
		"selected", decision.SelectedSource)
	return heuristicDecision(ranked), nil
}

// runAll invokes every backend concurrently. A backend failure drops only
// that backend's contribution; completion order is irrelevant because
// results are keyed by source.
func (a *Arbiter) runAll(ctx context.Context, ocrText string) []Candidate {
	type outcome struct {
		source string
		result invoice.Extraction
		err    error
	}

	ch := make(chan outcome, len(a.extractors))
	var wg sync.WaitGroup
	for _, ext := range a.extractors {
		wg.Add(1)
		go func(ext llm.Extractor) {
			defer wg.Done()
			result, err := ext.ExtractInvoice(ctx, ocrText)
			ch <- outcome{source: ext.Source(), result: result, err: err}
		}(ext)
	}
	wg.Wait()
	close(ch)

	var candidates []Candidate
	for out := range ch {
		if out.err != nil {
			a.logger.Error("extraction backend failed", "source", out.source, "error", out.err)
			continue
		}
		a.logger.Info("extraction completed", "source", out.source, "items", len(out.result.Items))
		candidates = append(candidates, Candidate{Source: out.source, Result: out.result})
	}
	return candidates
}

// Score rates completeness and internal consistency of a candidate in [0,1]:
// 0.3 header completeness, 0.2 items present, 0.1 item-field completeness,
// 0.4 validation (partial credit for valid items and a valid tax check).
func (a *Arbiter) Score(extraction invoice.Extraction) float32 {
	var score float32

	h := extraction.Header
	headerFields := []bool{
		h.InvoiceNumber != nil,
		h.Date != nil,
		h.SupplierName != nil,
		h.TotalAmount != nil,
		h.Currency != nil,
	}
	present := 0
	for _, ok := range headerFields {
		if ok {
			present++
		}
	}
	score += float32(present) / float32(invoice.HeaderFieldCount) * 0.3

	if len(extraction.Items) > 0 {
		score += 0.2
		filled := 0
		for _, item := range extraction.Items {
			for _, ok := range []bool{
				item.ProductName != nil,
				item.Quantity != nil,
				item.UnitPrice != nil,
				item.TotalPrice != nil,
			} {
				if ok {
					filled++
				}
			}
		}
		score += float32(filled) / float32(len(extraction.Items)*invoice.ItemFieldCount) * 0.1
	}

	report := validate.Check(extraction, a.taxRate)
	if report.AllValid {
		score += 0.4
	} else {
		if n := len(report.ItemCalculations); n > 0 {
			valid := 0
			for _, c := range report.ItemCalculations {
				if c.Valid {
					valid++
				}
			}
			score += float32(valid) / float32(n) * 0.2
		}
		if report.TaxValidation.Valid {
			score += 0.2
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (a *Arbiter) rank(candidates []Candidate) []scored {
	ranked := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		ranked = append(ranked, scored{Candidate: cand, score: a.Score(cand.Result)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

func heuristicDecision(ranked []scored) invoice.Decision {
	best := ranked[0]
	reasoning := fmt.Sprintf("selected based on quality score: %.2f", best.score)
	if len(ranked) > 1 {
		reasoning += fmt.Sprintf(" (vs %s: %.2f)", ranked[1].Source, ranked[1].score)
	}
	return invoice.Decision{
		SelectedSource: best.Source,
		Confidence:     best.score,
		Reasoning:      reasoning,
		Result:         best.Result,
	}
}
