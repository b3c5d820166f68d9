package arbiter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/llm"
)

func f(v float64) *float64 { return &v }

func s(v string) *string { return &v }

type fakeExtractor struct {
	source string
	result invoice.Extraction
	err    error
	calls  int
}

func (f *fakeExtractor) Source() string { return f.source }

func (f *fakeExtractor) ExtractInvoice(_ context.Context, _ string) (invoice.Extraction, error) {
	f.calls++
	return f.result, f.err
}

type fakeJudge struct {
	calls    int
	decision invoice.Decision
	err      error
	lastReq  llm.JudgeRequest
}

func (f *fakeJudge) Judge(_ context.Context, req llm.JudgeRequest) (invoice.Decision, error) {
	f.calls++
	f.lastReq = req
	return f.decision, f.err
}

// fullResult is internally consistent: header complete, items complete,
// arithmetic valid with 18% tax. Scores 1.0.
func fullResult() invoice.Extraction {
	return invoice.Extraction{
		Header: invoice.Header{
			InvoiceNumber: s("2024-0042"),
			Date:          s("2024-03-15"),
			SupplierName:  s("Market AS"),
			TotalAmount:   f(118),
			Currency:      s("TRY"),
		},
		Items: []invoice.Item{
			{ProductName: s("Bread"), Quantity: f(2), UnitPrice: f(25), TotalPrice: f(50)},
			{ProductName: s("Milk"), Quantity: f(5), UnitPrice: f(10), TotalPrice: f(50)},
		},
	}
}

// sparseResult has one header field, no items, and a skipped tax check.
// Scores well below fullResult.
func sparseResult() invoice.Extraction {
	return invoice.Extraction{
		Header: invoice.Header{SupplierName: s("Market AS")},
	}
}

func TestScore_FullResult(t *testing.T) {
	// WHAT: A complete, arithmetically consistent candidate scores 1.0.
	// WHY: The score caps at 1.0 and a perfect extraction should reach it.
	a := New(nil, nil, 0.18, nil)
	if got := a.Score(fullResult()); got != 1.0 {
		t.Errorf("score = %f, want 1.0", got)
	}
}

func TestScore_SparseResult(t *testing.T) {
	// WHAT: A near-empty candidate scores its partial components only.
	// WHY: One header field of five (0.06), no items, and an all-skipped
	// validation pass (0.4) should land near 0.46.
	a := New(nil, nil, 0.18, nil)
	got := a.Score(sparseResult())
	if got < 0.45 || got > 0.47 {
		t.Errorf("score = %f, want ~0.46", got)
	}
}

func TestScore_InvalidItemsGetPartialCredit(t *testing.T) {
	// WHAT: Invalid arithmetic drops to fractional validation credit.
	// WHY: One valid item of two earns half the item credit.
	data := fullResult()
	data.Items[1].TotalPrice = f(99) // breaks item check and tax check
	a := New(nil, nil, 0.18, nil)
	full := a.Score(fullResult())
	broken := a.Score(data)
	if broken >= full {
		t.Errorf("broken = %f, full = %f, want broken < full", broken, full)
	}
}

func TestScore_Idempotent(t *testing.T) {
	// WHAT: Scoring the same candidate repeatedly yields the same value.
	// WHY: Score is a pure function of the candidate; ranking depends on it.
	a := New(nil, nil, 0.18, nil)
	data := fullResult()
	data.Items[0].TotalPrice = f(49) // arbitrary inconsistency
	first := a.Score(data)
	for i := 0; i < 3; i++ {
		if got := a.Score(data); got != first {
			t.Fatalf("score run %d = %f, want %f", i, got, first)
		}
	}
}

func TestDecide_NoBackends(t *testing.T) {
	// WHAT: Zero configured backends is an input error.
	// WHY: Misconfiguration must fail loudly at the first decision.
	a := New(nil, nil, 0.18, nil)
	_, err := a.Decide(context.Background(), "text")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDecide_SingleExtractorMode(t *testing.T) {
	// WHAT: One backend bypasses scoring comparison and the judge.
	// WHY: There is nothing to arbitrate.
	ext := &fakeExtractor{source: "openai:gpt-4o-mini", result: fullResult()}
	judge := &fakeJudge{}
	a := New([]llm.Extractor{ext}, judge, 0.18, nil)

	d, err := a.Decide(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if d.SelectedSource != "openai:gpt-4o-mini" {
		t.Errorf("source = %q", d.SelectedSource)
	}
	if !strings.Contains(d.Reasoning, "single extractor") {
		t.Errorf("reasoning = %q", d.Reasoning)
	}
	if judge.calls != 0 {
		t.Errorf("judge calls = %d, want 0", judge.calls)
	}
}

func TestDecide_SingleExtractorFailure(t *testing.T) {
	// WHAT: The only backend failing means no candidates at all.
	// WHY: Callers match on the aggregate sentinel.
	ext := &fakeExtractor{source: "openai", err: errors.New("down")}
	a := New([]llm.Extractor{ext}, &fakeJudge{}, 0.18, nil)

	_, err := a.Decide(context.Background(), "text")
	if !errors.Is(err, common.ErrAllBackendsFailed) {
		t.Errorf("err = %v, want ErrAllBackendsFailed", err)
	}
}

func TestDecide_PartialBackendFailure(t *testing.T) {
	// WHAT: One backend failing leaves the survivor's result standing.
	// WHY: Degraded arbitration beats a failed run.
	ok := &fakeExtractor{source: "openai", result: fullResult()}
	down := &fakeExtractor{source: "ollama", err: errors.New("connection refused")}
	a := New([]llm.Extractor{ok, down}, &fakeJudge{}, 0.18, nil)

	d, err := a.Decide(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if d.SelectedSource != "openai" {
		t.Errorf("source = %q, want openai", d.SelectedSource)
	}
	if !strings.Contains(d.Reasoning, "only one extraction succeeded") {
		t.Errorf("reasoning = %q", d.Reasoning)
	}
}

func TestDecide_AllBackendsFailed(t *testing.T) {
	// WHAT: Every backend failing is the aggregate error.
	// WHY: Distinguishes total failure from a degraded decision.
	a := New([]llm.Extractor{
		&fakeExtractor{source: "openai", err: errors.New("down")},
		&fakeExtractor{source: "ollama", err: errors.New("down")},
	}, &fakeJudge{}, 0.18, nil)

	_, err := a.Decide(context.Background(), "text")
	if !errors.Is(err, common.ErrAllBackendsFailed) {
		t.Errorf("err = %v, want ErrAllBackendsFailed", err)
	}
}

func TestDecide_ClearGapSkipsJudge(t *testing.T) {
	// WHAT: A score gap at or over the threshold decides heuristically.
	// WHY: A judge call costs money and adds nothing to a clear win.
	best := &fakeExtractor{source: "openai", result: fullResult()}
	worst := &fakeExtractor{source: "ollama", result: sparseResult()}
	judge := &fakeJudge{}
	a := New([]llm.Extractor{best, worst}, judge, 0.18, nil)

	d, err := a.Decide(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if d.SelectedSource != "openai" {
		t.Errorf("source = %q, want openai", d.SelectedSource)
	}
	if judge.calls != 0 {
		t.Errorf("judge calls = %d, want 0", judge.calls)
	}
	if !strings.Contains(d.Reasoning, "quality score") {
		t.Errorf("reasoning = %q", d.Reasoning)
	}
}

func TestDecide_NearTieGoesToJudge(t *testing.T) {
	// WHAT: Candidates within the gap threshold go to the judge, ordered
	// best first.
	// WHY: Scores cannot separate near-equal candidates.
	a1 := &fakeExtractor{source: "openai", result: fullResult()}
	a2 := &fakeExtractor{source: "ollama", result: fullResult()}
	judge := &fakeJudge{decision: invoice.Decision{
		SelectedSource: "ollama",
		Confidence:     0.9,
		Reasoning:      "better item granularity",
		Result:         fullResult(),
	}}
	a := New([]llm.Extractor{a1, a2}, judge, 0.18, nil)

	d, err := a.Decide(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if judge.calls != 1 {
		t.Fatalf("judge calls = %d, want 1", judge.calls)
	}
	if d.SelectedSource != "ollama" {
		t.Errorf("source = %q, want judge's pick", d.SelectedSource)
	}
	sources := map[string]bool{judge.lastReq.SourceA: true, judge.lastReq.SourceB: true}
	if !sources["openai"] || !sources["ollama"] {
		t.Errorf("judge saw %q vs %q, want both candidates", judge.lastReq.SourceA, judge.lastReq.SourceB)
	}
}

func TestDecide_JudgeHybridResultOverruled(t *testing.T) {
	// WHAT: A judge reply naming candidate A but carrying fields spliced from
	// candidate B is replaced with A's own extraction.
	// WHY: The decision must reference one of the candidates verbatim, never a
	// synthesized blend.
	resultA := fullResult()
	resultB := fullResult()
	resultB.Header.SupplierName = s("Bakkal Ltd")
	hybrid := fullResult()
	hybrid.Header.SupplierName = s("Bakkal Ltd") // B's supplier in A's result
	judge := &fakeJudge{decision: invoice.Decision{
		SelectedSource: "openai",
		Confidence:     0.9,
		Reasoning:      "cleaner header",
		Result:         hybrid,
	}}
	a := New([]llm.Extractor{
		&fakeExtractor{source: "openai", result: resultA},
		&fakeExtractor{source: "ollama", result: resultB},
	}, judge, 0.18, nil)

	d, err := a.Decide(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if d.SelectedSource != "openai" {
		t.Fatalf("source = %q, want openai", d.SelectedSource)
	}
	if got := *d.Result.Header.SupplierName; got != "Market AS" {
		t.Errorf("supplier = %q, want candidate's own %q", got, "Market AS")
	}
}

func TestDecide_JudgeUnknownSourceFallsBackToScore(t *testing.T) {
	// WHAT: A judge naming a source outside the candidate pair is ignored in
	// favor of the top-scored candidate.
	// WHY: An out-of-pair source means the judge's result cannot be mapped to
	// any candidate.
	judge := &fakeJudge{decision: invoice.Decision{
		SelectedSource: "gemini",
		Result:         sparseResult(),
	}}
	a := New([]llm.Extractor{
		&fakeExtractor{source: "openai", result: fullResult()},
		&fakeExtractor{source: "ollama", result: fullResult()},
	}, judge, 0.18, nil)

	d, err := a.Decide(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if d.SelectedSource != "openai" && d.SelectedSource != "ollama" {
		t.Errorf("source = %q, want one of the candidates", d.SelectedSource)
	}
	if !strings.Contains(d.Reasoning, "quality score") {
		t.Errorf("reasoning = %q, want score-based fallback", d.Reasoning)
	}
}

func TestDecide_JudgeFailureFallsBackToScore(t *testing.T) {
	// WHAT: A failing judge degrades to the top-scored candidate.
	// WHY: Arbitration must not fail just because the tiebreaker did.
	a1 := &fakeExtractor{source: "openai", result: fullResult()}
	a2 := &fakeExtractor{source: "ollama", result: fullResult()}
	judge := &fakeJudge{err: errors.New("judge down")}
	a := New([]llm.Extractor{a1, a2}, judge, 0.18, nil)

	d, err := a.Decide(context.Background(), "text")
	if err != nil {
		t.Fatalf("decide = %v, want nil error despite judge failure", err)
	}
	if d.SelectedSource != "openai" && d.SelectedSource != "ollama" {
		t.Errorf("source = %q, want one of the candidates", d.SelectedSource)
	}
	if !strings.Contains(d.Reasoning, "quality score") {
		t.Errorf("reasoning = %q, want score-based fallback", d.Reasoning)
	}
}
