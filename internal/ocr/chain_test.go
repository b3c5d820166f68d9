package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
)

type fakeProvider struct {
	name    string
	calls   int
	extract func(path, lang string) (invoice.OCRResult, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Extract(_ context.Context, path, lang string) (invoice.OCRResult, error) {
	f.calls++
	return f.extract(path, lang)
}

func fixed(name string, conf float32) *fakeProvider {
	p := &fakeProvider{name: name}
	p.extract = func(_, lang string) (invoice.OCRResult, error) {
		return invoice.OCRResult{Text: "text from " + name, Confidence: conf, Language: lang, Provider: name}, nil
	}
	return p
}

func failing(name string) *fakeProvider {
	return &fakeProvider{name: name, extract: func(_, _ string) (invoice.OCRResult, error) {
		return invoice.OCRResult{}, errors.New(name + " down")
	}}
}

func tempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("not a real png"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testChain(cfg ChainConfig, providers ...Provider) *Chain {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewChain(cfg, nil, nil, providers...)
}

func TestExtract_ShortCircuitsOnHighConfidence(t *testing.T) {
	// WHAT: A provider at or above the gate stops the chain.
	// WHY: Later providers must not run once a result is good enough.
	p1 := fixed("tesseract", 0.9)
	p2 := fixed("easyocr", 0.95)
	chain := testChain(ChainConfig{MinConfidence: 0.7}, p1, p2)

	res, err := chain.Extract(context.Background(), tempImage(t), "eng")
	if err != nil {
		t.Fatalf("extract = %v, want nil error", err)
	}
	if res.Provider != "tesseract" {
		t.Errorf("provider = %q, want tesseract", res.Provider)
	}
	if p2.calls != 0 {
		t.Errorf("second provider calls = %d, want 0", p2.calls)
	}
}

func TestExtract_KeepsBestLowConfidenceCandidate(t *testing.T) {
	// WHAT: When no provider clears the gate, the best candidate wins.
	// WHY: A poor scan should still yield the least bad result.
	p1 := fixed("tesseract", 0.3)
	p2 := fixed("easyocr", 0.4)
	chain := testChain(ChainConfig{MinConfidence: 0.7}, p1, p2)

	res, err := chain.Extract(context.Background(), tempImage(t), "eng")
	if err != nil {
		t.Fatalf("extract = %v, want nil error", err)
	}
	if res.Provider != "easyocr" || res.Confidence != 0.4 {
		t.Errorf("result = %+v, want easyocr at 0.4", res)
	}
	if p1.calls != 1 || p2.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", p1.calls, p2.calls)
	}
}

func TestExtract_FailedProviderFallsThrough(t *testing.T) {
	// WHAT: A crashed first provider leaves the second's low-confidence
	// result as the answer, not an error.
	// WHY: Degraded output beats total failure.
	p1 := failing("tesseract")
	p2 := fixed("easyocr", 0.4)
	chain := testChain(ChainConfig{MinConfidence: 0.5}, p1, p2)

	res, err := chain.Extract(context.Background(), tempImage(t), "eng")
	if err != nil {
		t.Fatalf("extract = %v, want nil error", err)
	}
	if res.Provider != "easyocr" || res.Confidence != 0.4 {
		t.Errorf("result = %+v, want easyocr at 0.4", res)
	}
}

func TestExtract_AllProvidersFailed(t *testing.T) {
	// WHAT: All providers erroring yields the aggregate sentinel.
	// WHY: The pipeline matches on this error to mark the run failed.
	chain := testChain(ChainConfig{MinConfidence: 0.7, MaxRetries: 2},
		failing("tesseract"), failing("easyocr"))

	_, err := chain.Extract(context.Background(), tempImage(t), "eng")
	if !errors.Is(err, common.ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestExtract_MissingInput(t *testing.T) {
	// WHAT: A nonexistent path fails before any provider runs.
	// WHY: Distinguishes caller mistakes from engine failures.
	p := fixed("tesseract", 0.9)
	chain := testChain(ChainConfig{}, p)

	_, err := chain.Extract(context.Background(), "/no/such/file.png", "eng")
	if !errors.Is(err, common.ErrInputNotFound) {
		t.Errorf("err = %v, want ErrInputNotFound", err)
	}
	if p.calls != 0 {
		t.Errorf("provider calls = %d, want 0", p.calls)
	}
}

func TestExtractWithFallback_HighConfidenceSkipsFallback(t *testing.T) {
	// WHAT: Confidence over the gate never tries the fallback language.
	// WHY: The second pass doubles engine cost for no benefit.
	p := fixed("tesseract", 0.9)
	chain := testChain(ChainConfig{Lang: "eng", FallbackLang: "tur", MinConfidence: 0.7}, p)

	res, err := chain.ExtractWithFallback(context.Background(), tempImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.RetryCount != 0 || res.Language != "eng" {
		t.Errorf("result = %+v, want primary-language result", res)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
}

func TestExtractWithFallback_FallbackLanguageWins(t *testing.T) {
	// WHAT: A higher-confidence fallback pass replaces the original and is
	// marked as a retry.
	// WHY: Turkish invoices scanned with an English model score low; the
	// second language pass recovers them.
	p := &fakeProvider{name: "tesseract"}
	p.extract = func(_, lang string) (invoice.OCRResult, error) {
		conf := float32(0.4)
		if lang == "tur" {
			conf = 0.65
		}
		return invoice.OCRResult{Text: "fatura", Confidence: conf, Language: lang, Provider: "tesseract"}, nil
	}
	chain := testChain(ChainConfig{Lang: "eng", FallbackLang: "tur", MinConfidence: 0.7}, p)

	res, err := chain.ExtractWithFallback(context.Background(), tempImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Language != "tur" || res.Confidence != 0.65 {
		t.Errorf("result = %+v, want fallback-language result", res)
	}
	if res.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", res.RetryCount)
	}
}

func TestExtractWithFallback_OriginalWinsOnTie(t *testing.T) {
	// WHAT: The fallback pass replaces the original only on strictly higher
	// confidence.
	// WHY: Equal results keep the primary language and RetryCount 0.
	p := fixed("tesseract", 0.4)
	chain := testChain(ChainConfig{Lang: "eng", FallbackLang: "tur", MinConfidence: 0.7}, p)

	res, err := chain.ExtractWithFallback(context.Background(), tempImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Language != "eng" || res.RetryCount != 0 {
		t.Errorf("result = %+v, want original kept", res)
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls)
	}
}

func TestExtractWithFallback_FallbackFailureKeepsOriginal(t *testing.T) {
	// WHAT: A failing fallback pass silently keeps the original result.
	// WHY: A degraded result beats no result.
	first := true
	p := &fakeProvider{name: "tesseract"}
	p.extract = func(_, _ string) (invoice.OCRResult, error) {
		if first {
			first = false
			return invoice.OCRResult{Text: "low", Confidence: 0.4, Language: "eng", Provider: "tesseract"}, nil
		}
		return invoice.OCRResult{}, errors.New("engine crashed")
	}
	chain := testChain(ChainConfig{Lang: "eng", FallbackLang: "tur", MinConfidence: 0.7}, p)

	res, err := chain.ExtractWithFallback(context.Background(), tempImage(t))
	if err != nil {
		t.Fatalf("extract = %v, want nil error despite fallback failure", err)
	}
	if res.Confidence != 0.4 || res.Language != "eng" {
		t.Errorf("result = %+v, want original result", res)
	}
}

func TestExtractWithProvider_SelectsByName(t *testing.T) {
	// WHAT: The named provider runs even when it is not first in the chain.
	// WHY: Callers can force a specific engine for comparison runs.
	p1 := fixed("tesseract", 0.9)
	p2 := fixed("easyocr", 0.5)
	chain := testChain(ChainConfig{}, p1, p2)

	res, err := chain.ExtractWithProvider(context.Background(), tempImage(t), "easyocr", "eng")
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != "easyocr" {
		t.Errorf("provider = %q, want easyocr", res.Provider)
	}
	if p1.calls != 0 {
		t.Errorf("first provider calls = %d, want 0", p1.calls)
	}
}

func TestExtractWithProvider_UnknownProvider(t *testing.T) {
	// WHAT: An unregistered provider name is an input error.
	// WHY: A typo'd engine name should fail loudly, not fall back.
	chain := testChain(ChainConfig{}, fixed("tesseract", 0.9))

	_, err := chain.ExtractWithProvider(context.Background(), tempImage(t), "paddleocr", "eng")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
