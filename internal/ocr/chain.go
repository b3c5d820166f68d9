package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/resil"
)

// PageBreak separates per-page texts in multi-page results.
const PageBreak = "\n\n--- Page Break ---\n\n"

// ChainConfig controls provider sequencing and language fallback.
type ChainConfig struct {
	Lang          string        // primary OCR language, default "eng"
	FallbackLang  string        // secondary language tried on low confidence
	MinConfidence float32       // short-circuit gate, default 0.7
	MaxRetries    int           // whole-extraction retry attempts
	RetryDelay    time.Duration // initial retry delay
}

// Chain tries an ordered, fixed list of providers until one clears the
// confidence gate, keeping the best low-confidence candidate as a fallback.
type Chain struct {
	cfg       ChainConfig
	providers []Provider
	raster    *Rasterizer
	logger    *slog.Logger
}

func NewChain(cfg ChainConfig, raster *Rasterizer, logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Chain{cfg: cfg, providers: providers, raster: raster, logger: logger}
}

// Extract runs the provider chain (fanning out per page for PDFs) with the
// configured retry policy around the whole pass.
func (c *Chain) Extract(ctx context.Context, path, lang string) (invoice.OCRResult, error) {
	if _, err := os.Stat(path); err != nil {
		return invoice.OCRResult{}, fmt.Errorf("%w: %s", common.ErrInputNotFound, path)
	}

	policy := resil.Policy{
		MaxAttempts: c.cfg.MaxRetries,
		Delay:       c.cfg.RetryDelay,
		Backoff:     2.0,
		Retryable: func(err error) bool {
			return ctx.Err() == nil
		},
	}
	return resil.Retry(ctx, policy, c.logger, func(ctx context.Context) (invoice.OCRResult, error) {
		return c.extractOnce(ctx, path, lang)
	})
}

// ExtractWithFallback extracts at the primary language and, when confidence
// stays under the gate, re-runs the whole pass at the fallback language.
// The higher-confidence attempt wins; only a replacement carries RetryCount=1.
// A fallback failure silently keeps the original result.
func (c *Chain) ExtractWithFallback(ctx context.Context, path string) (invoice.OCRResult, error) {
	result, err := c.Extract(ctx, path, c.cfg.Lang)
	if err != nil {
		return result, err
	}
	if result.Confidence >= c.cfg.MinConfidence || c.cfg.FallbackLang == "" || c.cfg.FallbackLang == c.cfg.Lang {
		return result, nil
	}

	c.logger.Info("ocr confidence below threshold, trying fallback language",
		"path", path,
		"confidence", result.Confidence,
		"fallback_lang", c.cfg.FallbackLang,
	)
	retry, err := c.extractOnce(ctx, path, c.cfg.FallbackLang)
	if err != nil {
		c.logger.Warn("fallback language attempt failed, keeping original",
			"path", path, "error", err)
		return result, nil
	}
	if retry.Confidence > result.Confidence {
		if constants.MapExtToFormat(filepath.Ext(path)) == constants.PDF {
			// page fan-out already tagged the winning provider
			retry.Provider = result.Provider
		}
		retry.RetryCount = 1
		return retry, nil
	}
	return result, nil
}

// ExtractWithProvider runs a single named provider, fanning out per page
// for PDFs.
func (c *Chain) ExtractWithProvider(ctx context.Context, path, providerName, lang string) (invoice.OCRResult, error) {
	if _, err := os.Stat(path); err != nil {
		return invoice.OCRResult{}, fmt.Errorf("%w: %s", common.ErrInputNotFound, path)
	}
	var provider Provider
	for _, p := range c.providers {
		if p.Name() == providerName {
			provider = p
			break
		}
	}
	if provider == nil {
		return invoice.OCRResult{}, fmt.Errorf("%w: unknown ocr provider %q", common.ErrInvalidInput, providerName)
	}

	run := func(ctx context.Context, pagePath, lang string) (invoice.OCRResult, error) {
		return provider.Extract(ctx, pagePath, lang)
	}
	if constants.MapExtToFormat(filepath.Ext(path)) == constants.PDF {
		return c.extractPDF(ctx, path, lang, run)
	}
	return run(ctx, path, lang)
}

func (c *Chain) extractOnce(ctx context.Context, path, lang string) (invoice.OCRResult, error) {
	if constants.MapExtToFormat(filepath.Ext(path)) == constants.PDF {
		return c.extractPDF(ctx, path, lang, c.runChain)
	}
	return c.runChain(ctx, path, lang)
}

// runChain tries providers strictly in order. A result at or above the gate
// short-circuits; lower-confidence successes are retained as candidates and
// the best one is returned once the list is exhausted.
func (c *Chain) runChain(ctx context.Context, path, lang string) (invoice.OCRResult, error) {
	var candidates []invoice.OCRResult

	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return invoice.OCRResult{}, err
		}
		result, err := p.Extract(ctx, path, lang)
		if err != nil {
			c.logger.Error("ocr provider failed", "provider", p.Name(), "path", path, "error", err)
			continue
		}
		if result.Confidence >= c.cfg.MinConfidence {
			c.logger.Info("ocr provider succeeded",
				"provider", p.Name(), "confidence", result.Confidence)
			return result, nil
		}
		c.logger.Warn("ocr provider low confidence",
			"provider", p.Name(), "confidence", result.Confidence)
		candidates = append(candidates, result)
	}

	if len(candidates) > 0 {
		best := candidates[0]
		for _, cand := range candidates[1:] {
			if cand.Confidence > best.Confidence {
				best = cand
			}
		}
		return best, nil
	}
	return invoice.OCRResult{}, common.ErrAllProvidersFailed
}

type pageExtractFn func(ctx context.Context, pagePath, lang string) (invoice.OCRResult, error)

// extractPDF rasterizes each page and runs extract over them sequentially to
// bound engine load. Page texts are joined by PageBreak and the overall
// confidence is the arithmetic mean of per-page confidences.
func (c *Chain) extractPDF(ctx context.Context, path, lang string, extract pageExtractFn) (invoice.OCRResult, error) {
	pages, cleanup, err := c.raster.Rasterize(ctx, path)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return invoice.OCRResult{}, err
	}
	if len(pages) == 0 {
		return invoice.OCRResult{Language: "unknown", Provider: "pdf"}, nil
	}

	var b strings.Builder
	var total float32
	provider := "unknown"
	for _, page := range pages {
		result, err := extract(ctx, page, lang)
		if err != nil {
			return invoice.OCRResult{}, err
		}
		if b.Len() > 0 {
			b.WriteString(PageBreak)
		}
		b.WriteString(result.Text)
		total += result.Confidence
		provider = result.Provider
	}

	return invoice.OCRResult{
		Text:       b.String(),
		Confidence: total / float32(len(pages)),
		Language:   lang,
		Provider:   provider + "+pdf",
	}, nil
}
