package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
)

// TesseractConfig configures the primary OCR engine.
type TesseractConfig struct {
	Binary      string // binary name or absolute path; if empty -> "tesseract"
	TessdataDir string
	PSM         int // e.g., 6 is good for a uniform block of text
	OEM         int // 1 = LSTM; leave 0 to use default
}

type tesseractEngine struct {
	lang     string
	baseArgs []string
}

// Tesseract is the primary OCR provider. Engine handles are cached per
// language after the language pack is verified once.
type Tesseract struct {
	cfg     TesseractConfig
	runner  Runner
	logger  *slog.Logger
	engines *engineCache[tesseractEngine]
}

func NewTesseract(cfg TesseractConfig, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	return &Tesseract{
		cfg:     cfg,
		runner:  newExecRunner(logger),
		logger:  logger,
		engines: newEngineCache[tesseractEngine](),
	}
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) engine(ctx context.Context, lang string) (tesseractEngine, error) {
	return t.engines.get(lang, func() (tesseractEngine, error) {
		t.logger.Info("initializing tesseract engine", "lang", lang)
		out, _, err := t.runner.Run(ctx, t.cfg.Binary, "--list-langs")
		if err != nil {
			return tesseractEngine{}, fmt.Errorf("tesseract unavailable: %w", err)
		}
		found := false
		for _, ln := range strings.Split(string(out), "\n") {
			if strings.TrimSpace(ln) == lang {
				found = true
				break
			}
		}
		if !found {
			return tesseractEngine{}, fmt.Errorf("tesseract language %q not installed", lang)
		}

		args := []string{"-l", lang}
		if t.cfg.PSM > 0 {
			args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
		}
		if t.cfg.OEM > 0 {
			args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
		}
		if t.cfg.TessdataDir != "" {
			args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
		}
		return tesseractEngine{lang: lang, baseArgs: args}, nil
	})
}

func (t *Tesseract) Extract(ctx context.Context, path, lang string) (invoice.OCRResult, error) {
	eng, err := t.engine(ctx, lang)
	if err != nil {
		return invoice.OCRResult{}, err
	}

	args := append([]string{path, "stdout"}, eng.baseArgs...)
	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, args...)
	if err != nil {
		return invoice.OCRResult{}, fmt.Errorf("%w: tesseract: %v: %s",
			common.ErrEngineFailure, err, truncate(string(errb), 512))
	}
	txt := Normalize(string(out))

	conf, err := t.tsvConfidence(ctx, eng, path)
	if err != nil {
		// TSV pass is best-effort; fall back to text heuristics alone.
		t.logger.Warn("tesseract tsv confidence failed", "path", path, "error", err)
		conf = 0
	}
	heur := heuristicConfidence(txt)

	// blend: weight engine confidence higher when present
	var blended float32
	if conf > 0 {
		blended = 0.7*conf + 0.3*heur
	} else {
		blended = heur
	}
	if blended > 1.0 {
		blended = 1.0
	}

	return invoice.OCRResult{
		Text:       txt,
		Confidence: blended,
		Language:   lang,
		Provider:   t.Name(),
	}, nil
}

// tsvConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (t *Tesseract) tsvConfidence(ctx context.Context, eng tesseractEngine, path string) (float32, error) {
	args := append([]string{path, "stdout"}, eng.baseArgs...)
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w: %s", err, truncate(string(errb), 512))
	}

	lines := strings.Split(string(out), "\n")
	// conf column is the last; header line includes "conf"
	var sum, n float64
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue // skip header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[len(cols)-1]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	mean := sum / n // 0..100
	return float32(mean / 100.0), nil
}
