package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
)

// EasyOCRConfig configures the fallback OCR engine. Binary points at an
// easyocr CLI wrapper that prints one JSON object per recognized line:
// {"text": "...", "confidence": 0.93}.
type EasyOCRConfig struct {
	Binary   string // if empty -> "easyocr"
	ModelDir string // passed through when set
}

type easyocrEngine struct {
	lang string // easyocr language code, e.g. "en", "tr"
}

// EasyOCR is the fallback OCR provider.
type EasyOCR struct {
	cfg     EasyOCRConfig
	runner  Runner
	logger  *slog.Logger
	engines *engineCache[easyocrEngine]
}

func NewEasyOCR(cfg EasyOCRConfig, logger *slog.Logger) *EasyOCR {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "easyocr"
	}
	return &EasyOCR{
		cfg:     cfg,
		runner:  newExecRunner(logger),
		logger:  logger,
		engines: newEngineCache[easyocrEngine](),
	}
}

func (e *EasyOCR) Name() string { return "easyocr" }

// easyocr uses two-letter language codes while the chain speaks ISO 639-2
// (tesseract convention). Unknown codes pass through unchanged.
var easyocrLangs = map[string]string{
	"eng": "en",
	"tur": "tr",
	"deu": "de",
	"fra": "fr",
}

func (e *EasyOCR) engine(lang string) (easyocrEngine, error) {
	return e.engines.get(lang, func() (easyocrEngine, error) {
		e.logger.Info("initializing easyocr reader", "lang", lang)
		code := lang
		if mapped, ok := easyocrLangs[lang]; ok {
			code = mapped
		}
		return easyocrEngine{lang: code}, nil
	})
}

func (e *EasyOCR) Extract(ctx context.Context, path, lang string) (invoice.OCRResult, error) {
	eng, err := e.engine(lang)
	if err != nil {
		return invoice.OCRResult{}, err
	}

	args := []string{"-l", eng.lang, "-f", path}
	if e.cfg.ModelDir != "" {
		args = append(args, "--model_storage_directory", e.cfg.ModelDir)
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Binary, args...)
	if err != nil {
		return invoice.OCRResult{}, fmt.Errorf("%w: easyocr: %v: %s",
			common.ErrEngineFailure, err, truncate(string(errb), 512))
	}

	var texts []string
	var sum float64
	var n int
	for _, ln := range strings.Split(string(out), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		var rec struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(ln), &rec); err != nil {
			e.logger.Warn("easyocr: skipping unparsable line", "line", truncate(ln, 200), "error", err)
			continue
		}
		if rec.Text == "" {
			continue
		}
		texts = append(texts, rec.Text)
		sum += rec.Confidence
		n++
	}

	if n == 0 {
		return invoice.OCRResult{Language: lang, Provider: e.Name()}, nil
	}

	return invoice.OCRResult{
		Text:       Normalize(strings.Join(texts, "\n")),
		Confidence: float32(sum / float64(n)),
		Language:   lang,
		Provider:   e.Name(),
	}, nil
}
