package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/arbiter"
	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/export"
	"github.com/fatura-ai/invoice-extractor/internal/llm"
	"github.com/fatura-ai/invoice-extractor/internal/llm/ollama"
	"github.com/fatura-ai/invoice-extractor/internal/llm/openai"
	"github.com/fatura-ai/invoice-extractor/internal/ocr"
	"github.com/fatura-ai/invoice-extractor/internal/pipeline"
	"github.com/fatura-ai/invoice-extractor/internal/quality"
	"github.com/fatura-ai/invoice-extractor/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		configPath = flag.String("config", "", "optional YAML config file")
		dir        = flag.String("dir", "", "directory of invoice files to process")
		file       = flag.String("file", "", "single invoice file to process")
		out        = flag.String("out", "", "output XLSX file path (optional)")
		inmem      = flag.Bool("inmem", false, "use in-memory SQLite database")
		provider   = flag.String("provider", "", "run OCR only, using the named provider (tesseract, easyocr)")
		lang       = flag.String("lang", "", "OCR language override")
	)
	flag.Parse()

	if *dir == "" && *file == "" {
		printError("Error: --dir or --file is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfigFile(*configPath)
	if err != nil {
		printError("Error: loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *lang != "" {
		cfg.OCR.Lang = *lang
	}

	ctx := context.Background()

	files, err := collectFiles(*dir, *file)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		printError("Error: no supported invoice files found\n")
		os.Exit(1)
	}

	chain := buildChain(cfg, logger)

	// OCR-only mode skips the LLM stages entirely.
	if *provider != "" {
		runOCROnly(ctx, chain, files, *provider, cfg.OCR.Lang)
		return
	}

	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	dsn := "batch-jobs.db"
	if *inmem {
		dsn = ":memory:"
	}
	jobs, db, err := repository.OpenSQLite(dsn, logger)
	if err != nil {
		printError("Error: opening job store: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	proc := buildProcessor(cfg, chain, logger)

	var failed int
	for _, path := range files {
		jobID := uuid.New()
		if err := jobs.Create(ctx, repository.Job{
			ID:       jobID,
			FilePath: path,
			Status:   constants.JobStatusRunning,
		}); err != nil {
			printError("Error: recording job for %s: %v\n", path, err)
			failed++
			continue
		}

		result := proc.Process(ctx, path)
		raw, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			printError("Error: encoding result for %s: %v\n", path, err)
			failed++
			continue
		}

		status := constants.JobStatusCompleted
		if result.Status == constants.ResultError {
			status = constants.JobStatusFailed
			failed++
		}
		if err := jobs.Finish(ctx, jobID, status, raw, result.Error); err != nil {
			printError("Error: storing result for %s: %v\n", path, err)
		}
		fmt.Printf("%s:\n%s\n", path, raw)
	}

	if *out != "" {
		exp := export.NewService(jobs, logger)
		data, err := exp.ExportXLSX(ctx)
		if err != nil {
			printError("Error: exporting XLSX: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			printError("Error: writing %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("exported %s\n", *out)
	}

	if failed > 0 {
		printError("%d of %d files failed\n", failed, len(files))
		os.Exit(1)
	}
}

func collectFiles(dir, file string) ([]string, error) {
	if file != "" {
		return []string{file}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := constants.NormalizeExt(filepath.Ext(e.Name()))
		if _, ok := constants.AllowedExtensions[ext]; ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func buildChain(cfg *common.Config, logger *slog.Logger) *ocr.Chain {
	raster := ocr.NewRasterizer(ocr.RasterConfig{
		Pdftoppm: cfg.OCR.Pdftoppm,
		DPI:      cfg.OCR.DPI,
		MaxPages: cfg.OCR.MaxPages,
	}, logger)
	tess := ocr.NewTesseract(ocr.TesseractConfig{
		Binary:      cfg.OCR.Tesseract,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)
	easy := ocr.NewEasyOCR(ocr.EasyOCRConfig{Binary: cfg.OCR.EasyOCR}, logger)
	return ocr.NewChain(ocr.ChainConfig{
		Lang:          cfg.OCR.Lang,
		FallbackLang:  cfg.OCR.FallbackLang,
		MinConfidence: cfg.OCR.MinConfidence,
		MaxRetries:    cfg.OCR.MaxRetries,
		RetryDelay:    cfg.OCR.RetryDelay,
	}, raster, logger, tess, easy)
}

func buildProcessor(cfg *common.Config, chain *ocr.Chain, logger *slog.Logger) *pipeline.Processor {
	openaiClient := openai.New(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	extractors := []llm.Extractor{openaiClient}
	if cfg.LLM.ParallelEnabled {
		extractors = append(extractors, ollama.New(ollama.Config{
			Host:    cfg.LLM.OllamaHost,
			Model:   cfg.LLM.OllamaModel,
			Timeout: cfg.LLM.Timeout,
		}, logger))
	}
	gate := quality.NewGate(openaiClient, logger)
	arb := arbiter.New(extractors, openaiClient, cfg.Pipeline.TaxRate, logger)
	return pipeline.NewProcessor(chain, gate, arb, cfg.Pipeline.TaxRate, logger)
}

func runOCROnly(ctx context.Context, chain *ocr.Chain, files []string, provider, lang string) {
	var failed int
	for _, path := range files {
		start := time.Now()
		res, err := chain.ExtractWithProvider(ctx, path, strings.ToLower(provider), lang)
		if err != nil {
			printError("Error: %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("=== %s (provider=%s confidence=%.2f elapsed=%s)\n%s\n",
			path, res.Provider, res.Confidence, time.Since(start).Round(time.Millisecond), res.Text)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
