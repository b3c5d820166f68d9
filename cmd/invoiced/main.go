package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fatura-ai/invoice-extractor/internal/arbiter"
	"github.com/fatura-ai/invoice-extractor/internal/async"
	"github.com/fatura-ai/invoice-extractor/internal/common"
	"github.com/fatura-ai/invoice-extractor/internal/export"
	"github.com/fatura-ai/invoice-extractor/internal/llm"
	"github.com/fatura-ai/invoice-extractor/internal/llm/ollama"
	"github.com/fatura-ai/invoice-extractor/internal/llm/openai"
	"github.com/fatura-ai/invoice-extractor/internal/ocr"
	"github.com/fatura-ai/invoice-extractor/internal/pipeline"
	"github.com/fatura-ai/invoice-extractor/internal/quality"
	"github.com/fatura-ai/invoice-extractor/internal/repository"
	"github.com/fatura-ai/invoice-extractor/internal/server"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfigFile(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.Server.DataDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Job store: Postgres when DB_URL is set, SQLite file otherwise.
	var jobs repository.JobRepository
	if cfg.Database.DSN != "" {
		pool, err := repository.Open(ctx, repository.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
		}, logger)
		if err != nil {
			logger.Error("failed to open database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout, logger); err != nil {
			logger.Error("database health check failed", "error", err)
			os.Exit(1)
		}
		jobs, err = repository.NewPgJobRepository(pool, logger)
		if err != nil {
			logger.Error("failed to initialize job store", "error", err)
			os.Exit(1)
		}
	} else {
		dsn := cfg.Server.DataDir + "/jobs.db"
		repo, db, err := repository.OpenSQLite(dsn, logger)
		if err != nil {
			logger.Error("failed to open sqlite job store", "dsn", dsn, "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()
		logger.Info("using sqlite job store", "dsn", dsn)
		jobs = repo
	}

	// OCR provider chain.
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
	chain := ocr.NewChain(ocr.ChainConfig{
		Lang:          cfg.OCR.Lang,
		FallbackLang:  cfg.OCR.FallbackLang,
		MinConfidence: cfg.OCR.MinConfidence,
		MaxRetries:    cfg.OCR.MaxRetries,
		RetryDelay:    cfg.OCR.RetryDelay,
	}, raster, logger, tess, easy)

	// LLM backends.
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
	proc := pipeline.NewProcessor(chain, gate, arb, cfg.Pipeline.TaxRate, logger)

	queue := async.NewProcessorQueue(proc, jobs, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)

	exp := export.NewService(jobs, logger)
	api := server.New(cfg.Server.DataDir, queue, jobs, exp, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP serving", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve failed", "error", err)
			stop()
		}
	}()

	// gRPC health endpoint for load balancers and grpcurl checks.
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen failed", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("gRPC serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	queue.Shutdown(shutdownCtx)
	fmt.Println("stopped.")
}
